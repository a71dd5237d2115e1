/*
Package clients provides client libraries for the shard recovery API.

RecoveryClient wraps the full API surface: session creation, shard
submission and verification, and the read-only status queries. Mutating
requests are signed with the guardian's secp256k1 key; the server recovers
the signer from the signature over the request path and body and matches it
against the claimed guardian address.

# Example Usage

	key, _ := crypto.HexToECDSA("your-private-key-hex")
	client := clients.NewRecoveryClient("http://127.0.0.1:8080", key)

	err := client.CreateSession(ctx, recoveryhandler.CreateSessionRequest{
	    SessionID:       "family-wallet",
	    Threshold:       2,
	    TotalShards:     3,
	    CandidateValue1: 7,
	    CandidateValue2: 42,
	})

	handle, err := client.SubmitShard(ctx, oraclePub, "family-wallet", 0, 7)
*/
package clients
