package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/shardguard/recovery-backend/api/clients"
	"github.com/shardguard/recovery-backend/api/recoveryhandler"
	"github.com/shardguard/recovery-backend/cryptoutils"
)

var serverURLFlag = &cli.StringFlag{
	Name:  "server-url",
	Value: "http://127.0.0.1:8080",
	Usage: "recovery server base URL",
}

var keyFlag = &cli.StringFlag{
	Name:  "key",
	Usage: "hex-encoded guardian private key",
}

var sessionFlag = &cli.StringFlag{
	Name:     "session",
	Required: true,
	Usage:    "recovery session id",
}

func loadClient(cCtx *cli.Context) (*clients.RecoveryClient, error) {
	serverURL := cCtx.String(serverURLFlag.Name)
	keyHex := cCtx.String(keyFlag.Name)
	if keyHex == "" {
		return clients.NewRecoveryClient(serverURL, nil), nil
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid guardian key: %w", err)
	}
	return clients.NewRecoveryClient(serverURL, key), nil
}

func main() {
	app := &cli.App{
		Name:  "guardian",
		Usage: "Guardian-side client for the shard recovery service",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate a new guardian key pair",
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.GenerateGuardianKey()
					if err != nil {
						return err
					}
					fmt.Printf("address: %s\n", cryptoutils.AddressOf(key).String())
					fmt.Printf("private key: %s\n", hex.EncodeToString(crypto.FromECDSA(key)))
					return nil
				},
			},
			{
				Name:  "create-session",
				Usage: "create a new recovery session",
				Flags: []cli.Flag{
					serverURLFlag, keyFlag, sessionFlag,
					&cli.StringFlag{Name: "name", Usage: "session display name"},
					&cli.StringFlag{Name: "description", Usage: "session description"},
					&cli.IntFlag{Name: "threshold", Required: true, Usage: "verified shards needed for completion"},
					&cli.IntFlag{Name: "total-shards", Required: true, Usage: "total shard slots"},
					&cli.Uint64Flag{Name: "candidate1", Required: true, Usage: "first public candidate value"},
					&cli.Uint64Flag{Name: "candidate2", Required: true, Usage: "second public candidate value"},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := loadClient(cCtx)
					if err != nil {
						return err
					}
					err = client.CreateSession(cCtx.Context, recoveryhandler.CreateSessionRequest{
						SessionID:       cCtx.String(sessionFlag.Name),
						Name:            cCtx.String("name"),
						Description:     cCtx.String("description"),
						Threshold:       cCtx.Int("threshold"),
						TotalShards:     cCtx.Int("total-shards"),
						CandidateValue1: cCtx.Uint64("candidate1"),
						CandidateValue2: cCtx.Uint64("candidate2"),
					})
					if err != nil {
						return err
					}
					fmt.Printf("session %s created\n", cCtx.String(sessionFlag.Name))
					return nil
				},
			},
			{
				Name:  "submit-shard",
				Usage: "seal a shard value to the oracle and submit it",
				Flags: []cli.Flag{
					serverURLFlag, keyFlag, sessionFlag,
					&cli.IntFlag{Name: "index", Required: true, Usage: "shard slot index"},
					&cli.Uint64Flag{Name: "value", Required: true, Usage: "cleartext shard value"},
					&cli.StringFlag{Name: "oracle-pubkey", Required: true, Usage: "hex Curve25519 oracle public key (32 bytes)"},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := loadClient(cCtx)
					if err != nil {
						return err
					}

					pubBytes, err := hex.DecodeString(cCtx.String("oracle-pubkey"))
					if err != nil || len(pubBytes) != 32 {
						return fmt.Errorf("oracle-pubkey must be 32 hex-encoded bytes")
					}
					var oraclePub [32]byte
					copy(oraclePub[:], pubBytes)

					handle, err := client.SubmitShard(cCtx.Context, &oraclePub,
						cCtx.String(sessionFlag.Name), cCtx.Int("index"), cCtx.Uint64("value"))
					if err != nil {
						return err
					}
					fmt.Printf("shard submitted, handle: %s\n", handle.String())
					return nil
				},
			},
			{
				Name:  "verify-shard",
				Usage: "submit an oracle decryption proof for a shard",
				Flags: []cli.Flag{
					serverURLFlag, keyFlag, sessionFlag,
					&cli.IntFlag{Name: "index", Required: true, Usage: "shard slot index"},
					&cli.Uint64Flag{Name: "value", Required: true, Usage: "decrypted cleartext value"},
					&cli.StringFlag{Name: "proof", Required: true, Usage: "hex decryption proof from the oracle"},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := loadClient(cCtx)
					if err != nil {
						return err
					}

					proof, err := hex.DecodeString(cCtx.String("proof"))
					if err != nil {
						return fmt.Errorf("invalid proof encoding: %w", err)
					}

					err = client.VerifyShard(cCtx.Context, cCtx.String(sessionFlag.Name),
						cCtx.Int("index"), cCtx.Uint64("value"), proof)
					if err != nil {
						return err
					}
					fmt.Println("shard verified")
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "show session status and verified shard count",
				Flags: []cli.Flag{serverURLFlag, sessionFlag},
				Action: func(cCtx *cli.Context) error {
					client, err := loadClient(cCtx)
					if err != nil {
						return err
					}

					sessionID := cCtx.String(sessionFlag.Name)
					session, err := client.GetSession(cCtx.Context, sessionID)
					if err != nil {
						return err
					}
					count, err := client.VerifiedCount(cCtx.Context, sessionID)
					if err != nil {
						return err
					}

					fmt.Printf("session: %s (%s)\n", session.SessionID, session.Name)
					fmt.Printf("threshold: %d of %d shards\n", session.Threshold, session.TotalShards)
					fmt.Printf("candidates: %d, %d\n", session.CandidateValue1, session.CandidateValue2)
					fmt.Printf("verified: %d\n", count)
					if session.IsComplete {
						fmt.Printf("complete, reconstructed value: %d\n", session.ReconstructedValue)
					} else {
						fmt.Println("incomplete")
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
