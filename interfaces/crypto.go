package interfaces

import "context"

// SubmissionProof attests that a ciphertext is well formed and attributable
// to the guardian submitting it. Produced by the external encryption
// capability alongside the ciphertext.
type SubmissionProof []byte

// DecryptionProof binds a cleartext value to a specific ciphertext handle.
// Produced out-of-band by the decryption oracle.
type DecryptionProof []byte

// ProofVerifier is the delegated validation capability. The engine never
// inspects proofs itself; it only enforces protocol policy around the
// verifier's verdicts. Both checks are synchronous atomic decision points:
// they either fully succeed before any state mutation or the whole engine
// call fails with no partial effect.
type ProofVerifier interface {
	// VerifySubmission checks that ciphertext matches handle and that proof
	// attributes the submission to submitter. Returns ErrInvalidCiphertext
	// (possibly wrapped) on rejection.
	VerifySubmission(handle CiphertextHandle, ciphertext []byte, proof SubmissionProof, submitter GuardianAddress) error

	// VerifyDecryption checks that proof binds clearValue to exactly handle.
	// Returns ErrProofVerificationFailed (possibly wrapped) on rejection.
	VerifyDecryption(handle CiphertextHandle, clearValue uint64, proof DecryptionProof) error
}

// DecryptionGrantor registers a ciphertext for eventual public
// decryptability. AddShard requests the grant; whether and when the oracle
// acts on it is outside the engine's contract.
type DecryptionGrantor interface {
	AllowPublicDecryption(ctx context.Context, handle CiphertextHandle) error
}
