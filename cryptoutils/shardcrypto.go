// Package cryptoutils is the reference implementation of the external
// cryptographic capabilities consumed by the engine: the encryption
// capability guardians use to seal shard values, the decryption oracle that
// opens them and issues decryption proofs, and the proof verifier the engine
// delegates to.
//
// Shard values are sealed to the oracle's Curve25519 public key with an
// anonymous NaCl box. Attribution and decryption proofs are 65-byte
// secp256k1 signatures over Keccak-256 digests, checked by recovering the
// signer address.
package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/box"

	"github.com/shardguard/recovery-backend/interfaces"
)

// HandleFor computes the ciphertext handle: the Keccak-256 digest of the
// ciphertext bytes.
func HandleFor(ciphertext []byte) interfaces.CiphertextHandle {
	var h interfaces.CiphertextHandle
	copy(h[:], crypto.Keccak256(ciphertext))
	return h
}

// AddressOf derives the guardian address for a secp256k1 private key.
func AddressOf(key *ecdsa.PrivateKey) interfaces.GuardianAddress {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	var out interfaces.GuardianAddress
	copy(out[:], addr.Bytes())
	return out
}

// GenerateGuardianKey creates a new secp256k1 key pair for a guardian.
func GenerateGuardianKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// EncryptShardValue seals value to the oracle's public key and signs the
// resulting ciphertext handle with the submitter's key. The returned proof
// is what AddShard uses to attribute the ciphertext to the submitter.
func EncryptShardValue(oraclePub *[32]byte, submitterKey *ecdsa.PrivateKey, value uint64) (ciphertext []byte, handle interfaces.CiphertextHandle, proof interfaces.SubmissionProof, err error) {
	var plain [8]byte
	binary.BigEndian.PutUint64(plain[:], value)

	ciphertext, err = box.SealAnonymous(nil, plain[:], oraclePub, rand.Reader)
	if err != nil {
		return nil, interfaces.CiphertextHandle{}, nil, fmt.Errorf("failed to seal shard value: %w", err)
	}

	handle = HandleFor(ciphertext)

	sig, err := crypto.Sign(handle[:], submitterKey)
	if err != nil {
		return nil, interfaces.CiphertextHandle{}, nil, fmt.Errorf("failed to sign ciphertext handle: %w", err)
	}

	return ciphertext, handle, interfaces.SubmissionProof(sig), nil
}

// SignRequest signs an arbitrary message (request path plus body) with a
// guardian key for HTTP authentication.
func SignRequest(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(message), key)
}

// SignRequestDigest signs a precomputed 32-byte digest.
func SignRequestDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	return crypto.Sign(digest, key)
}

// RecoverSigner recovers the guardian address that signed message.
func RecoverSigner(message, signature []byte) (interfaces.GuardianAddress, error) {
	return recoverAddress(crypto.Keccak256(message), signature)
}

func recoverAddress(digest, signature []byte) (interfaces.GuardianAddress, error) {
	if len(signature) != crypto.SignatureLength {
		return interfaces.GuardianAddress{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return interfaces.GuardianAddress{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	var out interfaces.GuardianAddress
	copy(out[:], addr.Bytes())
	return out, nil
}

// decryptionDigest is the message a decryption proof signs: the handle
// concatenated with the big-endian cleartext. Binding the handle is what
// prevents replaying a proof against a different shard.
func decryptionDigest(handle interfaces.CiphertextHandle, clearValue uint64) []byte {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], clearValue)
	return crypto.Keccak256(handle[:], value[:])
}

// Verifier implements interfaces.ProofVerifier against a known oracle
// address. It holds no key material.
type Verifier struct {
	oracleAddr interfaces.GuardianAddress
}

// NewVerifier creates a proof verifier trusting decryption proofs signed by
// the given oracle address.
func NewVerifier(oracleAddr interfaces.GuardianAddress) *Verifier {
	return &Verifier{oracleAddr: oracleAddr}
}

// VerifySubmission checks the ciphertext against the claimed handle and
// recovers the submission proof's signer, which must equal the submitter.
func (v *Verifier) VerifySubmission(handle interfaces.CiphertextHandle, ciphertext []byte, proof interfaces.SubmissionProof, submitter interfaces.GuardianAddress) error {
	if len(ciphertext) == 0 {
		return errors.New("empty ciphertext")
	}
	if !HandleFor(ciphertext).Equal(handle) {
		return errors.New("handle does not match ciphertext")
	}

	signer, err := recoverAddress(handle[:], proof)
	if err != nil {
		return err
	}
	if !signer.Equal(submitter) {
		return fmt.Errorf("ciphertext not attributable to submitter: signed by %s", signer)
	}
	return nil
}

// VerifyDecryption recovers the decryption proof's signer over the
// handle-bound digest, which must equal the oracle address.
func (v *Verifier) VerifyDecryption(handle interfaces.CiphertextHandle, clearValue uint64, proof interfaces.DecryptionProof) error {
	signer, err := recoverAddress(decryptionDigest(handle, clearValue), proof)
	if err != nil {
		return err
	}
	if !signer.Equal(v.oracleAddr) {
		return fmt.Errorf("decryption proof not signed by oracle: signed by %s", signer)
	}
	return nil
}
