package cryptoutils

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/box"

	"github.com/shardguard/recovery-backend/interfaces"
)

// Oracle is a reference decryption oracle. It holds the Curve25519 key shard
// ciphertexts are sealed to and a secp256k1 key it signs decryption proofs
// with. A production deployment replaces this with a threshold-decryption
// network; the engine only ever sees the proofs.
type Oracle struct {
	boxPub     *[32]byte
	boxPriv    *[32]byte
	signingKey *ecdsa.PrivateKey

	mu      sync.RWMutex
	granted map[interfaces.CiphertextHandle]bool
}

// NewOracle generates a fresh oracle key pair.
func NewOracle() (*Oracle, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate oracle box key: %w", err)
	}
	signingKey, err := GenerateGuardianKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate oracle signing key: %w", err)
	}
	return &Oracle{
		boxPub:     pub,
		boxPriv:    priv,
		signingKey: signingKey,
		granted:    make(map[interfaces.CiphertextHandle]bool),
	}, nil
}

// PublicKey returns the Curve25519 public key shard values are sealed to.
func (o *Oracle) PublicKey() *[32]byte {
	return o.boxPub
}

// Address returns the address decryption proofs are verified against.
func (o *Oracle) Address() interfaces.GuardianAddress {
	return AddressOf(o.signingKey)
}

// Verifier returns a proof verifier trusting this oracle.
func (o *Oracle) Verifier() *Verifier {
	return NewVerifier(o.Address())
}

// AllowPublicDecryption implements interfaces.DecryptionGrantor. The oracle
// only decrypts handles that were granted through AddShard.
func (o *Oracle) AllowPublicDecryption(_ context.Context, handle interfaces.CiphertextHandle) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.granted[handle] = true
	return nil
}

// IsGranted reports whether a handle has been cleared for public decryption.
func (o *Oracle) IsGranted(handle interfaces.CiphertextHandle) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.granted[handle]
}

// Decrypt opens a granted ciphertext and issues the decryption proof binding
// the cleartext to the ciphertext handle. The caller feeds both into
// VerifyShard.
func (o *Oracle) Decrypt(ciphertext []byte) (uint64, interfaces.DecryptionProof, error) {
	handle := HandleFor(ciphertext)

	if !o.IsGranted(handle) {
		return 0, nil, errors.New("ciphertext not granted for public decryption")
	}

	plain, ok := box.OpenAnonymous(nil, ciphertext, o.boxPub, o.boxPriv)
	if !ok {
		return 0, nil, errors.New("failed to open ciphertext")
	}
	if len(plain) != 8 {
		return 0, nil, fmt.Errorf("unexpected cleartext length %d", len(plain))
	}
	value := binary.BigEndian.Uint64(plain)

	proof, err := o.ProveDecryption(handle, value)
	if err != nil {
		return 0, nil, err
	}
	return value, proof, nil
}

// ProveDecryption signs the handle-bound digest for a cleartext value.
func (o *Oracle) ProveDecryption(handle interfaces.CiphertextHandle, clearValue uint64) (interfaces.DecryptionProof, error) {
	sig, err := SignRequestDigest(o.signingKey, decryptionDigest(handle, clearValue))
	if err != nil {
		return nil, fmt.Errorf("failed to sign decryption proof: %w", err)
	}
	return interfaces.DecryptionProof(sig), nil
}
