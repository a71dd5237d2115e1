package cryptoutils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardguard/recovery-backend/interfaces"
)

func TestSealAttributeDecryptProveRoundtrip(t *testing.T) {
	oracle, err := NewOracle()
	require.NoError(t, err)

	key, err := GenerateGuardianKey()
	require.NoError(t, err)
	submitter := AddressOf(key)

	ciphertext, handle, proof, err := EncryptShardValue(oracle.PublicKey(), key, 42)
	require.NoError(t, err)
	assert.Equal(t, HandleFor(ciphertext), handle)

	verifier := oracle.Verifier()
	require.NoError(t, verifier.VerifySubmission(handle, ciphertext, proof, submitter))

	// The oracle refuses to decrypt before the grant.
	_, _, err = oracle.Decrypt(ciphertext)
	assert.Error(t, err)

	require.NoError(t, oracle.AllowPublicDecryption(context.Background(), handle))
	assert.True(t, oracle.IsGranted(handle))

	value, decProof, err := oracle.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), value)

	require.NoError(t, verifier.VerifyDecryption(handle, value, decProof))
}

func TestVerifySubmissionRejections(t *testing.T) {
	oracle, err := NewOracle()
	require.NoError(t, err)
	verifier := oracle.Verifier()

	key, err := GenerateGuardianKey()
	require.NoError(t, err)
	otherKey, err := GenerateGuardianKey()
	require.NoError(t, err)

	ciphertext, handle, proof, err := EncryptShardValue(oracle.PublicKey(), key, 7)
	require.NoError(t, err)

	// Wrong submitter.
	err = verifier.VerifySubmission(handle, ciphertext, proof, AddressOf(otherKey))
	assert.Error(t, err)

	// Handle does not match the ciphertext.
	var wrongHandle interfaces.CiphertextHandle
	wrongHandle[0] = 0xff
	err = verifier.VerifySubmission(wrongHandle, ciphertext, proof, AddressOf(key))
	assert.Error(t, err)

	// Empty ciphertext.
	err = verifier.VerifySubmission(handle, nil, proof, AddressOf(key))
	assert.Error(t, err)
}

func TestVerifyDecryptionRejections(t *testing.T) {
	oracle, err := NewOracle()
	require.NoError(t, err)
	verifier := oracle.Verifier()

	key, err := GenerateGuardianKey()
	require.NoError(t, err)
	ciphertext, handle, _, err := EncryptShardValue(oracle.PublicKey(), key, 7)
	require.NoError(t, err)
	require.NoError(t, oracle.AllowPublicDecryption(context.Background(), handle))

	value, proof, err := oracle.Decrypt(ciphertext)
	require.NoError(t, err)

	// Proof bound to a different value.
	assert.Error(t, verifier.VerifyDecryption(handle, value+1, proof))

	// Proof replayed against a different handle.
	_, otherHandle, _, err := EncryptShardValue(oracle.PublicKey(), key, 7)
	require.NoError(t, err)
	assert.Error(t, verifier.VerifyDecryption(otherHandle, value, proof))

	// Proof signed by someone other than the oracle.
	impostor, err := GenerateGuardianKey()
	require.NoError(t, err)
	forged, err := SignRequestDigest(impostor, decryptionDigest(handle, value))
	require.NoError(t, err)
	assert.Error(t, verifier.VerifyDecryption(handle, value, forged))

	// Garbage proof.
	assert.Error(t, verifier.VerifyDecryption(handle, value, []byte("not a signature")))
}

func TestSignRequestRoundtrip(t *testing.T) {
	key, err := GenerateGuardianKey()
	require.NoError(t, err)

	message := []byte("/api/sessions" + `{"session_id":"s1"}`)
	signature, err := SignRequest(key, message)
	require.NoError(t, err)

	signer, err := RecoverSigner(message, signature)
	require.NoError(t, err)
	assert.True(t, signer.Equal(AddressOf(key)))

	// A different message recovers a different signer.
	signer, err = RecoverSigner([]byte("tampered"), signature)
	if err == nil {
		assert.False(t, signer.Equal(AddressOf(key)))
	}

	_, err = RecoverSigner(message, signature[:10])
	assert.Error(t, err)
}
