package interfaces

import "errors"

// Engine operation errors. Every failure leaves prior state unchanged; none
// of these is fatal to the engine itself.
var (
	// ErrInvalidSessionID is returned when a session identifier fails validation.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionAlreadyExists is returned by CreateSession when the id is taken.
	ErrSessionAlreadyExists = errors.New("session already exists")

	// ErrInvalidThreshold is returned when threshold < 1 or threshold > totalShards.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrSessionNotFound is returned when no session exists for the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidShardIndex is returned when the index is outside [0, totalShards).
	ErrInvalidShardIndex = errors.New("invalid shard index")

	// ErrShardSlotOccupied is returned when a shard already exists at the slot.
	// Slots are write-once.
	ErrShardSlotOccupied = errors.New("shard slot occupied")

	// ErrInvalidCiphertext is returned when the submission proof does not
	// attribute the ciphertext to the submitter.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrShardNotFound is returned when no shard exists at the given slot.
	ErrShardNotFound = errors.New("shard not found")

	// ErrShardAlreadyVerified is returned when re-verifying a verified shard.
	// Callers must treat it as success-equivalent: the shard is verified and
	// the verified count did not change.
	ErrShardAlreadyVerified = errors.New("shard already verified")

	// ErrInvalidShardValue is returned when the decoded value matches neither
	// candidate value, even if the decryption proof itself verifies.
	ErrInvalidShardValue = errors.New("cleartext matches neither candidate value")

	// ErrProofVerificationFailed is returned when the delegated proof check fails.
	ErrProofVerificationFailed = errors.New("proof verification failed")
)

// Store errors.
var (
	// ErrStoreUnavailable is returned when a store backend is not accessible.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidStoreURI is returned when a store location URI is malformed
	// or names an unsupported scheme.
	ErrInvalidStoreURI = errors.New("invalid store location URI")
)

// ErrorClass groups engine errors by how the caller should react.
type ErrorClass int

const (
	// ClassInternal covers unexpected failures (store outages and the like).
	ClassInternal ErrorClass = iota

	// ClassMalformedRequest: rejected before any state change; the caller
	// recovers by correcting the input.
	ClassMalformedRequest

	// ClassAlreadySatisfied: not a failure in spirit; the caller should treat
	// the operation as having already succeeded.
	ClassAlreadySatisfied

	// ClassProofRejected: the caller may retry with a fresh proof but must
	// not reuse the failed decoded value.
	ClassProofRejected

	// ClassNotFound: non-retryable without correcting the key.
	ClassNotFound
)

// ClassOf maps an engine error to its taxonomy class.
func ClassOf(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrInvalidSessionID),
		errors.Is(err, ErrSessionAlreadyExists),
		errors.Is(err, ErrInvalidThreshold),
		errors.Is(err, ErrInvalidShardIndex),
		errors.Is(err, ErrShardSlotOccupied):
		return ClassMalformedRequest
	case errors.Is(err, ErrShardAlreadyVerified):
		return ClassAlreadySatisfied
	case errors.Is(err, ErrInvalidShardValue),
		errors.Is(err, ErrProofVerificationFailed),
		errors.Is(err, ErrInvalidCiphertext):
		return ClassProofRejected
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrShardNotFound):
		return ClassNotFound
	default:
		return ClassInternal
	}
}
