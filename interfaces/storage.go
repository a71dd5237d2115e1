package interfaces

import (
	"context"
	"time"
)

// SessionRecord is the persisted state of one recovery session. All fields
// except IsComplete and ReconstructedValue are immutable after creation;
// IsComplete flips false to true exactly once and never reverts.
type SessionRecord struct {
	ID          SessionID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`

	// Threshold is the number of verified shards required for completion.
	// 1 <= Threshold <= TotalShards, fixed at creation.
	Threshold int `json:"threshold"`

	// TotalShards fixes the valid shard index range [0, TotalShards).
	TotalShards int `json:"total_shards"`

	// CandidateValue1 and CandidateValue2 are the only two cleartext values
	// any shard of this session is allowed to decrypt to.
	CandidateValue1 uint64 `json:"candidate_value1"`
	CandidateValue2 uint64 `json:"candidate_value2"`

	Creator   GuardianAddress `json:"creator"`
	CreatedAt time.Time       `json:"created_at"`

	// IsComplete is monotonic: once true it never reverts, and
	// ReconstructedValue is fixed at the same instant.
	IsComplete         bool   `json:"is_complete"`
	ReconstructedValue uint64 `json:"reconstructed_value"`
}

// ValidShardIndex reports whether index falls inside the session's slot range.
func (s SessionRecord) ValidShardIndex(index int) bool {
	return index >= 0 && index < s.TotalShards
}

// ShardRecord is the persisted state of one shard slot. The slot is
// write-once; IsVerified flips false to true exactly once and fixes
// ClearValue at the same instant.
type ShardRecord struct {
	SessionID SessionID `json:"session_id"`
	Index     int       `json:"shard_index"`

	// Handle is the digest of Ciphertext; decryption proofs bind to it.
	Handle     CiphertextHandle `json:"ciphertext_handle"`
	Ciphertext []byte           `json:"ciphertext"`

	// Holder is the guardian that submitted the shard.
	Holder GuardianAddress `json:"holder"`

	IsVerified bool `json:"is_verified"`

	// ClearValue is meaningful only once IsVerified is true.
	ClearValue uint64 `json:"clear_value"`
}

// SessionStore persists session records plus an append-only registry of all
// session ids ever created. Implementations must enforce the monotonic
// contract: PutSession never overwrites, CompleteSession never un-completes.
type SessionStore interface {
	// PutSession inserts a new session. Returns ErrSessionAlreadyExists if
	// the id is taken; in that case the stored record is unchanged.
	PutSession(ctx context.Context, session SessionRecord) error

	// GetSession returns the session or ErrSessionNotFound.
	GetSession(ctx context.Context, id SessionID) (SessionRecord, error)

	// CompleteSession sets IsComplete and fixes the reconstructed value.
	// It must be a one-way transition: completing an already-complete
	// session is an invariant violation and returns an error without
	// touching the stored record.
	CompleteSession(ctx context.Context, id SessionID, reconstructed uint64) error

	// SessionIDs returns every session id ever created, in creation order.
	SessionIDs(ctx context.Context) ([]SessionID, error)
}

// ShardStore persists shard records keyed by (session id, shard index).
type ShardStore interface {
	// PutShard inserts a new shard. Returns ErrShardSlotOccupied if the slot
	// already holds a shard; the stored record is unchanged in that case.
	PutShard(ctx context.Context, shard ShardRecord) error

	// GetShard returns the shard or ErrShardNotFound.
	GetShard(ctx context.Context, id SessionID, index int) (ShardRecord, error)

	// MarkShardVerified flips IsVerified and records the cleartext. Returns
	// ErrShardNotFound if the slot is empty and ErrShardAlreadyVerified if
	// the flag is already set; the flip happens at most once per slot.
	MarkShardVerified(ctx context.Context, id SessionID, index int, clearValue uint64) error

	// VerifiedShards returns all verified shards of a session, in ascending
	// index order.
	VerifiedShards(ctx context.Context, id SessionID) ([]ShardRecord, error)
}

// RecoveryStore combines both stores over one backend.
type RecoveryStore interface {
	SessionStore
	ShardStore

	// Close releases backend resources.
	Close() error
}

// StoreFactory creates recovery stores from location URIs.
// Supported schemes: memory://, file://, sqlite://, s3://, vault://.
type StoreFactory interface {
	StoreFor(locationURI string) (RecoveryStore, error)
}
