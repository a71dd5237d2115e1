// Package engine implements the recovery-session state machine: session and
// shard lifecycle, the per-shard verification protocol, threshold detection,
// and the combination of verified cleartexts into the reconstructed value.
//
// The engine enforces protocol policy around opaque ciphertexts and proofs;
// all cryptographic validation is delegated to the ProofVerifier capability.
// Note that the verification policy admits exactly two public cleartext
// values per session, which reduces the per-shard cleartext space to one
// bit. That is a property of the protocol as deployed, preserved here
// verbatim.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shardguard/recovery-backend/interfaces"
)

// Engine is the recovery-session state machine. All mutating operations on
// one session are serialized by a per-session mutex held for the duration of
// a single call, so the verified-count/threshold crossing edge is observed
// by exactly one VerifyShard call.
type Engine struct {
	sessions interfaces.SessionStore
	shards   interfaces.ShardStore
	verifier interfaces.ProofVerifier
	grantor  interfaces.DecryptionGrantor
	notifier interfaces.Notifier
	log      *slog.Logger

	mu        sync.Mutex
	sessionMu map[interfaces.SessionID]*sync.Mutex
}

// New creates an engine over the given stores and capabilities. The grantor
// and notifier may be nil, in which case decryption grants and events are
// skipped.
func New(sessions interfaces.SessionStore, shards interfaces.ShardStore, verifier interfaces.ProofVerifier, grantor interfaces.DecryptionGrantor, notifier interfaces.Notifier, log *slog.Logger) *Engine {
	return &Engine{
		sessions:  sessions,
		shards:    shards,
		verifier:  verifier,
		grantor:   grantor,
		notifier:  notifier,
		log:       log,
		sessionMu: make(map[interfaces.SessionID]*sync.Mutex),
	}
}

// lockSession returns the mutex serializing operations for one session,
// creating it on first use. Session mutexes are never removed; sessions are
// append-only and their count is bounded by the registry.
func (e *Engine) lockSession(id interfaces.SessionID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.sessionMu[id]
	if !ok {
		m = &sync.Mutex{}
		e.sessionMu[id] = m
	}
	return m
}

func (e *Engine) notify(event interfaces.Event) {
	if e.notifier == nil {
		return
	}
	event.At = time.Now().UTC()
	e.notifier.Notify(event)
}

// CreateSessionParams carries the immutable parameters of a new session.
type CreateSessionParams struct {
	ID              interfaces.SessionID
	Name            string
	Description     string
	Threshold       int
	TotalShards     int
	CandidateValue1 uint64
	CandidateValue2 uint64
	Creator         interfaces.GuardianAddress
	Now             time.Time
}

// CreateSession inserts a new recovery session and appends its id to the
// session registry. Returns ErrInvalidThreshold unless
// 1 <= threshold <= totalShards, and ErrSessionAlreadyExists if the id is
// taken; no state changes on failure.
func (e *Engine) CreateSession(ctx context.Context, params CreateSessionParams) error {
	if err := params.ID.Validate(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSessionID, err)
	}
	if params.Threshold < 1 || params.Threshold > params.TotalShards {
		return fmt.Errorf("%w: threshold %d, total shards %d", interfaces.ErrInvalidThreshold, params.Threshold, params.TotalShards)
	}

	lock := e.lockSession(params.ID)
	lock.Lock()
	defer lock.Unlock()

	record := interfaces.SessionRecord{
		ID:              params.ID,
		Name:            params.Name,
		Description:     params.Description,
		Threshold:       params.Threshold,
		TotalShards:     params.TotalShards,
		CandidateValue1: params.CandidateValue1,
		CandidateValue2: params.CandidateValue2,
		Creator:         params.Creator,
		CreatedAt:       params.Now.UTC(),
		IsComplete:      false,
	}

	if err := e.sessions.PutSession(ctx, record); err != nil {
		return err
	}

	e.log.Info("Recovery session created",
		slog.String("sessionID", params.ID.String()),
		slog.Int("threshold", params.Threshold),
		slog.Int("totalShards", params.TotalShards),
		slog.String("creator", params.Creator.String()))

	e.notify(interfaces.Event{
		Kind:      interfaces.EventSessionCreated,
		SessionID: params.ID,
		Guardian:  params.Creator,
	})
	return nil
}

// AddShard stores a new shard at an empty slot after the submission proof
// attributes the ciphertext to the submitter, then requests a public
// decryption grant for the stored ciphertext handle. The slot is write-once;
// a rejected submission leaves no state change and no grant.
func (e *Engine) AddShard(ctx context.Context, sessionID interfaces.SessionID, index int, handle interfaces.CiphertextHandle, ciphertext []byte, proof interfaces.SubmissionProof, submitter interfaces.GuardianAddress) error {
	lock := e.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.ValidShardIndex(index) {
		return fmt.Errorf("%w: index %d, total shards %d", interfaces.ErrInvalidShardIndex, index, session.TotalShards)
	}

	// Slots are write-once; occupancy is checked before the proof and the
	// grant.
	if _, err := e.shards.GetShard(ctx, sessionID, index); err == nil {
		return fmt.Errorf("%w: session %s, index %d", interfaces.ErrShardSlotOccupied, sessionID, index)
	} else if !errors.Is(err, interfaces.ErrShardNotFound) {
		return err
	}

	if err := e.verifier.VerifySubmission(handle, ciphertext, proof, submitter); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidCiphertext, err)
	}

	record := interfaces.ShardRecord{
		SessionID:  sessionID,
		Index:      index,
		Handle:     handle,
		Ciphertext: ciphertext,
		Holder:     submitter,
		IsVerified: false,
	}
	if err := e.shards.PutShard(ctx, record); err != nil {
		return err
	}

	// Only stored shards are ever granted public decryption.
	if e.grantor != nil {
		if err := e.grantor.AllowPublicDecryption(ctx, handle); err != nil {
			return fmt.Errorf("public decryption grant failed: %w", err)
		}
	}

	e.log.Info("Shard added",
		slog.String("sessionID", sessionID.String()),
		slog.Int("shardIndex", index),
		slog.String("holder", submitter.String()))

	e.notify(interfaces.Event{
		Kind:       interfaces.EventShardAdded,
		SessionID:  sessionID,
		ShardIndex: index,
		Guardian:   submitter,
	})
	return nil
}

// VerifyShard validates a decryption proof binding clearValue to the shard's
// stored ciphertext handle, then enforces the protocol policy that the value
// equals one of the session's two candidate values. On success the shard is
// marked verified; if that flip brings the verified count up to the
// threshold and the session is not yet complete, the session is completed.
//
// Re-verifying an already-verified shard returns ErrShardAlreadyVerified
// without re-triggering completion or double-counting; callers must treat
// that error as success-equivalent, which makes the whole call safe to
// retry.
func (e *Engine) VerifyShard(ctx context.Context, sessionID interfaces.SessionID, index int, clearValue uint64, proof interfaces.DecryptionProof) error {
	lock := e.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.ValidShardIndex(index) {
		return fmt.Errorf("%w: index %d, total shards %d", interfaces.ErrInvalidShardIndex, index, session.TotalShards)
	}

	shard, err := e.shards.GetShard(ctx, sessionID, index)
	if err != nil {
		return err
	}
	if shard.IsVerified {
		return interfaces.ErrShardAlreadyVerified
	}

	// Proof first, against the exact stored handle, so the policy verdict
	// below only ever applies to values provably bound to this shard.
	if err := e.verifier.VerifyDecryption(shard.Handle, clearValue, proof); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrProofVerificationFailed, err)
	}

	if clearValue != session.CandidateValue1 && clearValue != session.CandidateValue2 {
		return fmt.Errorf("%w: got %d", interfaces.ErrInvalidShardValue, clearValue)
	}

	if err := e.shards.MarkShardVerified(ctx, sessionID, index, clearValue); err != nil {
		return err
	}

	e.log.Info("Shard verified",
		slog.String("sessionID", sessionID.String()),
		slog.Int("shardIndex", index))

	e.notify(interfaces.Event{
		Kind:       interfaces.EventShardVerified,
		SessionID:  sessionID,
		ShardIndex: index,
		Guardian:   shard.Holder,
	})

	verified, err := e.shards.VerifiedShards(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(verified) >= session.Threshold && !session.IsComplete {
		return e.completeSession(ctx, sessionID, verified)
	}
	return nil
}

// completeSession runs the combination over the verified cleartexts, fixes
// the reconstructed value, and marks the session complete. Invoked only from
// VerifyShard's threshold-crossing edge, under the session lock. The
// transition is irreversible; there is no rollback path for a completed
// session.
func (e *Engine) completeSession(ctx context.Context, sessionID interfaces.SessionID, verified []interfaces.ShardRecord) error {
	// Defensive re-check of the invariant guard.
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsComplete {
		return fmt.Errorf("session %s already complete", sessionID)
	}

	values := make([]uint64, 0, len(verified))
	for _, shard := range verified {
		values = append(values, shard.ClearValue)
	}
	reconstructed := Combine(values)

	if err := e.sessions.CompleteSession(ctx, sessionID, reconstructed); err != nil {
		return err
	}

	e.log.Info("Recovery session completed",
		slog.String("sessionID", sessionID.String()),
		slog.Int("verifiedShards", len(verified)),
		slog.Uint64("reconstructedValue", reconstructed))

	e.notify(interfaces.Event{
		Kind:               interfaces.EventSessionCompleted,
		SessionID:          sessionID,
		ReconstructedValue: reconstructed,
	})
	return nil
}

// GetSession returns the session record or ErrSessionNotFound.
func (e *Engine) GetSession(ctx context.Context, sessionID interfaces.SessionID) (interfaces.SessionRecord, error) {
	return e.sessions.GetSession(ctx, sessionID)
}

// GetShard returns the shard at the given slot. Fails with
// ErrInvalidShardIndex for an out-of-range index and ErrShardNotFound for an
// empty slot.
func (e *Engine) GetShard(ctx context.Context, sessionID interfaces.SessionID, index int) (interfaces.ShardRecord, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return interfaces.ShardRecord{}, err
	}
	if !session.ValidShardIndex(index) {
		return interfaces.ShardRecord{}, fmt.Errorf("%w: index %d, total shards %d", interfaces.ErrInvalidShardIndex, index, session.TotalShards)
	}
	return e.shards.GetShard(ctx, sessionID, index)
}

// GetAllSessionIDs returns every session id ever created, in creation order.
func (e *Engine) GetAllSessionIDs(ctx context.Context) ([]interfaces.SessionID, error) {
	return e.sessions.SessionIDs(ctx)
}

// GetVerifiedShardCount returns the number of verified shards for a session.
func (e *Engine) GetVerifiedShardCount(ctx context.Context, sessionID interfaces.SessionID) (int, error) {
	if _, err := e.sessions.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	verified, err := e.shards.VerifiedShards(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return len(verified), nil
}
