package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/shardguard/recovery-backend/interfaces"
)

type shardKey struct {
	session interfaces.SessionID
	index   int
}

// MemoryStore keeps all records in process memory. It is the default for
// tests and the dev server.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[interfaces.SessionID]interfaces.SessionRecord
	shards   map[shardKey]interfaces.ShardRecord
	order    []interfaces.SessionID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[interfaces.SessionID]interfaces.SessionRecord),
		shards:   make(map[shardKey]interfaces.ShardRecord),
	}
}

// PutSession inserts a new session record.
func (s *MemoryStore) PutSession(ctx context.Context, session interfaces.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return interfaces.ErrSessionAlreadyExists
	}
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	return nil
}

// GetSession returns the session record or ErrSessionNotFound.
func (s *MemoryStore) GetSession(ctx context.Context, id interfaces.SessionID) (interfaces.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return interfaces.SessionRecord{}, interfaces.ErrSessionNotFound
	}
	return session, nil
}

// CompleteSession flips IsComplete and fixes the reconstructed value.
func (s *MemoryStore) CompleteSession(ctx context.Context, id interfaces.SessionID, reconstructed uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return interfaces.ErrSessionNotFound
	}
	if session.IsComplete {
		return fmt.Errorf("session %s is already complete", id)
	}
	session.IsComplete = true
	session.ReconstructedValue = reconstructed
	s.sessions[id] = session
	return nil
}

// SessionIDs returns all session ids in creation order.
func (s *MemoryStore) SessionIDs(ctx context.Context) ([]interfaces.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interfaces.SessionID, len(s.order))
	copy(out, s.order)
	return out, nil
}

// PutShard inserts a new shard record into an empty slot.
func (s *MemoryStore) PutShard(ctx context.Context, shard interfaces.ShardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shardKey{session: shard.SessionID, index: shard.Index}
	if _, exists := s.shards[key]; exists {
		return interfaces.ErrShardSlotOccupied
	}
	s.shards[key] = shard
	return nil
}

// GetShard returns the shard record or ErrShardNotFound.
func (s *MemoryStore) GetShard(ctx context.Context, id interfaces.SessionID, index int) (interfaces.ShardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shard, exists := s.shards[shardKey{session: id, index: index}]
	if !exists {
		return interfaces.ShardRecord{}, interfaces.ErrShardNotFound
	}
	return shard, nil
}

// MarkShardVerified flips IsVerified and records the cleartext.
func (s *MemoryStore) MarkShardVerified(ctx context.Context, id interfaces.SessionID, index int, clearValue uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shardKey{session: id, index: index}
	shard, exists := s.shards[key]
	if !exists {
		return interfaces.ErrShardNotFound
	}
	if shard.IsVerified {
		return interfaces.ErrShardAlreadyVerified
	}
	shard.IsVerified = true
	shard.ClearValue = clearValue
	s.shards[key] = shard
	return nil
}

// VerifiedShards returns the verified shards of a session in index order.
func (s *MemoryStore) VerifiedShards(ctx context.Context, id interfaces.SessionID) ([]interfaces.ShardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}

	var out []interfaces.ShardRecord
	for index := 0; index < session.TotalShards; index++ {
		shard, ok := s.shards[shardKey{session: id, index: index}]
		if ok && shard.IsVerified {
			out = append(out, shard)
		}
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
