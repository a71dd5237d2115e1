package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/shardguard/recovery-backend/interfaces"
)

// VaultStore persists records in HashiCorp Vault using the KV v2 API.
// Each record is stored as a JSON document in the "record" field of a
// secret, and the registry order lives under a sessions-index secret
// rewritten under the store mutex.
type VaultStore struct {
	mu        sync.Mutex
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed store. The token authenticates all
// operations; mountPath is the KV v2 mount (e.g. "secret") and dataPath the
// prefix within it.
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}, nil
}

func (s *VaultStore) sessionPath(id interfaces.SessionID) string {
	return fmt.Sprintf("%s/sessions/%s", s.dataPath, hex.EncodeToString([]byte(id)))
}

func (s *VaultStore) shardPath(id interfaces.SessionID, index int) string {
	return fmt.Sprintf("%s/shards/%s/%d", s.dataPath, hex.EncodeToString([]byte(id)), index)
}

func (s *VaultStore) indexPath() string {
	return fmt.Sprintf("%s/sessions-index", s.dataPath)
}

func (s *VaultStore) getRecord(ctx context.Context, path string, v any, notFound error) error {
	secret, err := s.client.KVv2(s.mountPath).Get(ctx, path)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return notFound
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return notFound
	}

	raw, ok := secret.Data["record"].(string)
	if !ok {
		return fmt.Errorf("invalid record format in Vault secret at %s", path)
	}
	return json.Unmarshal([]byte(raw), v)
}

func (s *VaultStore) putRecord(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.client.KVv2(s.mountPath).Put(ctx, path, map[string]interface{}{
		"record": string(data),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Available checks whether Vault is initialized and unsealed.
func (s *VaultStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := s.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		s.log.Debug("Vault health check failed", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// PutSession inserts a new session record and appends its id to the index.
func (s *VaultStore) PutSession(ctx context.Context, session interfaces.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing interfaces.SessionRecord
	err := s.getRecord(ctx, s.sessionPath(session.ID), &existing, interfaces.ErrSessionNotFound)
	if err == nil {
		return interfaces.ErrSessionAlreadyExists
	}
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		return err
	}

	if err := s.putRecord(ctx, s.sessionPath(session.ID), session); err != nil {
		return err
	}

	ids, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	ids = append(ids, session.ID)
	return s.writeIndex(ctx, ids)
}

// GetSession returns the session record or ErrSessionNotFound.
func (s *VaultStore) GetSession(ctx context.Context, id interfaces.SessionID) (interfaces.SessionRecord, error) {
	var session interfaces.SessionRecord
	if err := s.getRecord(ctx, s.sessionPath(id), &session, interfaces.ErrSessionNotFound); err != nil {
		return interfaces.SessionRecord{}, err
	}
	return session, nil
}

// CompleteSession flips IsComplete and fixes the reconstructed value.
func (s *VaultStore) CompleteSession(ctx context.Context, id interfaces.SessionID, reconstructed uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.IsComplete {
		return fmt.Errorf("session %s is already complete", id)
	}
	session.IsComplete = true
	session.ReconstructedValue = reconstructed
	return s.putRecord(ctx, s.sessionPath(id), session)
}

func (s *VaultStore) readIndex(ctx context.Context) ([]interfaces.SessionID, error) {
	var lines []string
	err := s.getRecord(ctx, s.indexPath(), &lines, interfaces.ErrSessionNotFound)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]interfaces.SessionID, 0, len(lines))
	for _, line := range lines {
		raw, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("corrupt session index entry %q: %w", line, err)
		}
		out = append(out, interfaces.SessionID(raw))
	}
	return out, nil
}

func (s *VaultStore) writeIndex(ctx context.Context, ids []interfaces.SessionID) error {
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, hex.EncodeToString([]byte(id)))
	}
	return s.putRecord(ctx, s.indexPath(), lines)
}

// SessionIDs returns all session ids in creation order.
func (s *VaultStore) SessionIDs(ctx context.Context) ([]interfaces.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(ctx)
}

// PutShard inserts a new shard record into an empty slot.
func (s *VaultStore) PutShard(ctx context.Context, shard interfaces.ShardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing interfaces.ShardRecord
	err := s.getRecord(ctx, s.shardPath(shard.SessionID, shard.Index), &existing, interfaces.ErrShardNotFound)
	if err == nil {
		return interfaces.ErrShardSlotOccupied
	}
	if !errors.Is(err, interfaces.ErrShardNotFound) {
		return err
	}
	return s.putRecord(ctx, s.shardPath(shard.SessionID, shard.Index), shard)
}

// GetShard returns the shard record or ErrShardNotFound.
func (s *VaultStore) GetShard(ctx context.Context, id interfaces.SessionID, index int) (interfaces.ShardRecord, error) {
	var shard interfaces.ShardRecord
	if err := s.getRecord(ctx, s.shardPath(id, index), &shard, interfaces.ErrShardNotFound); err != nil {
		return interfaces.ShardRecord{}, err
	}
	return shard, nil
}

// MarkShardVerified flips IsVerified and records the cleartext.
func (s *VaultStore) MarkShardVerified(ctx context.Context, id interfaces.SessionID, index int, clearValue uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shard, err := s.GetShard(ctx, id, index)
	if err != nil {
		return err
	}
	if shard.IsVerified {
		return interfaces.ErrShardAlreadyVerified
	}
	shard.IsVerified = true
	shard.ClearValue = clearValue
	return s.putRecord(ctx, s.shardPath(id, index), shard)
}

// VerifiedShards returns the verified shards of a session in index order.
func (s *VaultStore) VerifiedShards(ctx context.Context, id interfaces.SessionID) ([]interfaces.ShardRecord, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []interfaces.ShardRecord
	for index := 0; index < session.TotalShards; index++ {
		shard, err := s.GetShard(ctx, id, index)
		if err != nil {
			if errors.Is(err, interfaces.ErrShardNotFound) {
				continue
			}
			return nil, err
		}
		if shard.IsVerified {
			out = append(out, shard)
		}
	}
	return out, nil
}

// Close is a no-op for the Vault store.
func (s *VaultStore) Close() error {
	return nil
}
