package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shardguard/recovery-backend/interfaces"
)

// FileStore persists records on the local filesystem: one JSON document per
// session under sessions/, one per shard under shards/<session>/, and an
// append-only sessions.index file holding the registry in creation order.
// Session ids are hex-encoded in file names so arbitrary ids cannot escape
// the base directory.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
	log     *slog.Logger
}

// NewFileStore creates a file store rooted at baseDir, creating the
// directory layout if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "sessions"), filepath.Join(baseDir, "shards")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &FileStore{baseDir: baseDir, log: log}, nil
}

func (s *FileStore) sessionPath(id interfaces.SessionID) string {
	return filepath.Join(s.baseDir, "sessions", hex.EncodeToString([]byte(id))+".json")
}

func (s *FileStore) shardPath(id interfaces.SessionID, index int) string {
	return filepath.Join(s.baseDir, "shards", hex.EncodeToString([]byte(id)), fmt.Sprintf("%d.json", index))
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, "sessions.index")
}

func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return os.Rename(tmp, path)
}

func readJSONFile(path string, v any, notFound error) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	return json.Unmarshal(data, v)
}

// PutSession inserts a new session record and appends its id to the index.
func (s *FileStore) PutSession(ctx context.Context, session interfaces.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(session.ID)
	if _, err := os.Stat(path); err == nil {
		return interfaces.ErrSessionAlreadyExists
	}
	if err := writeJSONFile(path, session); err != nil {
		return err
	}

	f, err := os.OpenFile(s.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open session index: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, hex.EncodeToString([]byte(session.ID))); err != nil {
		return fmt.Errorf("failed to append session index: %w", err)
	}

	s.log.Debug("Stored session record", slog.String("path", path))
	return nil
}

// GetSession returns the session record or ErrSessionNotFound.
func (s *FileStore) GetSession(ctx context.Context, id interfaces.SessionID) (interfaces.SessionRecord, error) {
	var session interfaces.SessionRecord
	if err := readJSONFile(s.sessionPath(id), &session, interfaces.ErrSessionNotFound); err != nil {
		return interfaces.SessionRecord{}, err
	}
	return session, nil
}

// CompleteSession flips IsComplete and fixes the reconstructed value.
func (s *FileStore) CompleteSession(ctx context.Context, id interfaces.SessionID, reconstructed uint64) error {
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
	return writeJSONFile(s.sessionPath(id), session)
}

// SessionIDs returns all session ids in creation order.
func (s *FileStore) SessionIDs(ctx context.Context) ([]interfaces.SessionID, error) {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}

	var out []interfaces.SessionID
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("corrupt session index entry %q: %w", line, err)
		}
		out = append(out, interfaces.SessionID(raw))
	}
	return out, nil
}

// PutShard inserts a new shard record into an empty slot.
func (s *FileStore) PutShard(ctx context.Context, shard interfaces.ShardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.shardPath(shard.SessionID, shard.Index)
	if _, err := os.Stat(path); err == nil {
		return interfaces.ErrShardSlotOccupied
	}
	return writeJSONFile(path, shard)
}

// GetShard returns the shard record or ErrShardNotFound.
func (s *FileStore) GetShard(ctx context.Context, id interfaces.SessionID, index int) (interfaces.ShardRecord, error) {
	var shard interfaces.ShardRecord
	if err := readJSONFile(s.shardPath(id, index), &shard, interfaces.ErrShardNotFound); err != nil {
		return interfaces.ShardRecord{}, err
	}
	return shard, nil
}

// MarkShardVerified flips IsVerified and records the cleartext.
func (s *FileStore) MarkShardVerified(ctx context.Context, id interfaces.SessionID, index int, clearValue uint64) error {
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
	return writeJSONFile(s.shardPath(id, index), shard)
}

// VerifiedShards returns the verified shards of a session in index order.
func (s *FileStore) VerifiedShards(ctx context.Context, id interfaces.SessionID) ([]interfaces.ShardRecord, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []interfaces.ShardRecord
	for index := 0; index < session.TotalShards; index++ {
		shard, err := s.GetShard(ctx, id, index)
		if errors.Is(err, interfaces.ErrShardNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if shard.IsVerified {
			out = append(out, shard)
		}
	}
	return out, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
