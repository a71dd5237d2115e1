package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shardguard/recovery-backend/interfaces"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	description         TEXT NOT NULL,
	threshold           INTEGER NOT NULL,
	total_shards        INTEGER NOT NULL,
	candidate_value1    INTEGER NOT NULL,
	candidate_value2    INTEGER NOT NULL,
	creator             TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	is_complete         INTEGER NOT NULL DEFAULT 0,
	reconstructed_value INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS shards (
	session_id  TEXT NOT NULL,
	shard_index INTEGER NOT NULL,
	handle      TEXT NOT NULL,
	ciphertext  BLOB NOT NULL,
	holder      TEXT NOT NULL,
	is_verified INTEGER NOT NULL DEFAULT 0,
	clear_value INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, shard_index)
);
`

// SQLiteStore persists records in an embedded SQLite database. The session
// registry order is the insertion rowid order of the sessions table.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. WAL journaling keeps readers from blocking the single writer.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", interfaces.ErrInvalidStoreURI)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// PutSession inserts a new session row.
func (s *SQLiteStore) PutSession(ctx context.Context, session interfaces.SessionRecord) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, string(session.ID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if exists > 0 {
		return interfaces.ErrSessionAlreadyExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, description, threshold, total_shards,
			candidate_value1, candidate_value2, creator, created_at, is_complete, reconstructed_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		string(session.ID), session.Name, session.Description, session.Threshold, session.TotalShards,
		int64(session.CandidateValue1), int64(session.CandidateValue2),
		session.Creator.String(), session.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns the session row or ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id interfaces.SessionID) (interfaces.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, threshold, total_shards,
			candidate_value1, candidate_value2, creator, created_at, is_complete, reconstructed_value
		FROM sessions WHERE id = ?`, string(id))
	return scanSession(row)
}

func scanSession(row *sql.Row) (interfaces.SessionRecord, error) {
	var (
		session            interfaces.SessionRecord
		rawID, creator     string
		cand1, cand2       int64
		createdAtMillis    int64
		isComplete         int
		reconstructedValue int64
	)
	err := row.Scan(&rawID, &session.Name, &session.Description, &session.Threshold, &session.TotalShards,
		&cand1, &cand2, &creator, &createdAtMillis, &isComplete, &reconstructedValue)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.SessionRecord{}, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return interfaces.SessionRecord{}, fmt.Errorf("failed to scan session: %w", err)
	}

	session.ID = interfaces.SessionID(rawID)
	session.CandidateValue1 = uint64(cand1)
	session.CandidateValue2 = uint64(cand2)
	session.CreatedAt = time.UnixMilli(createdAtMillis).UTC()
	session.IsComplete = isComplete != 0
	session.ReconstructedValue = uint64(reconstructedValue)

	addr, err := interfaces.NewGuardianAddressFromHex(creator)
	if err != nil {
		return interfaces.SessionRecord{}, fmt.Errorf("corrupt creator column: %w", err)
	}
	session.Creator = addr
	return session, nil
}

// CompleteSession flips is_complete and fixes the reconstructed value. The
// WHERE clause makes the flip one-way at the SQL level.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id interfaces.SessionID, reconstructed uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_complete = 1, reconstructed_value = ?
		WHERE id = ? AND is_complete = 0`,
		int64(reconstructed), string(id))
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("session %s is already complete", id)
	}
	return nil
}

// SessionIDs returns all session ids in creation (rowid) order.
func (s *SQLiteStore) SessionIDs(ctx context.Context) ([]interfaces.SessionID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []interfaces.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		out = append(out, interfaces.SessionID(id))
	}
	return out, rows.Err()
}

// PutShard inserts a new shard row into an empty slot.
func (s *SQLiteStore) PutShard(ctx context.Context, shard interfaces.ShardRecord) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM shards WHERE session_id = ? AND shard_index = ?`,
		string(shard.SessionID), shard.Index).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check shard slot: %w", err)
	}
	if exists > 0 {
		return interfaces.ErrShardSlotOccupied
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shards (session_id, shard_index, handle, ciphertext, holder, is_verified, clear_value)
		VALUES (?, ?, ?, ?, ?, 0, 0)`,
		string(shard.SessionID), shard.Index, shard.Handle.String(), shard.Ciphertext, shard.Holder.String())
	if err != nil {
		return fmt.Errorf("failed to insert shard: %w", err)
	}
	return nil
}

// GetShard returns the shard row or ErrShardNotFound.
func (s *SQLiteStore) GetShard(ctx context.Context, id interfaces.SessionID, index int) (interfaces.ShardRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, shard_index, handle, ciphertext, holder, is_verified, clear_value
		FROM shards WHERE session_id = ? AND shard_index = ?`, string(id), index)

	var (
		shard         interfaces.ShardRecord
		rawID         string
		handle        string
		holder        string
		isVerified    int
		clearValueRaw int64
	)
	err := row.Scan(&rawID, &shard.Index, &handle, &shard.Ciphertext, &holder, &isVerified, &clearValueRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ShardRecord{}, interfaces.ErrShardNotFound
	}
	if err != nil {
		return interfaces.ShardRecord{}, fmt.Errorf("failed to scan shard: %w", err)
	}

	shard.SessionID = interfaces.SessionID(rawID)
	shard.IsVerified = isVerified != 0
	shard.ClearValue = uint64(clearValueRaw)

	h, err := interfaces.NewCiphertextHandleFromHex(handle)
	if err != nil {
		return interfaces.ShardRecord{}, fmt.Errorf("corrupt handle column: %w", err)
	}
	shard.Handle = h

	addr, err := interfaces.NewGuardianAddressFromHex(holder)
	if err != nil {
		return interfaces.ShardRecord{}, fmt.Errorf("corrupt holder column: %w", err)
	}
	shard.Holder = addr
	return shard, nil
}

// MarkShardVerified flips is_verified and records the cleartext.
func (s *SQLiteStore) MarkShardVerified(ctx context.Context, id interfaces.SessionID, index int, clearValue uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shards SET is_verified = 1, clear_value = ?
		WHERE session_id = ? AND shard_index = ? AND is_verified = 0`,
		int64(clearValue), string(id), index)
	if err != nil {
		return fmt.Errorf("failed to mark shard verified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		shard, err := s.GetShard(ctx, id, index)
		if err != nil {
			return err
		}
		if shard.IsVerified {
			return interfaces.ErrShardAlreadyVerified
		}
		return interfaces.ErrShardNotFound
	}
	return nil
}

// VerifiedShards returns the verified shards of a session in index order.
func (s *SQLiteStore) VerifiedShards(ctx context.Context, id interfaces.SessionID) ([]interfaces.ShardRecord, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT shard_index FROM shards WHERE session_id = ? AND is_verified = 1 ORDER BY shard_index ASC`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list verified shards: %w", err)
	}
	defer rows.Close()

	var indexes []int
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, fmt.Errorf("failed to scan shard index: %w", err)
		}
		indexes = append(indexes, index)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]interfaces.ShardRecord, 0, len(indexes))
	for _, index := range indexes {
		shard, err := s.GetShard(ctx, id, index)
		if err != nil {
			return nil, err
		}
		out = append(out, shard)
	}
	return out, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
