package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/shardguard/recovery-backend/interfaces"
)

// S3Store persists records in Amazon S3 or a compatible service. Records are
// JSON objects under prefix/sessions/ and prefix/shards/, and the registry
// order lives in a prefix/sessions.index object rewritten under the store
// mutex. A single server process owns the bucket prefix.
type S3Store struct {
	mu         sync.Mutex
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Store creates an S3-backed store. If accessKey and secretKey are
// empty the default credential chain is used.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.TrimSuffix(prefix, "/"),
		log:        log,
	}, nil
}

func (s *S3Store) sessionKey(id interfaces.SessionID) string {
	return path.Join(s.prefix, "sessions", hex.EncodeToString([]byte(id))+".json")
}

func (s *S3Store) shardKey(id interfaces.SessionID, index int) string {
	return path.Join(s.prefix, "shards", hex.EncodeToString([]byte(id)), fmt.Sprintf("%d.json", index))
}

func (s *S3Store) indexKey() string {
	return path.Join(s.prefix, "sessions.index")
}

func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) || strings.Contains(err.Error(), "404")
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

func (s *S3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}
	return nil
}

func (s *S3Store) getJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.getObject(ctx, key)
	if err != nil {
		if isNoSuchKey(err) {
			return notFound
		}
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	return json.Unmarshal(data, v)
}

func (s *S3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.putObject(ctx, key, data)
}

// objectExists reports whether an object is present at key.
func (s *S3Store) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) || strings.Contains(err.Error(), "NotFound") {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object: %w", err)
	}
	return true, nil
}

// Available checks whether the bucket is reachable.
func (s *S3Store) Available(ctx context.Context) bool {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if err != nil {
		s.log.Warn("S3 store unavailable", slog.String("bucket", s.bucketName), "err", err)
		return false
	}
	return true
}

// PutSession inserts a new session record and appends its id to the index.
func (s *S3Store) PutSession(ctx context.Context, session interfaces.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.objectExists(ctx, s.sessionKey(session.ID))
	if err != nil {
		return err
	}
	if exists {
		return interfaces.ErrSessionAlreadyExists
	}

	if err := s.putJSON(ctx, s.sessionKey(session.ID), session); err != nil {
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
func (s *S3Store) GetSession(ctx context.Context, id interfaces.SessionID) (interfaces.SessionRecord, error) {
	var session interfaces.SessionRecord
	if err := s.getJSON(ctx, s.sessionKey(id), &session, interfaces.ErrSessionNotFound); err != nil {
		return interfaces.SessionRecord{}, err
	}
	return session, nil
}

// CompleteSession flips IsComplete and fixes the reconstructed value.
func (s *S3Store) CompleteSession(ctx context.Context, id interfaces.SessionID, reconstructed uint64) error {
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
	return s.putJSON(ctx, s.sessionKey(id), session)
}

func (s *S3Store) readIndex(ctx context.Context) ([]interfaces.SessionID, error) {
	data, err := s.getObject(ctx, s.indexKey())
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
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

func (s *S3Store) writeIndex(ctx context.Context, ids []interfaces.SessionID) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(hex.EncodeToString([]byte(id)))
		b.WriteByte('\n')
	}
	return s.putObject(ctx, s.indexKey(), []byte(b.String()))
}

// SessionIDs returns all session ids in creation order.
func (s *S3Store) SessionIDs(ctx context.Context) ([]interfaces.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(ctx)
}

// PutShard inserts a new shard record into an empty slot.
func (s *S3Store) PutShard(ctx context.Context, shard interfaces.ShardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.shardKey(shard.SessionID, shard.Index)
	exists, err := s.objectExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return interfaces.ErrShardSlotOccupied
	}
	return s.putJSON(ctx, key, shard)
}

// GetShard returns the shard record or ErrShardNotFound.
func (s *S3Store) GetShard(ctx context.Context, id interfaces.SessionID, index int) (interfaces.ShardRecord, error) {
	var shard interfaces.ShardRecord
	if err := s.getJSON(ctx, s.shardKey(id, index), &shard, interfaces.ErrShardNotFound); err != nil {
		return interfaces.ShardRecord{}, err
	}
	return shard, nil
}

// MarkShardVerified flips IsVerified and records the cleartext.
func (s *S3Store) MarkShardVerified(ctx context.Context, id interfaces.SessionID, index int, clearValue uint64) error {
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
	return s.putJSON(ctx, s.shardKey(id, index), shard)
}

// VerifiedShards returns the verified shards of a session in index order.
func (s *S3Store) VerifiedShards(ctx context.Context, id interfaces.SessionID) ([]interfaces.ShardRecord, error) {
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

// Close is a no-op for the S3 store.
func (s *S3Store) Close() error {
	return nil
}
