package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardguard/recovery-backend/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession(id string) interfaces.SessionRecord {
	var creator interfaces.GuardianAddress
	creator[19] = 0x01
	return interfaces.SessionRecord{
		ID:              interfaces.SessionID(id),
		Name:            "wallet recovery",
		Description:     "recover the family wallet",
		Threshold:       2,
		TotalShards:     3,
		CandidateValue1: 7,
		CandidateValue2: 42,
		Creator:         creator,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testShard(sessionID string, index int) interfaces.ShardRecord {
	var holder interfaces.GuardianAddress
	holder[19] = byte(index + 2)
	var handle interfaces.CiphertextHandle
	handle[0] = byte(index + 1)
	return interfaces.ShardRecord{
		SessionID:  interfaces.SessionID(sessionID),
		Index:      index,
		Handle:     handle,
		Ciphertext: []byte{0xde, 0xad, byte(index)},
		Holder:     holder,
	}
}

// storeFixtures returns one fresh instance per persistent backend worth
// exercising in unit tests. S3 and Vault need live services and are covered
// by the shared contract indirectly.
func storeFixtures(t *testing.T) map[string]interfaces.RecoveryStore {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "recovery.db"), testLogger())
	require.NoError(t, err)

	return map[string]interfaces.RecoveryStore{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			session := testSession("session-1")
			require.NoError(t, store.PutSession(ctx, session))

			got, err := store.GetSession(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, session.ID, got.ID)
			assert.Equal(t, session.Name, got.Name)
			assert.Equal(t, session.Threshold, got.Threshold)
			assert.Equal(t, session.TotalShards, got.TotalShards)
			assert.Equal(t, session.CandidateValue1, got.CandidateValue1)
			assert.Equal(t, session.CandidateValue2, got.CandidateValue2)
			assert.Equal(t, session.Creator, got.Creator)
			assert.False(t, got.IsComplete)
			assert.Zero(t, got.ReconstructedValue)

			err = store.PutSession(ctx, session)
			assert.ErrorIs(t, err, interfaces.ErrSessionAlreadyExists)

			_, err = store.GetSession(ctx, "no-such-session")
			assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
		})
	}
}

func TestStoreSessionIDsCreationOrder(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			ids, err := store.SessionIDs(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)

			want := []interfaces.SessionID{"zeta", "alpha", "mid"}
			for _, id := range want {
				session := testSession(string(id))
				session.ID = id
				require.NoError(t, store.PutSession(ctx, session))
			}

			ids, err = store.SessionIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, ids)
		})
	}
}

func TestStoreCompleteSessionIsOneWay(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			session := testSession("session-1")
			require.NoError(t, store.PutSession(ctx, session))

			require.NoError(t, store.CompleteSession(ctx, session.ID, 42))

			got, err := store.GetSession(ctx, session.ID)
			require.NoError(t, err)
			assert.True(t, got.IsComplete)
			assert.Equal(t, uint64(42), got.ReconstructedValue)

			err = store.CompleteSession(ctx, session.ID, 7)
			assert.Error(t, err)

			got, err = store.GetSession(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, uint64(42), got.ReconstructedValue)

			err = store.CompleteSession(ctx, "no-such-session", 1)
			assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
		})
	}
}

func TestStoreShardSlotsAreWriteOnce(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			session := testSession("session-1")
			require.NoError(t, store.PutSession(ctx, session))

			shard := testShard("session-1", 0)
			require.NoError(t, store.PutShard(ctx, shard))

			got, err := store.GetShard(ctx, session.ID, 0)
			require.NoError(t, err)
			assert.Equal(t, shard.Handle, got.Handle)
			assert.Equal(t, shard.Ciphertext, got.Ciphertext)
			assert.Equal(t, shard.Holder, got.Holder)
			assert.False(t, got.IsVerified)

			other := testShard("session-1", 0)
			other.Ciphertext = []byte{0xff}
			err = store.PutShard(ctx, other)
			assert.ErrorIs(t, err, interfaces.ErrShardSlotOccupied)

			got, err = store.GetShard(ctx, session.ID, 0)
			require.NoError(t, err)
			assert.Equal(t, shard.Ciphertext, got.Ciphertext)

			_, err = store.GetShard(ctx, session.ID, 1)
			assert.ErrorIs(t, err, interfaces.ErrShardNotFound)
		})
	}
}

func TestStoreMarkShardVerified(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			session := testSession("session-1")
			require.NoError(t, store.PutSession(ctx, session))
			require.NoError(t, store.PutShard(ctx, testShard("session-1", 1)))

			require.NoError(t, store.MarkShardVerified(ctx, session.ID, 1, 7))

			got, err := store.GetShard(ctx, session.ID, 1)
			require.NoError(t, err)
			assert.True(t, got.IsVerified)
			assert.Equal(t, uint64(7), got.ClearValue)

			err = store.MarkShardVerified(ctx, session.ID, 1, 42)
			assert.ErrorIs(t, err, interfaces.ErrShardAlreadyVerified)

			got, err = store.GetShard(ctx, session.ID, 1)
			require.NoError(t, err)
			assert.Equal(t, uint64(7), got.ClearValue)

			err = store.MarkShardVerified(ctx, session.ID, 2, 7)
			assert.ErrorIs(t, err, interfaces.ErrShardNotFound)
		})
	}
}

func TestStoreVerifiedShardsIndexOrder(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			session := testSession("session-1")
			require.NoError(t, store.PutSession(ctx, session))

			for _, index := range []int{2, 0, 1} {
				require.NoError(t, store.PutShard(ctx, testShard("session-1", index)))
			}

			// Verify out of order; results must still come back by index.
			require.NoError(t, store.MarkShardVerified(ctx, session.ID, 2, 42))
			require.NoError(t, store.MarkShardVerified(ctx, session.ID, 0, 7))

			verified, err := store.VerifiedShards(ctx, session.ID)
			require.NoError(t, err)
			require.Len(t, verified, 2)
			assert.Equal(t, 0, verified[0].Index)
			assert.Equal(t, uint64(7), verified[0].ClearValue)
			assert.Equal(t, 2, verified[1].Index)
			assert.Equal(t, uint64(42), verified[1].ClearValue)

			_, err = store.VerifiedShards(ctx, "no-such-session")
			assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
		})
	}
}

func TestStoreFactorySchemes(t *testing.T) {
	factory := NewStoreFactory(testLogger())

	store, err := factory.StoreFor("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = factory.StoreFor("file://" + t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = factory.StoreFor("sqlite://" + filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = factory.StoreFor("gopher://example.com")
	assert.ErrorIs(t, err, interfaces.ErrInvalidStoreURI)

	t.Setenv("VAULT_TOKEN", "")
	_, err = factory.StoreFor("vault://host:8200/secret/recovery")
	assert.ErrorIs(t, err, interfaces.ErrInvalidStoreURI)
}
