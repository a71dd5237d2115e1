package recoveryhandler

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardguard/recovery-backend/cryptoutils"
	"github.com/shardguard/recovery-backend/engine"
	"github.com/shardguard/recovery-backend/storage"
)

type testEnv struct {
	server *httptest.Server
	oracle *cryptoutils.Oracle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()

	oracle, err := cryptoutils.NewOracle()
	require.NoError(t, err)

	eng := engine.New(store, store, oracle.Verifier(), oracle, nil, log)
	handler := NewHandler(eng, log)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, oracle: oracle}
}

// signedRequest performs an HTTP request authenticated with the guardian key.
func (env *testEnv) signedRequest(t *testing.T, key *ecdsa.PrivateKey, method, path string, body any) *http.Response {
	t.Helper()

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		require.NoError(t, err)
	}

	message := append([]byte(path), bodyBytes...)
	signature, err := cryptoutils.SignRequest(key, message)
	require.NoError(t, err)

	req, err := http.NewRequest(method, env.server.URL+path, bytes.NewReader(bodyBytes))
	require.NoError(t, err)
	req.Header.Set(GuardianAddressHeader, cryptoutils.AddressOf(key).String())
	req.Header.Set(GuardianSignatureHeader, hex.EncodeToString(signature))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (env *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(env.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createSession(t *testing.T, env *testEnv, key *ecdsa.PrivateKey, id string, threshold, total int) {
	t.Helper()
	resp := env.signedRequest(t, key, http.MethodPost, "/api/sessions", CreateSessionRequest{
		SessionID:       id,
		Name:            "wallet recovery",
		Threshold:       threshold,
		TotalShards:     total,
		CandidateValue1: 7,
		CandidateValue2: 42,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// submitShard seals value to the oracle, signs it with the guardian key, and
// posts it at the given index. Returns the ciphertext for later decryption.
func submitShard(t *testing.T, env *testEnv, key *ecdsa.PrivateKey, sessionID string, index int, value uint64) []byte {
	t.Helper()

	ciphertext, handle, proof, err := cryptoutils.EncryptShardValue(env.oracle.PublicKey(), key, value)
	require.NoError(t, err)

	path := "/api/sessions/" + sessionID + "/shards/" + strconv.Itoa(index)
	resp := env.signedRequest(t, key, http.MethodPost, path, AddShardRequest{
		Handle:     handle.String(),
		Ciphertext: hex.EncodeToString(ciphertext),
		Proof:      hex.EncodeToString(proof),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return ciphertext
}

func verifyShard(t *testing.T, env *testEnv, key *ecdsa.PrivateKey, sessionID string, index int, ciphertext []byte) *http.Response {
	t.Helper()

	value, proof, err := env.oracle.Decrypt(ciphertext)
	require.NoError(t, err)

	path := "/api/sessions/" + sessionID + "/shards/" + strconv.Itoa(index) + "/verify"
	return env.signedRequest(t, key, http.MethodPost, path, VerifyShardRequest{
		ClearValue: value,
		Proof:      hex.EncodeToString(proof),
	})
}

func TestFullRecoveryFlow(t *testing.T) {
	env := newTestEnv(t)

	key, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)

	createSession(t, env, key, "family-wallet", 2, 3)

	ct0 := submitShard(t, env, key, "family-wallet", 0, 7)
	ct1 := submitShard(t, env, key, "family-wallet", 1, 42)

	resp := verifyShard(t, env, key, "family-wallet", 0, ct0)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var session SessionResponse
	decodeBody(t, env.get(t, "/api/sessions/family-wallet"), &session)
	assert.False(t, session.IsComplete)

	resp = verifyShard(t, env, key, "family-wallet", 1, ct1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	decodeBody(t, env.get(t, "/api/sessions/family-wallet"), &session)
	assert.True(t, session.IsComplete)
	assert.Equal(t, uint64(7^42), session.ReconstructedValue)

	var count struct {
		VerifiedCount int `json:"verified_count"`
	}
	decodeBody(t, env.get(t, "/api/sessions/family-wallet/verified-count"), &count)
	assert.Equal(t, 2, count.VerifiedCount)
}

func TestReverifyIsSuccessEquivalent(t *testing.T) {
	env := newTestEnv(t)

	key, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)

	createSession(t, env, key, "s1", 2, 3)
	ct := submitShard(t, env, key, "s1", 0, 7)

	resp := verifyShard(t, env, key, "s1", 0, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = verifyShard(t, env, key, "s1", 0, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		AlreadyVerified bool `json:"already_verified"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.AlreadyVerified)
}

func TestZeroReconstructedValueIsReported(t *testing.T) {
	env := newTestEnv(t)

	key, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)

	// Two shards of the same value fold to zero.
	resp := env.signedRequest(t, key, http.MethodPost, "/api/sessions", CreateSessionRequest{
		SessionID:       "even-fold",
		Threshold:       2,
		TotalShards:     2,
		CandidateValue1: 7,
		CandidateValue2: 7,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ct0 := submitShard(t, env, key, "even-fold", 0, 7)
	ct1 := submitShard(t, env, key, "even-fold", 1, 7)
	verifyShard(t, env, key, "even-fold", 0, ct0).Body.Close()
	verifyShard(t, env, key, "even-fold", 1, ct1).Body.Close()

	var raw map[string]any
	decodeBody(t, env.get(t, "/api/sessions/even-fold"), &raw)
	assert.Equal(t, true, raw["is_complete"])

	value, ok := raw["reconstructed_value"]
	require.True(t, ok)
	assert.Equal(t, float64(0), value)
}

func TestAuthRejectsBadSignatures(t *testing.T) {
	env := newTestEnv(t)

	key, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)
	otherKey, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)

	body, err := json.Marshal(CreateSessionRequest{SessionID: "s1", Threshold: 1, TotalShards: 1})
	require.NoError(t, err)

	// No headers at all.
	resp, err := http.Post(env.server.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Signature from one key, address of another.
	message := append([]byte("/api/sessions"), body...)
	signature, err := cryptoutils.SignRequest(otherKey, message)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/sessions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(GuardianAddressHeader, cryptoutils.AddressOf(key).String())
	req.Header.Set(GuardianSignatureHeader, hex.EncodeToString(signature))

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	key, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)

	// Bad threshold.
	resp := env.signedRequest(t, key, http.MethodPost, "/api/sessions", CreateSessionRequest{
		SessionID: "s1", Threshold: 5, TotalShards: 3,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	createSession(t, env, key, "s1", 2, 3)

	// Duplicate session.
	resp = env.signedRequest(t, key, http.MethodPost, "/api/sessions", CreateSessionRequest{
		SessionID: "s1", Threshold: 2, TotalShards: 3,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown session.
	resp = env.get(t, "/api/sessions/no-such-session")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Occupied slot.
	submitShard(t, env, key, "s1", 0, 7)
	ciphertext, handle, proof, err := cryptoutils.EncryptShardValue(env.oracle.PublicKey(), key, 42)
	require.NoError(t, err)
	resp = env.signedRequest(t, key, http.MethodPost, "/api/sessions/s1/shards/0", AddShardRequest{
		Handle:     handle.String(),
		Ciphertext: hex.EncodeToString(ciphertext),
		Proof:      hex.EncodeToString(proof),
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Forged decryption proof.
	forged, err := cryptoutils.GenerateGuardianKey()
	require.NoError(t, err)
	badProof, err := cryptoutils.SignRequest(forged, []byte("nonsense"))
	require.NoError(t, err)
	resp = env.signedRequest(t, key, http.MethodPost, "/api/sessions/s1/shards/0/verify", VerifyShardRequest{
		ClearValue: 7,
		Proof:      hex.EncodeToString(badProof),
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
