// Package recoveryhandler exposes the recovery engine over HTTP. Mutating
// endpoints are guardian-authenticated: the caller signs the request path
// plus body with their secp256k1 key and sends the address and signature in
// headers. The recovered signer must match the claimed address.
package recoveryhandler

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shardguard/recovery-backend/cryptoutils"
	"github.com/shardguard/recovery-backend/engine"
	"github.com/shardguard/recovery-backend/interfaces"
)

// Authentication headers for guardian-signed requests.
const (
	GuardianAddressHeader   = "X-Guardian-Address"
	GuardianSignatureHeader = "X-Guardian-Signature"
)

// Handler processes recovery API requests against a single engine.
type Handler struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewHandler creates a handler over the given engine.
func NewHandler(engine *engine.Engine, log *slog.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// RegisterRoutes configures the HTTP router for the recovery API.
//
// The router provides endpoints:
//   - POST /api/sessions: create a recovery session
//   - GET /api/sessions: list all session ids
//   - GET /api/sessions/{session_id}: session status
//   - POST /api/sessions/{session_id}/shards/{shard_index}: submit a shard
//   - GET /api/sessions/{session_id}/shards/{shard_index}: shard status
//   - POST /api/sessions/{session_id}/shards/{shard_index}/verify: verify a shard
//   - GET /api/sessions/{session_id}/verified-count: verified shard count
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sessions", h.handleCreateSession)
	r.Get("/api/sessions", h.handleListSessions)
	r.Get("/api/sessions/{session_id}", h.handleGetSession)
	r.Post("/api/sessions/{session_id}/shards/{shard_index}", h.handleAddShard)
	r.Get("/api/sessions/{session_id}/shards/{shard_index}", h.handleGetShard)
	r.Post("/api/sessions/{session_id}/shards/{shard_index}/verify", h.handleVerifyShard)
	r.Get("/api/sessions/{session_id}/verified-count", h.handleVerifiedCount)
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	SessionID       string `json:"session_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Threshold       int    `json:"threshold"`
	TotalShards     int    `json:"total_shards"`
	CandidateValue1 uint64 `json:"candidate_value1"`
	CandidateValue2 uint64 `json:"candidate_value2"`
}

// AddShardRequest is the body of POST .../shards/{shard_index}.
type AddShardRequest struct {
	Handle     string `json:"handle"`     // hex, 32 bytes
	Ciphertext string `json:"ciphertext"` // hex
	Proof      string `json:"proof"`      // hex, submission proof
}

// VerifyShardRequest is the body of POST .../shards/{shard_index}/verify.
type VerifyShardRequest struct {
	ClearValue uint64 `json:"clear_value"`
	Proof      string `json:"proof"` // hex, decryption proof
}

// SessionResponse mirrors the stored session record.
type SessionResponse struct {
	SessionID          string    `json:"session_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Threshold          int       `json:"threshold"`
	TotalShards        int       `json:"total_shards"`
	CandidateValue1    uint64    `json:"candidate_value1"`
	CandidateValue2    uint64    `json:"candidate_value2"`
	Creator            string    `json:"creator"`
	CreatedAt          time.Time `json:"created_at"`
	IsComplete         bool      `json:"is_complete"`
	ReconstructedValue uint64    `json:"reconstructed_value"`
}

// ShardResponse mirrors the stored shard record, minus the ciphertext.
type ShardResponse struct {
	SessionID  string `json:"session_id"`
	ShardIndex int    `json:"shard_index"`
	Handle     string `json:"handle"`
	Holder     string `json:"holder"`
	IsVerified bool   `json:"is_verified"`
	ClearValue uint64 `json:"clear_value,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrSessionAlreadyExists),
		errors.Is(err, interfaces.ErrShardSlotOccupied):
		status = http.StatusConflict
	default:
		switch interfaces.ClassOf(err) {
		case interfaces.ClassMalformedRequest:
			status = http.StatusBadRequest
		case interfaces.ClassNotFound:
			status = http.StatusNotFound
		case interfaces.ClassProofRejected:
			status = http.StatusUnprocessableEntity
		}
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
		h.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// verifyGuardian authenticates a request. The signature covers the request
// path concatenated with the raw body; the body is restored for the handler.
func (h *Handler) verifyGuardian(r *http.Request) (interfaces.GuardianAddress, bool) {
	claimed := r.Header.Get(GuardianAddressHeader)
	signatureHex := r.Header.Get(GuardianSignatureHeader)
	if claimed == "" || signatureHex == "" {
		return interfaces.GuardianAddress{}, false
	}

	address, err := interfaces.NewGuardianAddressFromHex(claimed)
	if err != nil {
		h.log.Warn("Authentication failed: malformed guardian address", "address", claimed)
		return interfaces.GuardianAddress{}, false
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		h.log.Warn("Authentication failed: invalid signature encoding", "guardian", claimed)
		return interfaces.GuardianAddress{}, false
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			h.log.Error("Failed to read request body", "err", err)
			return interfaces.GuardianAddress{}, false
		}
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	message := append([]byte(r.URL.Path), bodyBytes...)
	signer, err := cryptoutils.RecoverSigner(message, signature)
	if err != nil {
		h.log.Warn("Authentication failed: signature recovery failed", "guardian", claimed, "err", err)
		return interfaces.GuardianAddress{}, false
	}
	if !signer.Equal(address) {
		h.log.Warn("Authentication failed: signer mismatch",
			"guardian", claimed, "signer", signer.String())
		return interfaces.GuardianAddress{}, false
	}
	return address, true
}

// handleCreateSession creates a new recovery session. The authenticated
// caller becomes the session creator.
//
// Endpoint: POST /api/sessions
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	creator, ok := h.verifyGuardian(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.engine.CreateSession(r.Context(), engine.CreateSessionParams{
		ID:              interfaces.SessionID(req.SessionID),
		Name:            req.Name,
		Description:     req.Description,
		Threshold:       req.Threshold,
		TotalShards:     req.TotalShards,
		CandidateValue1: req.CandidateValue1,
		CandidateValue2: req.CandidateValue2,
		Creator:         creator,
		Now:             time.Now(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

// handleListSessions returns every session id in creation order.
//
// Endpoint: GET /api/sessions
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.engine.GetAllSessionIDs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"session_ids": out})
}

// handleGetSession returns the session status.
//
// Endpoint: GET /api/sessions/{session_id}
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := interfaces.SessionID(chi.URLParam(r, "session_id"))

	session, err := h.engine.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, sessionToResponse(session))
}

func sessionToResponse(session interfaces.SessionRecord) SessionResponse {
	return SessionResponse{
		SessionID:          session.ID.String(),
		Name:               session.Name,
		Description:        session.Description,
		Threshold:          session.Threshold,
		TotalShards:        session.TotalShards,
		CandidateValue1:    session.CandidateValue1,
		CandidateValue2:    session.CandidateValue2,
		Creator:            session.Creator.String(),
		CreatedAt:          session.CreatedAt,
		IsComplete:         session.IsComplete,
		ReconstructedValue: session.ReconstructedValue,
	}
}

// handleAddShard stores a shard at an empty slot. The authenticated caller
// becomes the shard holder; the submission proof must attribute the
// ciphertext to them.
//
// Endpoint: POST /api/sessions/{session_id}/shards/{shard_index}
func (h *Handler) handleAddShard(w http.ResponseWriter, r *http.Request) {
	submitter, ok := h.verifyGuardian(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, index, ok := h.shardParams(w, r)
	if !ok {
		return
	}

	var req AddShardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	handle, err := interfaces.NewCiphertextHandleFromHex(req.Handle)
	if err != nil {
		http.Error(w, "Invalid handle encoding", http.StatusBadRequest)
		return
	}
	ciphertext, err := hex.DecodeString(req.Ciphertext)
	if err != nil {
		http.Error(w, "Invalid ciphertext encoding", http.StatusBadRequest)
		return
	}
	proof, err := hex.DecodeString(req.Proof)
	if err != nil {
		http.Error(w, "Invalid proof encoding", http.StatusBadRequest)
		return
	}

	err = h.engine.AddShard(r.Context(), sessionID, index, handle, ciphertext, proof, submitter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":  sessionID.String(),
		"shard_index": index,
	})
}

// handleGetShard returns a shard's status without the ciphertext.
//
// Endpoint: GET /api/sessions/{session_id}/shards/{shard_index}
func (h *Handler) handleGetShard(w http.ResponseWriter, r *http.Request) {
	sessionID, index, ok := h.shardParams(w, r)
	if !ok {
		return
	}

	shard, err := h.engine.GetShard(r.Context(), sessionID, index)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ShardResponse{
		SessionID:  shard.SessionID.String(),
		ShardIndex: shard.Index,
		Handle:     shard.Handle.String(),
		Holder:     shard.Holder.String(),
		IsVerified: shard.IsVerified,
		ClearValue: shard.ClearValue,
	})
}

// handleVerifyShard verifies a shard with a decryption proof. Re-verifying
// an already-verified shard is success-equivalent and answers 200 with
// already_verified set.
//
// Endpoint: POST /api/sessions/{session_id}/shards/{shard_index}/verify
func (h *Handler) handleVerifyShard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.verifyGuardian(r); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, index, ok := h.shardParams(w, r)
	if !ok {
		return
	}

	var req VerifyShardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	proof, err := hex.DecodeString(req.Proof)
	if err != nil {
		http.Error(w, "Invalid proof encoding", http.StatusBadRequest)
		return
	}

	err = h.engine.VerifyShard(r.Context(), sessionID, index, req.ClearValue, proof)
	if errors.Is(err, interfaces.ErrShardAlreadyVerified) {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"session_id":       sessionID.String(),
			"shard_index":      index,
			"already_verified": true,
		})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID.String(),
		"shard_index": index,
		"verified":    true,
	})
}

// handleVerifiedCount returns the number of verified shards for a session.
//
// Endpoint: GET /api/sessions/{session_id}/verified-count
func (h *Handler) handleVerifiedCount(w http.ResponseWriter, r *http.Request) {
	sessionID := interfaces.SessionID(chi.URLParam(r, "session_id"))

	count, err := h.engine.GetVerifiedShardCount(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sessionID.String(),
		"verified_count": count,
	})
}

func (h *Handler) shardParams(w http.ResponseWriter, r *http.Request) (interfaces.SessionID, int, bool) {
	sessionID := interfaces.SessionID(chi.URLParam(r, "session_id"))
	index, err := strconv.Atoi(chi.URLParam(r, "shard_index"))
	if err != nil {
		http.Error(w, "Invalid shard index", http.StatusBadRequest)
		return "", 0, false
	}
	return sessionID, index, true
}
