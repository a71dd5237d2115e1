package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shardguard/recovery-backend/api/recoveryhandler"
	"github.com/shardguard/recovery-backend/cryptoutils"
	"github.com/shardguard/recovery-backend/interfaces"
)

// RecoveryClient talks to a recovery server, signing every mutating request
// with the guardian's key.
type RecoveryClient struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewRecoveryClient creates a client for the given server URL. The key signs
// mutating requests; it may be nil for a read-only client.
func NewRecoveryClient(baseURL string, key *ecdsa.PrivateKey) *RecoveryClient {
	return &RecoveryClient{
		baseURL: baseURL,
		key:     key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Address returns the guardian address of the client's key.
func (c *RecoveryClient) Address() (interfaces.GuardianAddress, error) {
	if c.key == nil {
		return interfaces.GuardianAddress{}, fmt.Errorf("client has no guardian key")
	}
	return cryptoutils.AddressOf(c.key), nil
}

func (c *RecoveryClient) doSigned(ctx context.Context, method, path string, reqBody, respBody any) error {
	if c.key == nil {
		return fmt.Errorf("guardian key required for %s %s", method, path)
	}

	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	message := append([]byte(path), bodyBytes...)
	signature, err := cryptoutils.SignRequest(c.key, message)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(recoveryhandler.GuardianAddressHeader, cryptoutils.AddressOf(c.key).String())
	req.Header.Set(recoveryhandler.GuardianSignatureHeader, hex.EncodeToString(signature))

	return c.do(req, respBody)
}

func (c *RecoveryClient) doGet(ctx context.Context, path string, respBody any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, respBody)
}

func (c *RecoveryClient) do(req *http.Request, respBody any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateSession creates a new recovery session with the client's guardian as
// creator.
func (c *RecoveryClient) CreateSession(ctx context.Context, req recoveryhandler.CreateSessionRequest) error {
	return c.doSigned(ctx, http.MethodPost, "/api/sessions", req, nil)
}

// SubmitShard seals clearValue to the oracle public key, signs the handle,
// and posts the resulting ciphertext at the given slot. Returns the
// ciphertext handle for later reference.
func (c *RecoveryClient) SubmitShard(ctx context.Context, oraclePub *[32]byte, sessionID string, index int, clearValue uint64) (interfaces.CiphertextHandle, error) {
	if c.key == nil {
		return interfaces.CiphertextHandle{}, fmt.Errorf("guardian key required to submit a shard")
	}

	ciphertext, handle, proof, err := cryptoutils.EncryptShardValue(oraclePub, c.key, clearValue)
	if err != nil {
		return interfaces.CiphertextHandle{}, fmt.Errorf("failed to seal shard value: %w", err)
	}

	path := fmt.Sprintf("/api/sessions/%s/shards/%d", sessionID, index)
	err = c.doSigned(ctx, http.MethodPost, path, recoveryhandler.AddShardRequest{
		Handle:     handle.String(),
		Ciphertext: hex.EncodeToString(ciphertext),
		Proof:      hex.EncodeToString(proof),
	}, nil)
	if err != nil {
		return interfaces.CiphertextHandle{}, err
	}
	return handle, nil
}

// VerifyShard submits a decryption proof for the shard at the given slot.
func (c *RecoveryClient) VerifyShard(ctx context.Context, sessionID string, index int, clearValue uint64, proof interfaces.DecryptionProof) error {
	path := fmt.Sprintf("/api/sessions/%s/shards/%d/verify", sessionID, index)
	return c.doSigned(ctx, http.MethodPost, path, recoveryhandler.VerifyShardRequest{
		ClearValue: clearValue,
		Proof:      hex.EncodeToString(proof),
	}, nil)
}

// GetSession returns the session status.
func (c *RecoveryClient) GetSession(ctx context.Context, sessionID string) (recoveryhandler.SessionResponse, error) {
	var out recoveryhandler.SessionResponse
	err := c.doGet(ctx, "/api/sessions/"+sessionID, &out)
	return out, err
}

// GetShard returns the shard status at the given slot.
func (c *RecoveryClient) GetShard(ctx context.Context, sessionID string, index int) (recoveryhandler.ShardResponse, error) {
	var out recoveryhandler.ShardResponse
	err := c.doGet(ctx, fmt.Sprintf("/api/sessions/%s/shards/%d", sessionID, index), &out)
	return out, err
}

// SessionIDs returns every session id in creation order.
func (c *RecoveryClient) SessionIDs(ctx context.Context) ([]string, error) {
	var out struct {
		SessionIDs []string `json:"session_ids"`
	}
	if err := c.doGet(ctx, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return out.SessionIDs, nil
}

// VerifiedCount returns the number of verified shards for a session.
func (c *RecoveryClient) VerifiedCount(ctx context.Context, sessionID string) (int, error) {
	var out struct {
		VerifiedCount int `json:"verified_count"`
	}
	if err := c.doGet(ctx, "/api/sessions/"+sessionID+"/verified-count", &out); err != nil {
		return 0, err
	}
	return out.VerifiedCount, nil
}
