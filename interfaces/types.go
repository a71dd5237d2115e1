// Package interfaces defines the core types and contracts of the recovery
// service. It provides the boundary between the session engine, the stores,
// and the external cryptographic capabilities without implementation details.
package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SessionID uniquely identifies a recovery session. Assigned by the creator,
// immutable for the lifetime of the session.
type SessionID string

// NewSessionID validates a raw session identifier.
func NewSessionID(raw string) (SessionID, error) {
	if raw == "" {
		return "", errors.New("session id must not be empty")
	}
	if len(raw) > 128 {
		return "", errors.New("session id too long: must be at most 128 characters")
	}
	return SessionID(raw), nil
}

// String returns the raw identifier.
func (id SessionID) String() string {
	return string(id)
}

// Validate checks the identifier constraints.
func (id SessionID) Validate() error {
	_, err := NewSessionID(string(id))
	return err
}

// GuardianAddress identifies a guardian or session creator. It is the
// 20-byte address derived from the guardian's secp256k1 public key.
type GuardianAddress [20]byte

// NewGuardianAddressFromBytes creates a guardian address from raw bytes.
func NewGuardianAddressFromBytes(addr []byte) (GuardianAddress, error) {
	if len(addr) != 20 {
		return GuardianAddress{}, errors.New("invalid address length: must be 20 bytes")
	}

	var res GuardianAddress
	copy(res[:], addr)
	return res, nil
}

// NewGuardianAddressFromHex creates a guardian address from a hex string,
// with or without the 0x prefix.
func NewGuardianAddressFromHex(addr string) (GuardianAddress, error) {
	clean := strings.TrimPrefix(addr, "0x")
	if len(clean) != 40 {
		return GuardianAddress{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	addrBytes, err := hex.DecodeString(clean)
	if err != nil {
		return GuardianAddress{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewGuardianAddressFromBytes(addrBytes)
}

// String returns the hex string representation of the address.
func (addr GuardianAddress) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr GuardianAddress) Bytes() []byte {
	return addr[:]
}

// Equal compares two guardian addresses.
func (addr GuardianAddress) Equal(other GuardianAddress) bool {
	return addr == other
}

// MarshalText implements encoding.TextMarshaler (hex form for JSON).
func (addr GuardianAddress) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (addr *GuardianAddress) UnmarshalText(text []byte) error {
	parsed, err := NewGuardianAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// CiphertextHandle is the 32-byte digest identifying a stored shard
// ciphertext. Decryption proofs bind to this exact handle, which is what
// prevents replaying a proof against a different shard.
type CiphertextHandle [32]byte

// NewCiphertextHandleFromBytes creates a handle from raw bytes.
func NewCiphertextHandleFromBytes(source []byte) (CiphertextHandle, error) {
	if len(source) != 32 {
		return CiphertextHandle{}, errors.New("invalid handle length: must be 32 bytes")
	}

	var h CiphertextHandle
	copy(h[:], source)
	return h, nil
}

// NewCiphertextHandleFromHex creates a handle from a hex string.
func NewCiphertextHandleFromHex(source string) (CiphertextHandle, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return CiphertextHandle{}, errors.New("invalid handle length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return CiphertextHandle{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewCiphertextHandleFromBytes(raw)
}

// String returns the hex representation.
func (h CiphertextHandle) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32-byte handle.
func (h CiphertextHandle) Bytes() []byte {
	return h[:]
}

// Equal compares two handles.
func (h CiphertextHandle) Equal(other CiphertextHandle) bool {
	return bytes.Equal(h[:], other[:])
}

// MarshalText implements encoding.TextMarshaler (hex form for JSON).
func (h CiphertextHandle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *CiphertextHandle) UnmarshalText(text []byte) error {
	parsed, err := NewCiphertextHandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
