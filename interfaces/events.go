package interfaces

import "time"

// EventKind names the observable transitions of the session state machine.
type EventKind string

const (
	EventSessionCreated   EventKind = "session_created"
	EventShardAdded       EventKind = "shard_added"
	EventShardVerified    EventKind = "shard_verified"
	EventSessionCompleted EventKind = "session_completed"
)

// Event is one observable state transition. Events are published in the
// serialized operation order and are at-least-once observable; they exist
// for observability only and engine correctness never depends on them.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID SessionID `json:"session_id"`

	// ShardIndex is set for shard events.
	ShardIndex int `json:"shard_index,omitempty"`

	// Guardian is the acting identity: creator for session_created, holder
	// for shard_added.
	Guardian GuardianAddress `json:"guardian,omitempty"`

	// ReconstructedValue is set for session_completed.
	ReconstructedValue uint64 `json:"reconstructed_value,omitempty"`

	At time.Time `json:"at"`
}

// Notifier consumes engine events. Implementations must not block for long;
// the engine publishes synchronously while holding the session lock.
type Notifier interface {
	Notify(event Event)
}
