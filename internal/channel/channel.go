package channel

import (
	"context"
	"encoding/json"
)

// State is the coarse connection state exposed to the engine. Reconnection
// and backoff live in the transport; the engine only needs to know whether a
// send can be attempted right now.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// AckFunc receives the raw acknowledgment payload for a request. It is
// invoked at most once per request.
type AckFunc func(data json.RawMessage)

// EventHandler receives the raw payload of a server-pushed event.
type EventHandler func(data json.RawMessage)

// Transport is the persistent bidirectional channel the engine talks over.
// All sends are best-effort; correctness comes from acknowledgments.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error

	// Emit sends a one-way event.
	Emit(ctx context.Context, event string, payload interface{}) error

	// EmitWithAck sends a request and registers a request-scoped ack
	// callback. The callback fires from the transport's read loop.
	EmitWithAck(ctx context.Context, event string, payload interface{}, ack AckFunc) error

	// On subscribes to a server-pushed event and returns a disposer.
	On(event string, handler EventHandler) func()

	State() State

	// OnStateChange subscribes to connection state transitions and returns
	// a disposer.
	OnStateChange(fn func(State)) func()
}

// Identity supplies the current user, read-only. Session management is an
// external collaborator.
type Identity interface {
	UserID() string
	UserType() string
}

// StaticIdentity is an Identity with fixed values.
type StaticIdentity struct {
	ID   string
	Type string
}

func (s StaticIdentity) UserID() string   { return s.ID }
func (s StaticIdentity) UserType() string { return s.Type }
