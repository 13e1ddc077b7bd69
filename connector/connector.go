// Package connector supervises one live session per enabled chat platform.
// Each platform supplies a Driver variant; the Supervisor owns the lifecycle
// state machine (connect, authenticate, retry with backoff, reauth, stop) so
// adding a platform means adding a driver, not touching supervision.
package connector

import (
	"context"
	"time"

	"github.com/onnwee/chatmux/backend/message"
)

// State is the supervision lifecycle phase of a connector.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateLive           State = "live"
	StateBackoff        State = "backoff"
	StateAwaitingReauth State = "awaiting_reauth"
	StateStopped        State = "stopped"
)

// Driver is the platform-specific half of a connector. Dial establishes the
// network session; the returned Session completes the handshake and pumps
// events. Dial must return an error wrapping ErrConfigInvalid when required
// settings are missing.
type Driver interface {
	Platform() message.Platform
	Dial(ctx context.Context) (Session, error)
}

// Session is one live platform session.
type Session interface {
	// Authenticate obtains credentials and completes the platform handshake.
	Authenticate(ctx context.Context) error
	// Run pumps platform events until the session drops or ctx is
	// cancelled. A nil or ctx.Err() return means a clean stop.
	Run(ctx context.Context) error
	// Close releases the network session. Safe to call after Run returns.
	Close() error
}

// Event is a connector-health notification emitted on every state
// transition.
type Event struct {
	Platform message.Platform
	State    State
	Class    Class
	Err      error
	At       time.Time
}

// Status is a point-in-time supervision snapshot for status reporting.
type Status struct {
	Platform  message.Platform `json:"platform"`
	State     State            `json:"state"`
	Failures  int              `json:"consecutive_failures"`
	NextRetry time.Time        `json:"next_retry,omitzero"`
	LastError string           `json:"last_error,omitempty"`
	LastClass string           `json:"last_error_class,omitempty"`
	LiveSince time.Time        `json:"live_since,omitzero"`
}

// CredentialEvent signals a credential lifecycle change for a platform.
type CredentialEvent int

const (
	// CredentialUpdated means a new valid credential was stored; a connector
	// in AwaitingReauth may resume.
	CredentialUpdated CredentialEvent = iota
	// CredentialInvalid means the stored credential was rejected; a live
	// connector must drop to AwaitingReauth.
	CredentialInvalid
)

// CredentialSource delivers credential events per platform. Implemented by
// the token lifecycle manager. Event delivery is best-effort, so Generation
// exposes a counter that increases every time a new credential is stored; a
// supervisor compares generations to detect a replacement whose event it
// never saw.
type CredentialSource interface {
	Subscribe(platform message.Platform) <-chan CredentialEvent
	Generation(platform message.Platform) uint64
}
