package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/livesession/internal/queue"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrMessageQueued      = errors.New("message queued for delivery")
	ErrQueueFull          = errors.New("outbound queue full")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrClosed             = errors.New("connection manager closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidAddress     = errors.New("invalid address")
)

// Close codes
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseAbnormalClosure = websocket.CloseAbnormalClosure
)

// Event names published by the manager. Inbound frames are additionally
// published under their own "type".
const (
	EventConnected          = "connected"
	EventDisconnected       = "disconnected"
	EventError              = "error"
	EventMessage            = "message"
	EventReconnectScheduled = "reconnect_scheduled"
	EventReconnectExhausted = "reconnect_exhausted"
)

// State is the connection state. Only the manager changes it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the status string exposed to collaborators.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Identity tags one connection attempt for diagnostics and log correlation.
// It is not an authentication credential.
type Identity struct {
	ParticipantID string
	CreatedAt     time.Time
}

// NewIdentity builds an identity for participant created at now.
func NewIdentity(participantID string, now time.Time) Identity {
	return Identity{ParticipantID: participantID, CreatedAt: now}
}

// String renders the identity as "<participant>_<unix millis>".
func (i Identity) String() string {
	if i.CreatedAt.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s_%d", i.ParticipantID, i.CreatedAt.UnixMilli())
}

// Connected is published when a transport opens.
type Connected struct {
	Address       string
	ParticipantID string
	ConnectionID  string
}

// Disconnected is published when a transport closes or is closed locally.
type Disconnected struct {
	Code         int
	Reason       string
	ConnectionID string
}

// Errored is published on transport failures and server-reported errors.
// Server errors carry a wire.ServerError in Err.
type Errored struct {
	Err          error
	ConnectionID string
}

// ReconnectScheduled is published when a reconnect timer is armed.
type ReconnectScheduled struct {
	Attempt      int
	MaxAttempts  int
	Delay        time.Duration
	ConnectionID string
}

// ReconnectExhausted is published once automatic recovery gives up.
type ReconnectExhausted struct {
	Attempts      int
	Address       string
	ParticipantID string
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full WebSocket URL including query
	UserAgent        string        // Sent on the handshake when set
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	ParticipantParam     string               // Query parameter carrying the participant id
	MaxReconnectAttempts int                  // Automatic attempts before giving up
	Backoff              BackoffConfig        // Reconnect delay policy
	HeartbeatInterval    time.Duration        // Ping period while connected
	QueueCapacity        int                  // Max queued sends (0 = unbounded)
	QueueOverflow        queue.OverflowPolicy // Applied when QueueCapacity is reached
	Client               ClientConfig         // Template for each transport; URL is set per connect
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ParticipantParam:     "user_id",
		MaxReconnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 1 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
		},
		HeartbeatInterval: 30 * time.Second,
		QueueCapacity:     1024,
		QueueOverflow:     queue.DropOldest,
		Client:            DefaultClientConfig(),
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State             State
	Generation        uint64
	ReconnectAttempts int
	Queued            int
	QueueDropped      int64
	MessagesSent      int64
	MessagesReceived  int64
	MalformedFrames   int64
	PingsSent         int64
	LastPongAt        time.Time
	HeartbeatRunning  bool
}
