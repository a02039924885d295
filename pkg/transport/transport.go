// Package transport defines the abstract, byte-oriented contract the
// protocol engine in pkg/modbus consumes. It makes no assumption about the
// underlying channel (serial port, TCP socket, or an in-memory mock used
// for tests), only that bytes arrive in the order they were received.
package transport

import (
	"context"
	"time"
)

// ConnectionState represents the current state of a transport connection.
type ConnectionState int

const (
	// StateDisconnected indicates the transport is not connected.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates the transport is connected and ready.
	StateConnected
	// StateError indicates the transport is in an error state.
	StateError
)

func (s ConnectionState) String() string {
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

// Transport is the abstract channel the protocol engine sends requests on
// and receives response bytes from. Implementations must be safe for
// concurrent use: Send and Events may be called while a previous Events
// subscription is still draining.
type Transport interface {
	// Connected reports whether the transport is currently able to send.
	Connected() bool

	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error

	// Disconnect tears down the underlying connection and releases any
	// subscriptions created by Events.
	Disconnect(ctx context.Context) error

	// Send transmits data without blocking on a response. It returns once
	// the bytes have been handed to the channel (written to the wire),
	// not once a reply has arrived.
	Send(ctx context.Context, data []byte) error

	// Events returns a channel of incoming data, errors, and closure
	// notifications. The channel is closed when ctx is done (the
	// subscription is torn down) or when the transport itself closes; no
	// further sends on it occur after either happens. Within one
	// subscription, Message events are delivered in the order bytes were
	// received on the wire.
	Events(ctx context.Context) <-chan Event

	// Info returns a snapshot of connection state and statistics.
	Info() Info
}

// EventKind distinguishes the three things a transport can report.
type EventKind int

const (
	// EventMessage carries a chunk of received bytes.
	EventMessage EventKind = iota
	// EventClosed reports the transport closed the connection normally.
	EventClosed
	// EventErr reports the transport failed; the subscription ends after this.
	EventErr
)

// Event is one item from a Transport's Events channel.
type Event struct {
	Kind EventKind
	Data []byte // set for EventMessage
	Err  error  // set for EventErr
}

// Config holds the configuration shared by transport implementations.
type Config struct {
	// Address is the connection address, e.g. "/dev/ttyUSB0" for serial.
	Address string `yaml:"address" json:"address"`

	// Options contains transport-specific options (baud rate, parity, ...).
	Options map[string]interface{} `yaml:"options" json:"options"`

	// Timeout is a transport-specific I/O timeout; the serial transport
	// uses it as the timeout of each underlying port Read.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// ReconnectPolicy defines auto-reconnect behavior for long-lived use
	// (e.g. the polling bridge). The core exchange never reconnects on its
	// own; this is consumed only by callers that wrap a Transport.
	ReconnectPolicy *ReconnectPolicy `yaml:"reconnect" json:"reconnect"`
}

// ReconnectPolicy defines how a long-lived caller should retry a dropped
// connection. The protocol engine itself never reads this.
type ReconnectPolicy struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultReconnectPolicy returns a sensible default reconnect policy.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		Enabled:      true,
		MaxAttempts:  0, // infinite
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Info contains runtime information about a transport.
type Info struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Address     string          `json:"address"`
	State       ConnectionState `json:"state"`
	Statistics  Statistics      `json:"statistics"`
	ConnectedAt *time.Time      `json:"connected_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Statistics contains transport-level traffic counters.
type Statistics struct {
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Errors           uint64 `json:"errors"`
}
