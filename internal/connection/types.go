package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyStarted   = errors.New("manager already started")
	ErrManagerClosed    = errors.New("manager closed")
	ErrReadTimeout      = errors.New("transport read timeout")
	ErrStaleConnection  = errors.New("connection stale (no traffic within liveness window)")
	ErrUnauthorized     = errors.New("feed rejected credentials")
	ErrProtocol         = errors.New("protocol error")
	ErrHandshakeTimeout = errors.New("handshake timeout")
)

// Frame types of the feed protocol (graphql-ws flavored).
const (
	frameConnectionInit  = "connection_init"
	frameConnectionAck   = "connection_ack"
	frameConnectionError = "connection_error"
	framePing            = "ping"
	framePong            = "pong"
	frameKeepAlive       = "ka"
	frameSubscribe       = "subscribe"
	frameNext            = "next"
	frameError           = "error"
	frameComplete        = "complete"
)

// Frame is one websocket message in the feed protocol.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// initPayload is the connection_init payload carrying the credential.
type initPayload struct {
	Token string `json:"token"`
}

// TimestampedFrame wraps a frame with a local receive timestamp.
type TimestampedFrame struct {
	Frame      Frame
	ReceivedAt time.Time
}

// EventCallback consumes one feed event for a subscribed entity. Events for
// the same entity are delivered in arrival order; the callback must not
// block for long since it runs on the dispatch loop.
type EventCallback func(event json.RawMessage)

// PayloadFunc builds the opaque subscribe payload for an entity.
type PayloadFunc func(entityID string) (json.RawMessage, error)

// State represents the connection manager state.
type State uint8

const (
	// StateDisconnected indicates the manager has not been started.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateAuthenticated indicates the server acknowledged the credential.
	StateAuthenticated

	// StateSubscribing indicates active entries are being re-issued.
	StateSubscribing

	// StateStreaming indicates events are flowing.
	StateStreaming

	// StateReconnecting indicates a backoff wait before the next attempt.
	StateReconnecting

	// StateClosed is terminal; a closed manager never reconnects.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ClientConfig configures a websocket feed client.
type ClientConfig struct {
	URL              string        // Feed URL (e.g., wss://api.voltenergy.io/v1/feed)
	Token            string        // Access token sent in connection_init
	UserAgent        string        // User-Agent header
	HandshakeTimeout time.Duration // Max time for dial plus init/ack exchange
	ReadTimeout      time.Duration // Per-read deadline; overrun is a transport error
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                string        // Feed URL
	UserAgent          string        // User-Agent header
	BuildPayload       PayloadFunc   // Subscribe payload builder (required)
	ReconnectBaseDelay time.Duration // Base wait time for reconnection
	ReconnectMaxDelay  time.Duration // Max wait time for reconnection
	InactivityTimeout  time.Duration // Watchdog liveness window
	HandshakeTimeout   time.Duration // Dial plus init/ack deadline
	ReadTimeout        time.Duration // Per-read transport deadline
	WriteTimeout       time.Duration // Write deadline
	BufferSize         int           // Frame channel buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		InactivityTimeout:  90 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         1000,
	}
}
