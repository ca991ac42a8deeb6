package hub

import (
	"errors"
	"time"
)

// Bridge errors.
var (
	ErrNotConnected    = errors.New("hub not connected")
	ErrStaleConnection = errors.New("hub connection stale (no ping)")
)

// Config configures the hub bridge.
type Config struct {
	URL       string // Hub WebSocket URL
	APIKey    string // Gateway's hub API key
	APISecret string // Secret for HMAC-signing the dial

	PingTimeout       time.Duration // Max silence before the connection is stale
	WriteTimeout      time.Duration // Write deadline for control frames
	ReconnectBaseWait time.Duration // First reconnect backoff step
	ReconnectMaxWait  time.Duration // Backoff cap
	QueueSize         int           // Initial event queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		QueueSize:         1000,
	}
}

// controlFrame is the wire shape of hub control messages.
type controlFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Connected      bool
	Connects       int64
	EventsReceived int64
	ParseErrors    int64
	ControlSent    int64
	ActiveRelays   int
	QueueDepth     int
}
