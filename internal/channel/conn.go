package channel

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tradekit/stream-gateway/internal/model"
)

// Conn is the registry's view of one client connection. The transport
// layer owns the connection's lifetime; the registry and broker only send
// to it and read or set its auth slot.
type Conn interface {
	// ID returns a stable identifier for the connection.
	ID() string

	// SendJSON marshals v and writes it as a single text frame.
	SendJSON(v any) error

	// Close closes the underlying transport.
	Close() error

	// Auth returns the attached identity, if any.
	Auth() (model.Identity, bool)

	// SetAuth attaches an identity. Returns false if one is already set;
	// the first identity is never overwritten.
	SetAuth(ident model.Identity) bool

	// RemoteIP returns the client's address for audit and verification.
	RemoteIP() string
}

// WSConn is a Conn backed by a gorilla WebSocket connection. Writes are
// serialized: gorilla permits at most one concurrent writer.
type WSConn struct {
	id       string
	ws       *websocket.Conn
	remoteIP string

	writeMu      sync.Mutex
	writeTimeout time.Duration

	authMu   sync.Mutex
	identity model.Identity
	authed   bool

	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps an upgraded WebSocket connection.
func NewWSConn(ws *websocket.Conn, remoteIP string, writeTimeout time.Duration) *WSConn {
	return &WSConn{
		id:           uuid.NewString(),
		ws:           ws,
		remoteIP:     remoteIP,
		writeTimeout: writeTimeout,
	}
}

// ID returns the connection's identifier.
func (c *WSConn) ID() string {
	return c.id
}

// SendJSON writes v as a JSON text frame under the write deadline.
func (c *WSConn) SendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(v)
}

// Close sends a close frame and closes the socket. Safe to call more than
// once; later calls return the first result.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Auth returns the attached identity, if any.
func (c *WSConn) Auth() (model.Identity, bool) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.identity, c.authed
}

// SetAuth attaches an identity if none is set yet.
func (c *WSConn) SetAuth(ident model.Identity) bool {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.authed {
		return false
	}
	c.identity = ident
	c.authed = true
	return true
}

// RemoteIP returns the client address captured at upgrade time.
func (c *WSConn) RemoteIP() string {
	return c.remoteIP
}
