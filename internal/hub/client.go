package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradekit/stream-gateway/internal/auth"
	"github.com/tradekit/stream-gateway/internal/buffer"
	"github.com/tradekit/stream-gateway/internal/model"
)

// Dispatcher consumes events pulled off the hub connection. Satisfied by
// the broker.
type Dispatcher interface {
	OnHubEvent(ev model.HubEvent)
}

// Client is the hub bridge. It implements the broker's HubControl
// contract and feeds inbound events to a Dispatcher.
type Client struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger

	queue *buffer.Queue[model.HubEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	lastPingAt time.Time

	// Active relays by "topic:networkID", re-opened after a reconnect.
	relayMu sync.Mutex
	relays  map[string]struct{}

	statsMu        sync.Mutex
	connects       int64
	eventsReceived int64
	parseErrors    int64
	controlSent    int64
}

// NewClient creates a hub bridge that delivers events to dispatcher.
func NewClient(cfg Config, dispatcher Dispatcher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		queue:      buffer.NewQueue[model.HubEvent](cfg.QueueSize),
		relays:     make(map[string]struct{}),
	}
}

// SetDispatcher wires the event consumer. The broker and the hub client
// reference each other, so the dispatcher may be attached after
// construction; it must be set before Start.
func (c *Client) SetDispatcher(d Dispatcher) {
	c.dispatcher = d
}

// Start connects to the hub and begins pumping events. The connection is
// kept alive in the background; Start does not wait for the first dial.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.connectLoop()
	go c.dispatchLoop()

	c.logger.Info("hub bridge started", "url", c.cfg.URL)
	return nil
}

// Stop closes the hub connection and drains the event queue.
func (c *Client) Stop(ctx context.Context) error {
	c.logger.Info("stopping hub bridge")

	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	c.queue.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("hub bridge stopped")
	case <-ctx.Done():
		c.logger.Warn("hub bridge stop timed out")
	}
	return nil
}

// IsConnected reports whether the hub socket is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns a snapshot of bridge counters.
func (c *Client) Stats() Stats {
	c.relayMu.Lock()
	relays := len(c.relays)
	c.relayMu.Unlock()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		Connected:      c.IsConnected(),
		Connects:       c.connects,
		EventsReceived: c.eventsReceived,
		ParseErrors:    c.parseErrors,
		ControlSent:    c.controlSent,
		ActiveRelays:   relays,
		QueueDepth:     c.queue.Len(),
	}
}

// StartRelay asks the hub to begin relaying topic for a network account.
// The relay is tracked so a reconnect re-opens it.
func (c *Client) StartRelay(topic string, networkID int64) error {
	arg := topic + ":" + strconv.FormatInt(networkID, 10)

	c.relayMu.Lock()
	c.relays[arg] = struct{}{}
	c.relayMu.Unlock()

	return c.sendControl("subscribe", arg)
}

// StopRelay asks the hub to stop relaying topic for a network account.
func (c *Client) StopRelay(topic string, networkID int64) error {
	arg := topic + ":" + strconv.FormatInt(networkID, 10)

	c.relayMu.Lock()
	delete(c.relays, arg)
	c.relayMu.Unlock()

	return c.sendControl("unsubscribe", arg)
}

// sendControl writes one control frame under the write deadline.
func (c *Client) sendControl(op string, args ...string) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(controlFrame{Op: op, Args: args}); err != nil {
		return err
	}

	c.statsMu.Lock()
	c.controlSent++
	c.statsMu.Unlock()
	return nil
}

// connectLoop dials the hub and re-dials with exponential backoff for as
// long as the bridge is running.
func (c *Client) connectLoop() {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectBaseWait
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("hub dial failed", "error", err, "retry_in", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.ReconnectMaxWait {
				backoff = c.cfg.ReconnectMaxWait
			}
			continue
		}
		backoff = c.cfg.ReconnectBaseWait

		c.resubscribeRelays()
		c.readLoop()

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}
}

// connect performs one dial attempt with signed headers.
func (c *Client) connect() error {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		expires := time.Now().Add(time.Minute).Unix()
		header.Set("api-key", c.cfg.APIKey)
		header.Set("api-expires", strconv.FormatInt(expires, 10))
		header.Set("api-signature", auth.Sign(c.cfg.APISecret, "CONNECT", dialPath(c.cfg.URL), expires))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	c.statsMu.Lock()
	c.connects++
	c.statsMu.Unlock()

	c.logger.Info("hub connected", "url", c.cfg.URL)
	return nil
}

// resubscribeRelays re-opens every tracked relay on a fresh connection.
func (c *Client) resubscribeRelays() {
	c.relayMu.Lock()
	args := make([]string, 0, len(c.relays))
	for arg := range c.relays {
		args = append(args, arg)
	}
	c.relayMu.Unlock()

	for _, arg := range args {
		if err := c.sendControl("subscribe", arg); err != nil {
			c.logger.Warn("relay resubscribe failed", "relay", arg, "error", err)
		}
	}
	if len(args) > 0 {
		c.logger.Info("relays resubscribed", "count", len(args))
	}
}

// readLoop reads events until the connection drops. Returns to the
// connect loop on any read error or stale heartbeat.
func (c *Client) readLoop() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	staleCheck := time.NewTicker(30 * time.Second)
	defer staleCheck.Stop()

	// The keepalive goroutine must die with this connection's read loop,
	// not linger until client shutdown.
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-c.ctx.Done():
				return
			case <-staleCheck.C:
				conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))

				c.mu.RLock()
				last := c.lastPingAt
				c.mu.RUnlock()
				if time.Since(last) > c.cfg.PingTimeout {
					c.logger.Warn("closing hub connection", "error", ErrStaleConnection, "last_ping", last)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.logger.Warn("hub read failed", "error", err)
			}
			conn.Close()
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage parses one inbound frame and queues it for dispatch.
func (c *Client) handleMessage(data []byte) {
	var ev model.HubEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.statsMu.Lock()
		c.parseErrors++
		c.statsMu.Unlock()
		c.logger.Warn("undecodable hub message", "error", err)
		return
	}
	if ev.Topic == "" {
		// Control acknowledgements and heartbeats carry no topic.
		return
	}

	c.statsMu.Lock()
	c.eventsReceived++
	c.statsMu.Unlock()

	c.queue.Push(ev)
}

// dispatchLoop drains the queue into the dispatcher.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		ev, ok := c.queue.Pop()
		if !ok {
			return
		}
		c.dispatcher.OnHubEvent(ev)
	}
}

// closeConn closes the current socket, if any.
func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}

// dialPath extracts the request path used in the dial signature.
func dialPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/stream"
	}
	return u.Path
}
