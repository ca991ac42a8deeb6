package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradekit/stream-gateway/internal/auth"
	"github.com/tradekit/stream-gateway/internal/channel"
	"github.com/tradekit/stream-gateway/internal/model"
)

// streamConn couples a registry Conn with the server-side read loop that
// feeds it.
type streamConn struct {
	*channel.WSConn

	srv *Server
	ws  *websocket.Conn

	closeOnce sync.Once
}

func newStreamConn(s *Server, ws *websocket.Conn, remoteIP string) *streamConn {
	return &streamConn{
		WSConn: channel.NewWSConn(ws, remoteIP, s.cfg.WriteTimeout),
		srv:    s,
		ws:     ws,
	}
}

// notify sends a {"message": ...} notification, logging send failures.
func (c *streamConn) notify(message string) {
	if err := c.SendJSON(model.Notification{Message: message}); err != nil {
		c.srv.logger.Debug("notify failed", "conn_id", c.ID(), "err", err)
	}
}

// teardown removes the connection from all channels and closes the socket.
// Safe to call more than once.
func (c *streamConn) teardown() {
	c.closeOnce.Do(func() {
		c.srv.broker.OnDisconnect(c)
		c.Close()
		c.srv.connClosed(c.ID())
		c.srv.logger.Debug("client disconnected", "conn_id", c.ID())
	})
}

// pingLoop sends protocol-level pings so dead peers are detected even
// when no data flows.
func (c *streamConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readLoop reads operation frames until the connection drops.
func (c *streamConn) readLoop(ctx context.Context) {
	defer c.teardown()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongTimeout))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.logger.Debug("read failed", "conn_id", c.ID(), "err", err)
			}
			return
		}

		var op model.OpMessage
		if err := json.Unmarshal(data, &op); err != nil {
			c.srv.countFrame(true)
			c.notify("Invalid message: not a JSON operation frame")
			continue
		}
		c.srv.countFrame(false)

		c.handleOp(ctx, op)
	}
}

func (c *streamConn) handleOp(ctx context.Context, op model.OpMessage) {
	switch op.Op {
	case model.OpPing:
		c.notify("pong")

	case model.OpAuth:
		var creds auth.Credentials
		if len(op.Args) > 0 {
			if err := json.Unmarshal(op.Args, &creds); err != nil {
				c.notify("Invalid auth args")
				return
			}
		}
		if err := c.srv.handshake.Authorize(ctx, creds, c, c.RemoteIP()); err != nil {
			c.notify(err.Error())
		}

	case model.OpSubscribe, model.OpUnsubscribe:
		var args []string
		if len(op.Args) > 0 {
			if err := json.Unmarshal(op.Args, &args); err != nil {
				c.notify("Invalid subscription args")
				return
			}
		}
		for _, arg := range args {
			topic, symbol := splitChannelArg(arg)
			var err error
			if op.Op == model.OpSubscribe {
				err = c.srv.broker.Subscribe(topic, c, symbol)
			} else {
				err = c.srv.broker.Unsubscribe(topic, c, symbol)
			}
			if err != nil {
				c.notify(err.Error())
			}
		}

	default:
		c.notify("Invalid operation")
	}
}

// splitChannelArg splits "topic:symbol" into its parts; a bare "topic"
// has an empty symbol, which subscribes across all trading pairs.
func splitChannelArg(arg string) (topic, symbol string) {
	topic, symbol, _ = strings.Cut(arg, ":")
	return topic, symbol
}
