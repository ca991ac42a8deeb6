package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tradekit/stream-gateway/internal/auth"
	"github.com/tradekit/stream-gateway/internal/broker"
	"github.com/tradekit/stream-gateway/internal/config"
)

// Stats is a snapshot of server state.
type Stats struct {
	CurrentConnections int64
	TotalConnections   uint64
	FramesRead         uint64
	MalformedFrames    uint64
}

// Server runs the stream endpoint.
type Server struct {
	cfg       config.ServerConfig
	broker    *broker.Broker
	handshake *auth.Handshake
	logger    *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener

	connsMu sync.Mutex
	conns   map[string]*streamConn

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stream server.
func New(cfg config.ServerConfig, b *broker.Broker, handshake *auth.Handshake, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		broker:    b,
		handshake: handshake,
		logger:    logger,
		conns:     make(map[string]*streamConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts browser clients on arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins serving the stream endpoint in the background.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.StreamPath, s.handleStream)

	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.cancel()
		return err
	}
	s.ln = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("stream server stopped", "err", err)
		}
	}()

	s.logger.Info("stream server started",
		"addr", s.cfg.ListenAddr,
		"path", s.cfg.StreamPath,
	)
	return nil
}

// Stop closes the listener, tears down all client connections, and waits
// for handler goroutines, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("stream server shutdown", "err", err)
		}
	}

	s.broker.ShutdownAll()

	// Close connections that never subscribed to anything; the broker
	// teardown only reaches registered ones.
	s.connsMu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("stream server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.ListenAddr
	}
	return s.ln.Addr().String()
}

// Stats returns a snapshot of server counters.
func (s *Server) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// clientIP extracts the originating address, honoring the proxy header
// set by the operator's load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// headerCredentials pulls credential fields from upgrade request headers.
func headerCredentials(r *http.Request) (auth.Credentials, bool) {
	creds := auth.Credentials{
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("api-key"),
		APISignature:  r.Header.Get("api-signature"),
		APIExpires:    r.Header.Get("api-expires"),
	}
	present := creds.Authorization != "" || creds.APIKey != "" ||
		creds.APISignature != "" || creds.APIExpires != ""
	return creds, present
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	ip := clientIP(r)
	conn := newStreamConn(s, ws, ip)

	s.connsMu.Lock()
	s.conns[conn.ID()] = conn
	s.connsMu.Unlock()

	s.statsMu.Lock()
	s.stats.CurrentConnections++
	s.stats.TotalConnections++
	s.statsMu.Unlock()

	s.logger.Debug("client connected", "conn_id", conn.ID(), "remote", ip)

	// Credentials presented at upgrade time authenticate the connection
	// before any frames are read. A rejection closes the socket: the
	// client asked for an authenticated session and did not get one.
	if creds, ok := headerCredentials(r); ok {
		if err := s.handshake.Authorize(r.Context(), creds, conn, ip); err != nil {
			conn.notify(err.Error())
			conn.teardown()
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.pingLoop(s.ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.readLoop(s.ctx)
	}()
}

func (s *Server) countFrame(malformed bool) {
	s.statsMu.Lock()
	s.stats.FramesRead++
	if malformed {
		s.stats.MalformedFrames++
	}
	s.statsMu.Unlock()
}

func (s *Server) connClosed(id string) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()

	s.statsMu.Lock()
	s.stats.CurrentConnections--
	s.statsMu.Unlock()
}
