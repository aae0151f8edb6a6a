// Package ws serves the push side of the chat: viewers open a WebSocket on
// /chat/subscribe?streamId=... and every connection becomes a broadcast hub
// sink for that stream. Client frames are read by an epoll-driven worker pool.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/hub"
	"github.com/casacultural/livechat/internal/metrics"
	"github.com/casacultural/livechat/internal/protocol"
	"github.com/casacultural/livechat/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the push server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Limiter throttles new subscriptions. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Server upgrades subscribe requests to WebSocket, registers each connection
// with the hub and an epoll instance, and dispatches readable connections to
// a bounded worker pool.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	hub          *hub.Hub
	limiter      Limiter
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // client frame handler
	onDisconnect func(conn *Connection)              // called when a connection is removed
	handler      http.Handler
	httpServer   *http.Server
	done         chan struct{}
	started      chan struct{} // closed once epoll and the HTTP server are set up
	startedAt    time.Time
}

// NewServer creates a Server that subscribes connections to h. The onMessage
// function is called from a worker goroutine for every complete text frame.
func NewServer(config ServerConfig, h *hub.Hub, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		hub:        h,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
		started:    make(chan struct{}),
		startedAt:  time.Now(),
	}

	// A sink the hub gave up on must also leave epoll and the manager.
	h.OnDrop(func(_ string, sink hub.Sink) {
		if c := s.conns.Get(sink.ID()); c != nil {
			s.RemoveConnection(c)
		}
	})

	return s
}

// SetLimiter enables per-address throttling of new subscriptions.
func (s *Server) SetLimiter(l Limiter) {
	s.limiter = l
}

// SetHandler replaces the default mux with h, which is expected to route
// the subscribe endpoint back to HandleSubscribe.
func (s *Server) SetHandler(h http.Handler) {
	s.handler = h
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, failed delivery or graceful close).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve initializes the epoll instance and the HTTP server, starts the event
// loop and the heartbeat monitor in the background, and blocks serving HTTP
// on ln.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		ln.Close()
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	handler := s.handler
	if handler == nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/chat/subscribe", s.HandleSubscribe)
		mux.HandleFunc("/health", s.HandleHealth)
		handler = mux
	}

	s.httpServer = &http.Server{Handler: handler}

	go s.startEventLoop()

	StartHeartbeat(s, DefaultHeartbeatConfig())
	close(s.started)

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		ln.Addr(), s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// Started is closed once the server accepts subscriptions.
func (s *Server) Started() <-chan struct{} {
	return s.started
}

func (s *Server) isStarted() bool {
	select {
	case <-s.started:
		return true
	default:
		return false
	}
}

// HandleSubscribe upgrades the request to a WebSocket and subscribes the new
// connection to the stream named by the streamId query parameter.
func (s *Server) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("streamId")
	if err := chat.ValidateStreamID(streamID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		ok, _ := s.limiter.Allow(r.Context(), remoteIP(r), ratelimit.RuleSubscribe)
		if !ok {
			http.Error(w, "too many subscriptions", http.StatusTooManyRequests)
			return
		}
	}

	if !s.isStarted() {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := NewConnection(uuid.New().String(), streamID, conn)

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed for sink %s: %v", c.ID(), err)
		s.conns.Remove(c.ID())
		return
	}
	metrics.ConnectionsTotal.Inc()

	// Subscribe before acknowledging so no event published meanwhile is lost.
	s.hub.Subscribe(streamID, c)

	ack, err := protocol.NewEvent(protocol.TypeSubscribed, protocol.SubscribedData{
		StreamID: streamID,
		SinkID:   c.ID(),
	})
	if err != nil {
		log.Printf("ws: failed to build subscribed event for sink %s: %v", c.ID(), err)
	} else if err := s.write(c, ack); err != nil {
		log.Printf("ws: failed to send subscribed event for sink %s: %v", c.ID(), err)
	}

	log.Printf("ws: new connection sink=%s stream=%s (total=%d)", c.ID(), streamID, s.conns.Count())
}

// HandleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Streams     int    `json:"streams"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Streams:     len(s.hub.Streams()),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop and hands every ready connection
// to a worker goroutine, bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
				s.epoll.Rearm(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection. Control
// frames are handled without blocking on a data frame that may never arrive.
// A failed read removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// The poller disarms netConn until Rearm, so no other worker reads it.
	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means a stale dispatch; the heartbeat handles dead peers.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err = io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection unsubscribes a connection from the hub, removes it from
// epoll and the connection manager, and closes it. Concurrent calls for the
// same connection clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.isStarted() {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID()) {
		return
	}
	metrics.ConnectionsTotal.Dec()
	s.hub.Unsubscribe(c.StreamID, c.ID())

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("ws: connection closed sink=%s stream=%s (total=%d)", c.ID(), c.StreamID, s.conns.Count())
}

// SendMessage writes a text frame to the connection identified by sinkID.
func (s *Server) SendMessage(sinkID string, data []byte) error {
	c := s.conns.Get(sinkID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", sinkID)
	}
	return s.write(c, data)
}

// write sends data to c within the configured write timeout.
func (s *Server) write(c *Connection, data []byte) error {
	ctx := context.Background()
	if s.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.WriteTimeout)
		defer cancel()
	}
	return c.Send(ctx, data)
}

// Connections returns the ConnectionManager for external access to
// connection state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener, signals the event loop to exit, closes
// every push connection and releases the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)
	if !s.isStarted() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	_ = s.epoll.Close()

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// remoteIP returns the client address without its port.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
