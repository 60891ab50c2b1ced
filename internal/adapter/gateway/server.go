package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
	"chatsim/internal/usecase/conversation"
)

// Handler handles one inbound event. Handlers report failures to the client
// themselves; the returned error is only logged.
type Handler func(ctx context.Context, c *Client, payload json.RawMessage) error

var defaultOriginPatterns = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// Client is one WebSocket connection. It implements domain.Notifier: every
// Emit is queued in order on the connection's outbound buffer and dropped
// with a warning when the buffer is full.
type Client struct {
	ID        uint64
	SessionID string
	Info      *ClientInfo

	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	logger    *slog.Logger
}

// Emit queues an outbound event without blocking.
func (c *Client) Emit(_ context.Context, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("gateway: unencodable payload", "event", event, "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- Frame{Type: FrameTypeEvent, Method: event, Payload: raw}:
	default:
		c.dropped.Add(1)
		c.logger.Warn("gateway: dropped event for slow client", "event", event)
	}
}

// Dropped returns the number of events dropped for this client.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// session returns id, or the connection's own session id when id is empty.
func (c *Client) session(id string) string {
	if id != "" {
		return id
	}
	return c.SessionID
}

func (c *Client) close() { c.closeOnce.Do(func() { close(c.done) }) }

// Server is the WebSocket gateway that routes inbound events to handlers.
type Server struct {
	cfg        config.ServerConfig
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]Handler
	clients    sync.Map // connID (uint64) -> *Client
	connected  atomic.Int64
	logger     *slog.Logger
	httpSrv    *http.Server
	boundAddr  atomic.Value
	nextID     atomic.Uint64
	httpRoutes []httpRoute
	middleware []func(http.Handler) http.Handler
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server.
func NewServer(cfg config.ServerConfig, auth Authenticator, logger *slog.Logger) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Server{
		cfg:      cfg,
		auth:     auth,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for an inbound event name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(event string, handler Handler) {
	s.handlersMu.Lock()
	s.handlers[event] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use wraps every route, /ws included, in mw. Must be called before Start().
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw...)
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	h := http.Handler(mux)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return h
}

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.boundAddr.Store(listener.Addr().String())

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		c := value.(*Client)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// Connected returns the number of open WebSocket connections.
func (s *Server) Connected() int { return int(s.connected.Load()) }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOriginPatterns
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = conversation.NewSessionID(time.Now())
	}
	connID := s.nextID.Add(1)
	c := &Client{
		ID:        connID,
		SessionID: sessionID,
		Info:      info,
		ws:        ws,
		sendCh:    make(chan Frame, s.cfg.SendQueueSize),
		done:      make(chan struct{}),
		logger:    s.logger.With("conn_id", connID, "session_id", sessionID),
	}
	s.clients.Store(connID, c)
	s.connected.Add(1)

	c.logger.Info("gateway client connected", "client", info.Name)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writeLoop(c)

	var inflight sync.WaitGroup
	s.readLoop(ctx, c, &inflight)

	// In-flight runs observe the cancellation at their next checkpoint.
	cancel()
	inflight.Wait()
	c.close()
	s.clients.Delete(connID)
	s.connected.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	c.logger.Info("gateway client disconnected", "dropped_events", c.Dropped())
}

func (s *Server) readLoop(ctx context.Context, c *Client, inflight *sync.WaitGroup) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.dispatch(ctx, c, frame)
		}()
	}
}

func (s *Server) writeLoop(c *Client) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		err := domain.NewDomainError("gateway.dispatch", domain.ErrEventNotSupported, req.Method)
		c.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: err.Error()})
		return
	}

	if err := handler(ctx, c, req.Payload); err != nil {
		c.logger.Debug("gateway: handler failed", "event", req.Method, "error", err)
	}
}
