// Package gateway serves the WebSocket control surface: clients connect,
// authenticate, and run analytics conversations over JSON frames with
// streamed chunk events. It also exposes a plain HTTP health endpoint.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hatchdata/askdb/internal/channels"
	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/orchestrator"
	"github.com/hatchdata/askdb/pkg/protocol"
)

// defaultMaxMessageChars caps chat.send message length when the config
// doesn't set one.
const defaultMaxMessageChars = 32000

// Processor handles one chat message, streaming chunks while it works.
// Satisfied by *orchestrator.Orchestrator.
type Processor interface {
	Stream(ctx context.Context, req orchestrator.Request, onChunk func(string)) (*orchestrator.Reply, error)
}

// Server handles WebSocket and HTTP connections for the gateway.
type Server struct {
	cfg       *config.Config
	processor Processor
	manager   *channels.Manager // nil when no chat channels are configured
	mem       *memory.Store
	version   string

	router      *MethodRouter
	upgrader    websocket.Upgrader
	rateLimiter *channels.RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, proc Processor, mgr *channels.Manager, mem *memory.Store) *Server {
	s := &Server{
		cfg:       cfg,
		processor: proc,
		manager:   mgr,
		mem:       mem,
		version:   "dev",
		clients:   make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.rateLimiter = channels.NewRateLimiter(cfg.Gateway.RateLimitRPM, time.Minute)
	s.router = NewMethodRouter(s)
	return s
}

// SetVersion records the build version reported in connect responses.
func (s *Server) SetVersion(v string) {
	if v != "" {
		s.version = v
	}
}

// Router returns the method router for registering additional handlers.
func (s *Server) Router() *MethodRouter { return s.router }

func (s *Server) maxMessageChars() int {
	if n := s.cfg.Gateway.MaxMessageChars; n > 0 {
		return n
	}
	return defaultMaxMessageChars
}

// requiresAuth reports whether clients must pass the connect token
// before calling other methods.
func (s *Server) requiresAuth() bool {
	return s.cfg.Gateway.Token != ""
}

// checkOrigin validates the WebSocket Origin header against the
// configured whitelist. No configured origins allows everything, and an
// empty Origin header (CLI and SDK clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		s.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHealth returns a plain liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("gateway client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	slog.Info("gateway client disconnected", "id", c.id)
}

// StartTestServer binds a random loopback port and returns the actual
// address plus a start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
