package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hatchdata/askdb/pkg/protocol"
)

// HandlerFunc processes one RPC request. Handlers send their own
// response frames.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches request frames to method handlers.
type MethodRouter struct {
	server   *Server
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMethodRouter builds a router with the core methods registered.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{
		server:   s,
		handlers: make(map[string]HandlerFunc),
	}
	r.Register(protocol.MethodConnect, s.handleConnect)
	r.Register(protocol.MethodChatSend, s.handleChatSend)
	r.Register(protocol.MethodChatReset, s.handleChatReset)
	r.Register(protocol.MethodStatus, s.handleStatus)
	r.Register(protocol.MethodHealth, s.handleHealthRPC)
	return r
}

// Register adds a handler for a method name.
func (r *MethodRouter) Register(method string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

// Dispatch routes one request. Everything except connect and health
// requires authentication when the gateway has a token configured.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	r.mu.RLock()
	handler, ok := r.handlers[req.Method]
	r.mu.RUnlock()

	if !ok {
		slog.Debug("unknown gateway method", "client", client.id, "method", req.Method)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown method: "+req.Method))
		return
	}

	if !client.Authed() && req.Method != protocol.MethodConnect && req.Method != protocol.MethodHealth {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "connect first"))
		return
	}

	handler(ctx, client, req)
}
