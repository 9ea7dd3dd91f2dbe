package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hatchdata/askdb/pkg/protocol"
)

const (
	// outgoingQueueSize bounds buffered frames per client. Chunk events
	// beyond it are dropped; the final response always has room because
	// requests are answered one frame at a time.
	outgoingQueueSize = 64

	writeTimeout = 10 * time.Second
)

// Client is one WebSocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	outgoing chan []byte
	authed   atomic.Bool
	done     chan struct{}
	closing  sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	c := &Client{
		id:       uuid.NewString()[:8],
		conn:     conn,
		server:   server,
		outgoing: make(chan []byte, outgoingQueueSize),
		done:     make(chan struct{}),
	}
	if !server.requiresAuth() {
		c.authed.Store(true)
	}
	return c
}

// ID returns the connection identifier used in thread keys and logs.
func (c *Client) ID() string { return c.id }

// Authed reports whether the client passed connect authentication.
func (c *Client) Authed() bool { return c.authed.Load() }

func (c *Client) setAuthed() { c.authed.Store(true) }

// Run pumps frames until the connection drops or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		frameType, err := protocol.ParseFrameType(raw)
		if err != nil || frameType != protocol.FrameTypeRequest {
			slog.Debug("ignoring non-request frame", "client", c.id, "error", err)
			continue
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Debug("malformed request frame", "client", c.id, "error", err)
			continue
		}

		// Dispatch off the read loop so a long-running query doesn't
		// block pings and follow-up requests.
		go c.server.router.Dispatch(ctx, c, &req)
	}
}

// writePump is the single writer for the connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

// SendResponse queues a response frame.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	c.enqueue(resp)
}

// SendEvent queues an event frame. Events are best-effort: when the
// queue is full the event is dropped.
func (c *Client) SendEvent(evt protocol.EventFrame) {
	c.enqueue(&evt)
}

func (c *Client) enqueue(frame interface{}) {
	raw, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal frame", "client", c.id, "error", err)
		return
	}
	select {
	case c.outgoing <- raw:
	case <-c.done:
	default:
		slog.Warn("client outgoing queue full, dropping frame", "client", c.id)
	}
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closing.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
