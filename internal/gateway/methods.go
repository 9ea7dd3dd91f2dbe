package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/orchestrator"
	"github.com/hatchdata/askdb/pkg/protocol"
)

// handleConnect authenticates the connection.
func (s *Server) handleConnect(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ConnectParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid connect params"))
			return
		}
	}

	if s.requiresAuth() && params.Token != s.cfg.Gateway.Token {
		slog.Warn("gateway auth failed", "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}

	client.setAuthed()
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ConnectResult{
		Protocol: protocol.ProtocolVersion,
		Server:   "askdb",
		Version:  s.version,
	}))
}

// handleChatSend runs one question through the orchestrator, streaming
// chunk events to the caller before the final response.
func (s *Server) handleChatSend(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ChatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid chat.send params"))
		return
	}
	if params.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
		return
	}
	if len(params.Message) > s.maxMessageChars() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message too long"))
		return
	}

	if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(client.id) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "rate limit exceeded, slow down"))
		return
	}

	threadKey := s.threadKey(client, params.ThreadID)

	client.SendEvent(*protocol.NewEvent(protocol.EventChat, protocol.ChatEventPayload{
		Kind:      protocol.ChatEventThinking,
		RequestID: req.ID,
		ThreadID:  threadKey,
	}))

	onChunk := func(chunk string) {
		client.SendEvent(*protocol.NewEvent(protocol.EventChat, protocol.ChatEventPayload{
			Kind:      protocol.ChatEventChunk,
			RequestID: req.ID,
			ThreadID:  threadKey,
			Content:   chunk,
		}))
	}

	reply, err := s.processor.Stream(ctx, orchestrator.Request{
		ThreadKey: threadKey,
		Channel:   "ws",
		ChatID:    client.id,
		Message:   params.Message,
	}, onChunk)
	if err != nil {
		// Only context cancellation reaches here; the connection is
		// usually gone, but answer in case only the request died.
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "request cancelled"))
		return
	}

	client.SendEvent(*protocol.NewEvent(protocol.EventChat, protocol.ChatEventPayload{
		Kind:      protocol.ChatEventMessage,
		RequestID: req.ID,
		ThreadID:  threadKey,
		Content:   reply.Text,
	}))

	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ChatSendResult{
		Content:    reply.Text,
		Intent:     string(reply.Intent),
		Confidence: reply.Confidence,
		CSVPath:    reply.FilePath,
		MessageID:  reply.MessageID,
	}))
}

// handleChatReset clears one thread's conversation history.
func (s *Server) handleChatReset(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ChatResetParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid chat.reset params"))
			return
		}
	}

	threadKey := s.threadKey(client, params.ThreadID)
	s.mem.Clear(threadKey)
	slog.Info("thread reset", "client", client.id, "thread", threadKey)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"status": "reset"}))
}

// handleStatus reports channel and memory state.
func (s *Server) handleStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	channelStatus := map[string]interface{}{}
	if s.manager != nil {
		channelStatus = s.manager.GetStatus()
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.StatusResult{
		Protocol: protocol.ProtocolVersion,
		Channels: channelStatus,
		Threads:  s.mem.Len(),
	}))
}

// handleHealthRPC answers the in-band liveness probe.
func (s *Server) handleHealthRPC(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
	}))
}

// threadKey scopes a client-supplied thread ID into the ws namespace.
// Clients that don't pick one converse on a per-connection thread.
func (s *Server) threadKey(client *Client, threadID string) string {
	if threadID == "" {
		threadID = client.id
	}
	return memory.ThreadKey("ws", threadID)
}
