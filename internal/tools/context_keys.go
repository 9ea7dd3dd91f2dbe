package tools

import "context"

// Tool execution context keys.
// These replace mutable setter fields on tool instances, making tools
// thread-safe for concurrent execution. Values are injected into
// context by the registry and read by individual tools during Execute().

type toolContextKey string

const (
	ctxThreadKey toolContextKey = "tool_thread_key"
	ctxChannel   toolContextKey = "tool_channel"
	ctxChatID    toolContextKey = "tool_chat_id"
)

func WithThreadKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxThreadKey, key)
}

func ThreadKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxThreadKey).(string)
	return v
}

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChannel).(string)
	return v
}

func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChatID).(string)
	return v
}
