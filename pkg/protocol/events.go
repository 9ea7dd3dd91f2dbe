package protocol

// Event names pushed from server to client.
const (
	EventChat     = "chat"
	EventHealth   = "health"
	EventShutdown = "shutdown"
)

// Chat event subtypes (ChatEventPayload.Kind).
const (
	// ChatEventThinking marks the start of processing for a request.
	ChatEventThinking = "thinking"
	// ChatEventChunk carries one streamed piece of the reply text.
	ChatEventChunk = "chunk"
	// ChatEventMessage carries the complete reply text. Emitted before
	// the final response so passive listeners see finished messages.
	ChatEventMessage = "message"
)

// ChatEventPayload is the payload of EventChat frames.
type ChatEventPayload struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
	ThreadID  string `json:"thread_id"`
	Content   string `json:"content,omitempty"`
}
