package protocol

// RPC method names.
const (
	// MethodConnect authenticates the connection. Must be the first
	// request on a socket when the gateway has a token configured.
	MethodConnect = "connect"

	// MethodChatSend submits a question to a thread. Chunk events
	// stream to the caller before the final response.
	MethodChatSend = "chat.send"

	// MethodChatReset clears a thread's conversation history.
	MethodChatReset = "chat.reset"

	// MethodStatus reports channel and memory state.
	MethodStatus = "status"

	// MethodHealth is a liveness probe over the socket.
	MethodHealth = "health"
)

// ConnectParams authenticates a client.
type ConnectParams struct {
	Token string `json:"token,omitempty"`
}

// ConnectResult greets an authenticated client.
type ConnectResult struct {
	Protocol int    `json:"protocol"`
	Server   string `json:"server"`
	Version  string `json:"version"`
}

// ChatSendParams submits one user message.
type ChatSendParams struct {
	// ThreadID scopes conversation memory. Clients reuse it across
	// messages to keep follow-up context.
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatSendResult is the final reply for a chat.send request.
type ChatSendResult struct {
	Content    string  `json:"content"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	CSVPath    string  `json:"csv_path,omitempty"`
	MessageID  string  `json:"message_id"`
}

// ChatResetParams names the thread to clear.
type ChatResetParams struct {
	ThreadID string `json:"thread_id"`
}

// StatusResult reports server state.
type StatusResult struct {
	Protocol int                    `json:"protocol"`
	Channels map[string]interface{} `json:"channels"`
	Threads  int                    `json:"threads"`
}
