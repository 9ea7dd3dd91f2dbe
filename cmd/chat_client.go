package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/pkg/protocol"
)

func runChatClient(cfg *config.Config, addr, message, threadID string) {
	wsURL := fmt.Sprintf("ws://%s/ws", addr)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WebSocket connect failed: %v\n", err)
		fmt.Fprintln(os.Stderr, "Falling back to local mode")
		runChatLocal(cfg, message, threadID)
		return
	}
	defer conn.Close()

	if err := wsConnect(conn, cfg.Gateway.Token); err != nil {
		fmt.Fprintf(os.Stderr, "Gateway auth failed: %v\n", err)
		os.Exit(1)
	}

	if message != "" {
		resp, err := wsChatSend(conn, threadID, message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp)
		return
	}

	fmt.Fprintf(os.Stderr, "\nAskDB Interactive Chat (gateway mode)\n")
	fmt.Fprintf(os.Stderr, "Thread: %s\n", threadID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a fresh thread, \"/reset\" to clear history\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "/new" {
			threadID = uuid.NewString()[:8]
			fmt.Fprintf(os.Stderr, "New thread: %s\n\n", threadID)
			continue
		}
		if input == "/reset" {
			if err := wsChatReset(conn, threadID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
				continue
			}
			fmt.Fprintln(os.Stderr, "Conversation history cleared.")
			continue
		}

		resp, err := wsChatSend(conn, threadID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", resp)
	}
}

// wsConnect sends the connect RPC and waits for the auth response.
func wsConnect(conn *websocket.Conn, token string) error {
	params := map[string]string{}
	if token != "" {
		params["token"] = token
	}
	paramsJSON, _ := json.Marshal(params)

	reqFrame := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "connect-1",
		Method: protocol.MethodConnect,
		Params: paramsJSON,
	}

	if err := conn.WriteJSON(reqFrame); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	if !resp.OK {
		if resp.Error != nil {
			return fmt.Errorf("connect rejected: %s", resp.Error.Message)
		}
		return fmt.Errorf("connect rejected")
	}

	return nil
}

// wsChatSend sends a chat.send RPC and waits for the response, printing
// streamed chunks as they arrive.
func wsChatSend(conn *websocket.Conn, threadID, message string) (string, error) {
	reqID := uuid.NewString()[:8]
	params, _ := json.Marshal(protocol.ChatSendParams{
		ThreadID: threadID,
		Message:  message,
	})

	reqFrame := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: protocol.MethodChatSend,
		Params: params,
	}

	if err := conn.WriteJSON(reqFrame); err != nil {
		return "", fmt.Errorf("send chat: %w", err)
	}

	// Read frames until our response arrives. Chunk events for this
	// thread stream to stdout in between.
	streamed := false
	for {
		_, rawMsg, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}

		frameType, _ := protocol.ParseFrameType(rawMsg)

		switch frameType {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if err := json.Unmarshal(rawMsg, &resp); err != nil {
				continue
			}
			if resp.ID != reqID {
				continue
			}
			if !resp.OK {
				if resp.Error != nil {
					return "", fmt.Errorf("gateway error: %s", resp.Error.Message)
				}
				return "", fmt.Errorf("gateway error (unknown)")
			}
			var result protocol.ChatSendResult
			if raw, marshalErr := json.Marshal(resp.Payload); marshalErr == nil {
				_ = json.Unmarshal(raw, &result)
			}
			if result.CSVPath != "" {
				fmt.Fprintf(os.Stderr, "CSV export: %s\n", result.CSVPath)
			}
			if streamed {
				// Text already on screen chunk by chunk.
				fmt.Println()
				return "", nil
			}
			return result.Content, nil

		case protocol.FrameTypeEvent:
			var evt protocol.EventFrame
			if err := json.Unmarshal(rawMsg, &evt); err != nil {
				continue
			}
			if printChatChunk(evt, reqID) {
				streamed = true
			}
		}
	}
}

// wsChatReset sends a chat.reset RPC for the thread.
func wsChatReset(conn *websocket.Conn, threadID string) error {
	reqID := uuid.NewString()[:8]
	params, _ := json.Marshal(protocol.ChatResetParams{ThreadID: threadID})

	reqFrame := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: protocol.MethodChatReset,
		Params: params,
	}
	if err := conn.WriteJSON(reqFrame); err != nil {
		return fmt.Errorf("send reset: %w", err)
	}

	for {
		_, rawMsg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if ft, _ := protocol.ParseFrameType(rawMsg); ft != protocol.FrameTypeResponse {
			continue
		}
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(rawMsg, &resp); err != nil || resp.ID != reqID {
			continue
		}
		if !resp.OK && resp.Error != nil {
			return fmt.Errorf("reset rejected: %s", resp.Error.Message)
		}
		return nil
	}
}

// printChatChunk writes a streamed chunk for the given request to
// stdout. Reports whether it printed anything.
func printChatChunk(evt protocol.EventFrame, reqID string) bool {
	if evt.Event != protocol.EventChat {
		return false
	}
	payload, ok := evt.Payload.(map[string]interface{})
	if !ok {
		return false
	}
	kind, _ := payload["kind"].(string)
	rid, _ := payload["request_id"].(string)
	if kind != protocol.ChatEventChunk || rid != reqID {
		return false
	}
	content, _ := payload["content"].(string)
	if content == "" {
		return false
	}
	fmt.Print(content)
	return true
}
