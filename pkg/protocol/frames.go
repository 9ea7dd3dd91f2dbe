// Package protocol defines the WebSocket wire format shared by the
// gateway server and its clients: JSON frames for requests, responses,
// and server-pushed events, plus the method and event name constants.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is bumped on breaking wire changes. Clients learn the
// server's version from the connect response and the health endpoint.
const ProtocolVersion = 1

// FrameType discriminates the three frame kinds on the wire.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// RequestFrame is a client RPC call.
type RequestFrame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorShape carries a machine-readable code and a human message.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseFrame answers one RequestFrame, matched by ID.
type ResponseFrame struct {
	Type    FrameType   `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// EventFrame is pushed from server to client outside the RPC flow
// (streamed chunks, health notices, shutdown).
type EventFrame struct {
	Type    FrameType   `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Error codes for ResponseFrame.Error.Code.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrNotFound       = "NOT_FOUND"
	ErrRateLimited    = "RATE_LIMITED"
	ErrInternal       = "INTERNAL"
)

// NewOKResponse builds a success response for a request ID.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failure response for a request ID.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    false,
		Error: &ErrorShape{Code: code, Message: message},
	}
}

// NewEvent builds a server-pushed event frame.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: event, Payload: payload}
}

// ParseFrameType peeks at the type discriminator of a raw frame.
func ParseFrameType(raw []byte) (FrameType, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("parse frame: %w", err)
	}
	switch head.Type {
	case FrameTypeRequest, FrameTypeResponse, FrameTypeEvent:
		return head.Type, nil
	default:
		return "", fmt.Errorf("unknown frame type %q", head.Type)
	}
}
