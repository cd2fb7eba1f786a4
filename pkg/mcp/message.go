package mcp

import (
	"encoding/json"
	"time"
)

// Direction indicates the flow direction of a message through the proxy.
type Direction int

const (
	// ClientToServer indicates a message flowing from client to MCP server.
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from MCP server to client.
	ServerToClient
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with proxy metadata. It stores
// both the raw bytes (for efficient passthrough) and the decoded message
// (for interceptor inspection).
type Message struct {
	// Raw contains the original bytes of the message, exactly as observed
	// on the wire. Used for passthrough when no modification is needed.
	Raw []byte

	// Direction indicates whether this message is flowing from
	// client to server or server to client.
	Direction Direction

	// Decoded contains the parsed JSON-RPC message. May be nil if parsing
	// failed but passthrough is still desired.
	Decoded *ProtocolMessage

	// Timestamp records when the message was received by the proxy.
	Timestamp time.Time

	// SessionID identifies the session this message belongs to. Empty until
	// the session manager binds the message to a session.
	SessionID string

	// FrameID is the per-session monotonic frame identifier assigned by the
	// session manager when the frame is recorded. Zero until assigned.
	FrameID uint64

	// ParsedParams caches the request's or notification's params, parsed
	// once and reused across interceptors.
	ParsedParams map[string]interface{}
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message with
// the given direction and current timestamp. allowBatch gates whether a
// top-level array is accepted (see Parse).
func WrapMessage(raw []byte, dir Direction, allowBatch bool) (*Message, error) {
	decoded, err := Parse(raw, allowBatch)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool { return m.Decoded.IsRequest() }

// IsNotification returns true if the message is a fire-and-forget call.
func (m *Message) IsNotification() bool { return m.Decoded.IsNotification() }

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool { return m.Decoded.IsResponse() }

// IsBatch returns true if the message is a JSON-RPC batch.
func (m *Message) IsBatch() bool { return m.Decoded.IsBatch() }

// Method returns the method name if this is a request or notification,
// empty string otherwise.
func (m *Message) Method() string {
	if m.Decoded == nil {
		return ""
	}
	return m.Decoded.Method()
}

// IsToolCall returns true if this is a tools/call request. This is the
// primary method for identifying tool invocations that need policy
// evaluation.
func (m *Message) IsToolCall() bool {
	return m.Method() == "tools/call"
}

// Request returns the underlying Request if this is a request message.
func (m *Message) Request() *Request {
	if m.Decoded == nil || m.Decoded.Kind != KindRequest {
		return nil
	}
	return m.Decoded.Request
}

// Response returns the underlying Response if this is a response message.
func (m *Message) Response() *Response {
	if m.Decoded == nil || m.Decoded.Kind != KindResponse {
		return nil
	}
	return m.Decoded.Response
}

// Notification returns the underlying Notification if this is a
// notification message.
func (m *Message) Notification() *Notification {
	if m.Decoded == nil || m.Decoded.Kind != KindNotification {
		return nil
	}
	return m.Decoded.Notification
}

// ParseParams parses the request/notification params and stores them in
// ParsedParams. Safe to call multiple times (no-op if already parsed).
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}
	if m.Decoded == nil {
		return nil
	}
	raw := m.Decoded.Params()
	if raw == nil {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	m.ParsedParams = params
	return params
}

// ExtractAPIKey extracts the API key from JSON-RPC params. MCP doesn't use
// HTTP headers for this on stdio, so API keys travel in params. Checked in
// priority order:
//  1. params._meta.apiKey (MCP standard metadata location)
//  2. params.apiKey (top-level, for simpler clients)
//
// Returns empty string if not found; this is not an error, since a cached
// session may already be bound to the message.
func (m *Message) ExtractAPIKey() string {
	params := m.ParsedParams
	if params == nil {
		params = m.ParseParams()
	}
	if params == nil {
		return ""
	}
	if meta, ok := params["_meta"].(map[string]interface{}); ok {
		if apiKey, ok := meta["apiKey"].(string); ok && apiKey != "" {
			return apiKey
		}
	}
	if apiKey, ok := params["apiKey"].(string); ok {
		return apiKey
	}
	return ""
}

// RawID extracts the request/response ID directly from the raw message
// bytes, bypassing the decoded form. Used to build error or mock responses
// when Decoded is nil because parsing failed.
func (m *Message) RawID() ID {
	if m.Decoded != nil {
		return m.Decoded.ID()
	}
	var probe struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(m.Raw, &probe); err != nil {
		return nil
	}
	return probe.ID
}
