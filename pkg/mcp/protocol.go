package mcp

import (
	"encoding/json"
)

// Version is the JSON-RPC protocol version string carried on every message.
const Version = "2.0"

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so an *RPCError can be returned
// directly from interceptor and transport code.
func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Request is a JSON-RPC request: a method call expecting a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC request with no id: fire-and-forget, no
// response is expected or permitted.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response: exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Kind discriminates the variant stored in a ProtocolMessage.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ProtocolMessage is the tagged-variant JSON-RPC message the rest of the
// proxy operates on: Request, Response, Notification, or an ordered Batch
// of the preceding three. Only the field matching Kind is populated.
type ProtocolMessage struct {
	Kind         Kind
	Request      *Request
	Notification *Notification
	Response     *Response
	Batch        []*ProtocolMessage
}

// NewRequestMessage wraps a Request.
func NewRequestMessage(r *Request) *ProtocolMessage {
	return &ProtocolMessage{Kind: KindRequest, Request: r}
}

// NewNotificationMessage wraps a Notification.
func NewNotificationMessage(n *Notification) *ProtocolMessage {
	return &ProtocolMessage{Kind: KindNotification, Notification: n}
}

// NewResponseMessage wraps a Response.
func NewResponseMessage(r *Response) *ProtocolMessage {
	return &ProtocolMessage{Kind: KindResponse, Response: r}
}

// NewBatchMessage wraps an ordered sequence of non-batch messages.
func NewBatchMessage(items []*ProtocolMessage) *ProtocolMessage {
	return &ProtocolMessage{Kind: KindBatch, Batch: items}
}

// Method returns the method name for a Request or Notification, or the
// empty string otherwise.
func (m *ProtocolMessage) Method() string {
	if m == nil {
		return ""
	}
	switch m.Kind {
	case KindRequest:
		return m.Request.Method
	case KindNotification:
		return m.Notification.Method
	default:
		return ""
	}
}

// ID returns the request ID for a Request or Response, or a nil ID
// otherwise (Notifications and Batches have no single ID).
func (m *ProtocolMessage) ID() ID {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case KindRequest:
		return m.Request.ID
	case KindResponse:
		return m.Response.ID
	default:
		return nil
	}
}

// Params returns the raw params for a Request or Notification.
func (m *ProtocolMessage) Params() json.RawMessage {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case KindRequest:
		return m.Request.Params
	case KindNotification:
		return m.Notification.Params
	default:
		return nil
	}
}

// IsRequest reports whether this message expects a response.
func (m *ProtocolMessage) IsRequest() bool { return m != nil && m.Kind == KindRequest }

// IsNotification reports whether this message is a fire-and-forget call.
func (m *ProtocolMessage) IsNotification() bool { return m != nil && m.Kind == KindNotification }

// IsResponse reports whether this message carries a result or error.
func (m *ProtocolMessage) IsResponse() bool { return m != nil && m.Kind == KindResponse }

// IsBatch reports whether this message is an ordered batch of messages.
func (m *ProtocolMessage) IsBatch() bool { return m != nil && m.Kind == KindBatch }

// IsToolCall reports whether this is a tools/call request, the primary
// method the rule engine and policy evaluation key off of.
func (m *ProtocolMessage) IsToolCall() bool {
	return m.Method() == "tools/call"
}
