package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	errEmptyMessage  = errors.New("empty message")
	errNotJSONObject = errors.New("message is neither a JSON object nor array")
	errNilMessage    = errors.New("nil message")
	errUnknownKind   = errors.New("unknown message kind")
)

// probe is used to discriminate a single JSON-RPC object before committing
// to a concrete type. Per spec: a `method` with no `id` is a Notification,
// `method` with `id` is a Request, and `result`/`error` with no `method` is
// a Response.
type probe struct {
	Method *string         `json:"method"`
	ID     *ID             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Parse decodes wire bytes into a ProtocolMessage. allowBatch gates whether
// a top-level JSON array is accepted; when false, a batch is rejected with
// InvalidRequestError instead of ParseError, matching spec.md's distinction
// between "malformed JSON" and "well-formed but disallowed shape."
func Parse(data []byte, allowBatch bool) (*ProtocolMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errEmptyMessage}
	}

	switch trimmed[0] {
	case '[':
		return parseBatch(trimmed, allowBatch)
	case '{':
		return parseSingle(trimmed)
	default:
		return nil, &ParseError{Err: errNotJSONObject}
	}
}

func parseBatch(data []byte, allowBatch bool) (*ProtocolMessage, error) {
	if !allowBatch {
		return nil, &InvalidRequestError{Reason: "batch not supported in the negotiated protocol version"}
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &ParseError{Err: err}
	}
	if len(raws) == 0 {
		return nil, &InvalidRequestError{Reason: "batch must not be empty"}
	}

	items := make([]*ProtocolMessage, 0, len(raws))
	for _, raw := range raws {
		item, err := parseSingle(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return NewBatchMessage(items), nil
}

func parseSingle(data []byte) (*ProtocolMessage, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ParseError{Err: err}
	}

	switch {
	case p.Method != nil && (p.ID == nil || p.ID.IsNull()):
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, &ParseError{Err: err}
		}
		if n.JSONRPC != Version {
			return nil, &InvalidRequestError{Reason: "missing or invalid jsonrpc version"}
		}
		return NewNotificationMessage(&n), nil

	case p.Method != nil:
		var r Request
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, &ParseError{Err: err}
		}
		if r.JSONRPC != Version {
			return nil, &InvalidRequestError{Reason: "missing or invalid jsonrpc version"}
		}
		return NewRequestMessage(&r), nil

	case p.Result != nil || p.Error != nil:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, &ParseError{Err: err}
		}
		if resp.JSONRPC != Version {
			return nil, &InvalidRequestError{Reason: "missing or invalid jsonrpc version"}
		}
		return NewResponseMessage(&resp), nil

	default:
		return nil, &InvalidRequestError{Reason: "message has neither method nor result/error"}
	}
}

// Serialize produces canonical JSON-RPC wire bytes for a ProtocolMessage.
// A Batch serializes as a JSON array preserving element order; the ID
// serialization format of each element matches whatever was stored in its
// ID field (string vs integer), since ID carries the original wire bytes.
func Serialize(m *ProtocolMessage) ([]byte, error) {
	if m == nil {
		return nil, errNilMessage
	}
	switch m.Kind {
	case KindRequest:
		return json.Marshal(m.Request)
	case KindNotification:
		return json.Marshal(m.Notification)
	case KindResponse:
		return json.Marshal(m.Response)
	case KindBatch:
		parts := make([]json.RawMessage, 0, len(m.Batch))
		for _, item := range m.Batch {
			raw, err := Serialize(item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, raw)
		}
		return json.Marshal(parts)
	default:
		return nil, errUnknownKind
	}
}
