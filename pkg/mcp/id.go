// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the sentinel-gate proxy.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ID is the wire-exact encoding of a JSON-RPC id: a JSON number or a JSON
// string. It stores the original bytes so integer and string forms round-trip
// byte-for-byte instead of being normalized through float64, which loses
// precision on large integers and reformats trailing zeros.
type ID json.RawMessage

// NewIntID builds an ID from an int64.
func NewIntID(v int64) ID {
	return ID(strconv.FormatInt(v, 10))
}

// NewStringID builds an ID from a string, JSON-quoting it.
func NewStringID(v string) ID {
	b, _ := json.Marshal(v)
	return ID(b)
}

// IsNull reports whether the ID is absent or JSON null.
func (id ID) IsNull() bool {
	t := bytes.TrimSpace(id)
	return len(t) == 0 || string(t) == "null"
}

// IsString reports whether the ID was encoded as a JSON string.
func (id ID) IsString() bool {
	t := bytes.TrimSpace(id)
	return len(t) > 0 && t[0] == '"'
}

// Int64 returns the numeric value of the ID if it was encoded as an integer.
func (id ID) Int64() (int64, bool) {
	if id.IsString() || id.IsNull() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(id)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Str returns the unquoted string value of the ID if it was encoded as a
// JSON string.
func (id ID) Str() (string, bool) {
	if !id.IsString() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(id, &s); err != nil {
		return "", false
	}
	return s, true
}

// String renders the ID for logging: the string value unquoted, or the
// decimal digits for a numeric ID.
func (id ID) String() string {
	if s, ok := id.Str(); ok {
		return s
	}
	return string(bytes.TrimSpace(id))
}

// Equal compares two IDs by their raw JSON bytes with surrounding whitespace
// trimmed, so "1" and " 1 " compare equal; differently written numbers such
// as 1 and 1.0 do not.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(bytes.TrimSpace(id), bytes.TrimSpace(other))
}

// MarshalJSON implements json.Marshaler, passing the stored bytes through
// unchanged.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler. It accepts JSON numbers,
// strings, and null, rejecting objects/arrays/booleans per JSON-RPC 2.0.
func (id *ID) UnmarshalJSON(data []byte) error {
	t := bytes.TrimSpace(data)
	if len(t) == 0 || string(t) == "null" {
		*id = nil
		return nil
	}
	switch t[0] {
	case '"':
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return err
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		// number; its syntax was already checked by encoding/json
	default:
		return errors.New("jsonrpc id must be a string or number")
	}
	*id = append((*id)[:0], t...)
	return nil
}
