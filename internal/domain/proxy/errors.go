package proxy

import (
	"encoding/json"
	"errors"
)

// CreateJSONRPCError builds a JSON-RPC 2.0 error response with no data
// payload. id should come from mcp.Message.RawID() so the ID format
// (string vs number) round-trips even when the message failed to decode.
func CreateJSONRPCError(id interface{}, code int, message string) []byte {
	return CreateJSONRPCErrorWithData(id, code, message, nil)
}

// CreateJSONRPCErrorWithData builds a JSON-RPC 2.0 error response carrying
// a structured data payload (e.g. {"reason":..., "rule_id":...} for a rule
// Block action).
func CreateJSONRPCErrorWithData(id interface{}, code int, message string, data interface{}) []byte {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		errObj["data"] = data
	}
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   errObj,
		"id":      id,
	}
	b, _ := json.Marshal(resp)
	return b
}

// SafeErrorMessage maps an interceptor error to a message safe to return to
// the client: no internal details (file paths, stack traces, upstream
// error text) leak through.
func SafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingSession):
		return "Session required"
	case errors.Is(err, ErrRuleBlocked):
		return "Request denied by rule"
	default:
		return "Internal error"
	}
}
