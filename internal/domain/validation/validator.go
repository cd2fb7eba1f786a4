package validation

import (
	"github.com/tapwire/gateway/pkg/mcp"
)

// MessageValidator validates MCP messages for JSON-RPC compliance
// and MCP-specific requirements.
type MessageValidator struct{}

// NewMessageValidator creates a new MessageValidator.
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// Validate checks if the message is a valid JSON-RPC/MCP message.
// Returns nil if valid, or a *ValidationError if invalid.
//
// Validation rules:
//   - Message must have a non-nil Decoded field (parse error if nil)
//   - Requests must have a non-null ID and non-empty Method
//   - Request Method must be a valid MCP method
//   - Notifications must have non-empty Method
//   - Responses must have an ID and either Result or Error, not both
//   - Batch elements are each validated individually
func (v *MessageValidator) Validate(msg *mcp.Message) error {
	if msg.Decoded == nil {
		return NewValidationError(ErrCodeParseError, "Parse error")
	}
	return v.validateProtocolMessage(msg.Decoded)
}

func (v *MessageValidator) validateProtocolMessage(m *mcp.ProtocolMessage) error {
	switch m.Kind {
	case mcp.KindRequest:
		return v.validateRequest(m.Request)
	case mcp.KindNotification:
		return v.validateNotification(m.Notification)
	case mcp.KindResponse:
		return v.validateResponse(m.Response)
	case mcp.KindBatch:
		for _, item := range m.Batch {
			if err := v.validateProtocolMessage(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
}

// validateRequest validates a JSON-RPC request (method call expecting a response).
func (v *MessageValidator) validateRequest(req *mcp.Request) error {
	if req.ID.IsNull() {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	if req.Method == "" {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	if !IsValidMCPMethod(req.Method) {
		return NewValidationError(ErrCodeMethodNotFound, "Method not found")
	}
	return nil
}

// validateNotification validates a JSON-RPC notification (fire-and-forget).
func (v *MessageValidator) validateNotification(n *mcp.Notification) error {
	if n.Method == "" {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	if !IsValidMCPMethod(n.Method) {
		return NewValidationError(ErrCodeMethodNotFound, "Method not found")
	}
	return nil
}

// validateResponse validates a JSON-RPC response.
func (v *MessageValidator) validateResponse(resp *mcp.Response) error {
	if resp.ID.IsNull() {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}

	hasResult := resp.Result != nil
	hasError := resp.Error != nil

	if hasResult && hasError {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	if !hasResult && !hasError {
		return NewValidationError(ErrCodeInvalidRequest, "Invalid Request")
	}
	return nil
}
