package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapwire/gateway/internal/domain/rule"
	"github.com/tapwire/gateway/pkg/mcp"
)

// ErrRuleBlocked is the sentinel a RuleBlockError unwraps to, so
// errors.Is(err, ErrRuleBlocked) works regardless of which rule matched.
var ErrRuleBlocked = errors.New("blocked by rule")

// ErrMissingSession indicates a frame was processed before the session
// manager bound it to a session.
var ErrMissingSession = errors.New("missing session context")

// RuleBlockError reports a frame rejected by a rule's Block action,
// carrying the rule identity so the caller can surface it in the
// synthesized JSON-RPC error's data field.
type RuleBlockError struct {
	RuleID   string
	RuleName string
	Reason   string
}

func (e *RuleBlockError) Error() string {
	return fmt.Sprintf("blocked by rule %s: %s", e.RuleID, e.Reason)
}

// Unwrap returns ErrRuleBlocked so errors.Is(err, ErrRuleBlocked) works.
func (e *RuleBlockError) Unwrap() error { return ErrRuleBlocked }

// RuleInterceptor evaluates every frame against the active rule engine and
// applies the winning rule's action: Continue passes through unchanged,
// Block rejects with a structured error, Modify rewrites the frame body,
// Mock short-circuits with a synthesized response, Delay/Pause hold the
// frame before continuing.
type RuleInterceptor struct {
	engine *rule.Engine
	delay  *rule.DelayComputer
	next   MessageInterceptor
	logger *slog.Logger
}

// NewRuleInterceptor creates a RuleInterceptor. delay may be nil, in which
// case a time-seeded DelayComputer is created (non-deterministic; pass an
// explicit seeded one under replay).
func NewRuleInterceptor(engine *rule.Engine, delay *rule.DelayComputer, next MessageInterceptor, logger *slog.Logger) *RuleInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if delay == nil {
		delay = rule.NewDelayComputer(time.Now().UnixNano())
	}
	return &RuleInterceptor{engine: engine, delay: delay, next: next, logger: logger}
}

// Intercept implements MessageInterceptor.
func (r *RuleInterceptor) Intercept(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	mc := buildMatchContext(msg)
	action, matched := r.engine.Evaluate(ctx, mc)

	switch action.Type {
	case rule.ActionContinue:
		return r.next.Intercept(ctx, msg)

	case rule.ActionBlock:
		r.logger.Info("frame blocked by rule",
			"rule_id", matched.ID, "reason", action.Reason, "session_id", msg.SessionID)
		return nil, &RuleBlockError{RuleID: matched.ID, RuleName: matched.Name, Reason: action.Reason}

	case rule.ActionModify:
		modified, err := rule.ApplyModify(msg.Raw, action.Path, action.Value)
		if err != nil {
			r.logger.Warn("modify action failed, forwarding frame unmodified",
				"rule_id", matched.ID, "error", err)
			return r.next.Intercept(ctx, msg)
		}
		newMsg, err := mcp.WrapMessage(modified, msg.Direction, true)
		if err != nil {
			return nil, fmt.Errorf("rewrap modified message: %w", err)
		}
		newMsg.SessionID = msg.SessionID
		newMsg.Timestamp = msg.Timestamp
		r.logger.Debug("frame modified by rule", "rule_id", matched.ID, "path", action.Path)
		return r.next.Intercept(ctx, newMsg)

	case rule.ActionMock:
		mocked, err := buildMockResponse(msg, action)
		if err != nil {
			return nil, fmt.Errorf("build mock response: %w", err)
		}
		r.logger.Debug("frame mocked by rule", "rule_id", matched.ID)
		return mocked, nil

	case rule.ActionDelay:
		d := r.delay.Compute(action.Delay, mc)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.next.Intercept(ctx, msg)

	case rule.ActionPause:
		// Indefinite pause-for-operator-resume needs an out-of-band resume
		// channel the session manager doesn't expose yet; approximate it by
		// holding the frame for the rule's timeout, then releasing it.
		timeout := time.Duration(action.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-time.After(timeout):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.next.Intercept(ctx, msg)

	default:
		return r.next.Intercept(ctx, msg)
	}
}

// buildMatchContext derives a rule.MatchContext from an in-flight message.
func buildMatchContext(msg *mcp.Message) rule.MatchContext {
	mc := rule.MatchContext{
		Method:      msg.Method(),
		Body:        msg.Raw,
		SessionID:   msg.SessionID,
		RequestTime: msg.Timestamp,
	}
	if msg.Direction == mcp.ClientToServer {
		mc.Direction = "client->server"
	} else {
		mc.Direction = "server->client"
	}
	return mc
}

// buildMockResponse synthesizes a JSON-RPC response for a Mock action: the
// original request ID with a result built from the action's response
// template, overlaid with its context variables.
func buildMockResponse(msg *mcp.Message, action rule.Action) (*mcp.Message, error) {
	var result interface{} = map[string]interface{}{}
	if len(action.ResponseTemplate) > 0 {
		if err := json.Unmarshal(action.ResponseTemplate, &result); err != nil {
			return nil, fmt.Errorf("parse response_template: %w", err)
		}
	}
	if m, ok := result.(map[string]interface{}); ok {
		for k, v := range action.ContextVariables {
			m[k] = v
		}
	}

	resp := struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      mcp.ID      `json:"id"`
		Result  interface{} `json:"result"`
	}{JSONRPC: mcp.Version, ID: msg.RawID(), Result: result}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal mock response: %w", err)
	}
	wrapped, err := mcp.WrapMessage(raw, mcp.ServerToClient, true)
	if err != nil {
		return nil, fmt.Errorf("wrap mock response: %w", err)
	}
	wrapped.SessionID = msg.SessionID
	return wrapped, nil
}

// Compile-time check that RuleInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*RuleInterceptor)(nil)
