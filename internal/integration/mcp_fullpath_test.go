package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tapwire/gateway/internal/domain/audit"
	"github.com/tapwire/gateway/internal/domain/proxy"
	"github.com/tapwire/gateway/internal/domain/rule"
	"github.com/tapwire/gateway/pkg/mcp"
)

// --- Mock types for MCP full path test ---

// mockAuditStore captures appended audit records, implementing audit.AuditStore.
type mockAuditStore struct {
	records []audit.AuditRecord
}

func (m *mockAuditStore) Append(_ context.Context, records ...audit.AuditRecord) error {
	m.records = append(m.records, records...)
	return nil
}
func (m *mockAuditStore) Flush(_ context.Context) error { return nil }
func (m *mockAuditStore) Close() error                  { return nil }

// terminalInterceptorFunc adapts a function to proxy.MessageInterceptor, standing
// in for the UpstreamRouter at the end of the chain.
type terminalInterceptorFunc func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error)

func (f terminalInterceptorFunc) Intercept(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	return f(ctx, msg)
}

// newTestToolCallMessage builds a client-to-server tools/call request message.
func newTestToolCallMessage(toolName string, args map[string]interface{}, sessionID string) *mcp.Message {
	params, _ := json.Marshal(map[string]interface{}{"name": toolName, "arguments": args})
	req := &mcp.Request{JSONRPC: mcp.Version, ID: mcp.NewIntID(1), Method: "tools/call", Params: params}
	raw, _ := json.Marshal(req)
	return &mcp.Message{
		Raw:       raw,
		Decoded:   mcp.NewRequestMessage(req),
		Direction: mcp.ClientToServer,
		Timestamp: time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC),
		SessionID: sessionID,
	}
}

// newTestServerResponse builds a server-to-client response simulating a tool result.
func newTestServerResponse() *mcp.Message {
	result := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": "File contents: hello world"},
		},
	}
	resultJSON, _ := json.Marshal(result)
	resp := &mcp.Response{JSONRPC: mcp.Version, ID: mcp.NewIntID(1), Result: resultJSON}
	raw, _ := json.Marshal(resp)

	return &mcp.Message{
		Raw:       raw,
		Decoded:   mcp.NewResponseMessage(resp),
		Direction: mcp.ServerToClient,
		Timestamp: time.Now().UTC(),
	}
}

// buildFullPathChain wires the real production chain used by cmd/sentinel-gate's
// "start"/"run" orchestration: Validation -> Audit -> Rule -> terminal.
func buildFullPathChain(t testing.TB, rs rule.RuleSet, terminal proxy.MessageInterceptor) (proxy.MessageInterceptor, *mockAuditStore) {
	t.Helper()
	logger := testLogger()

	engine := rule.NewEngine(nil, logger)
	if err := engine.Load(rs); err != nil {
		t.Fatalf("engine.Load() error = %v", err)
	}

	auditStore := &mockAuditStore{}
	ruleInterceptor := proxy.NewRuleInterceptor(engine, nil, terminal, logger)
	auditInterceptor := proxy.NewAuditInterceptor(auditStore, ruleInterceptor, logger)
	chain := proxy.NewValidationInterceptor(auditInterceptor, logger)

	return chain, auditStore
}

// TestMCPFullPath_AllowedToolCall validates the full production chain
// (Validation -> Audit -> Rule -> terminal) for a tool call with no matching
// block rule.
func TestMCPFullPath_AllowedToolCall(t *testing.T) {
	serverResponse := newTestServerResponse()
	terminal := terminalInterceptorFunc(func(_ context.Context, _ *mcp.Message) (*mcp.Message, error) {
		return serverResponse, nil
	})

	// No rules loaded: the engine's default is ActionContinue for every frame.
	chain, auditStore := buildFullPathChain(t, rule.RuleSet{}, terminal)

	msg := newTestToolCallMessage("read_file", map[string]interface{}{"path": "/tmp/data.txt"}, "sess-integ-001")

	result, err := chain.Intercept(context.Background(), msg)
	if err != nil {
		t.Fatalf("Intercept() returned error for allowed tool call: %v", err)
	}
	if result == nil {
		t.Fatal("Intercept() returned nil message for allowed tool call")
	}
	if result.Direction != mcp.ServerToClient {
		t.Errorf("result.Direction = %v, want ServerToClient", result.Direction)
	}

	if len(auditStore.records) != 1 {
		t.Fatalf("audit records count = %d, want 1", len(auditStore.records))
	}
	record := auditStore.records[0]
	if record.ToolName != "read_file" {
		t.Errorf("audit ToolName = %q, want %q", record.ToolName, "read_file")
	}
	if record.SessionID != "sess-integ-001" {
		t.Errorf("audit SessionID = %q, want %q", record.SessionID, "sess-integ-001")
	}
	if record.Decision != audit.DecisionAllow {
		t.Errorf("audit Decision = %q, want %q", record.Decision, audit.DecisionAllow)
	}
}

// TestMCPFullPath_DeniedToolCall validates the full chain for a tool call
// rejected by a Block rule matching on the JSON-RPC method.
func TestMCPFullPath_DeniedToolCall(t *testing.T) {
	terminal := terminalInterceptorFunc(func(_ context.Context, _ *mcp.Message) (*mcp.Message, error) {
		t.Error("terminal interceptor should not be called for denied tool calls")
		return nil, nil
	})

	rs := rule.RuleSet{Version: 1, Rules: []rule.Rule{
		{
			ID:       "deny-exec",
			Name:     "Deny Exec",
			Priority: 100,
			Enabled:  true,
			Match: &rule.MatchNode{
				JSONPath: &rule.JSONPathMatch{Path: "params.name", Op: "equals", Value: "exec_command"},
			},
			Actions: []rule.Action{{Type: rule.ActionBlock, Reason: "exec tools are blocked"}},
		},
	}}

	chain, auditStore := buildFullPathChain(t, rs, terminal)

	msg := newTestToolCallMessage("exec_command", map[string]interface{}{"cmd": "rm -rf /"}, "sess-integ-001")

	_, err := chain.Intercept(context.Background(), msg)
	if err == nil {
		t.Fatal("Intercept() should return error for denied tool call")
	}
	if !errors.Is(err, proxy.ErrRuleBlocked) {
		t.Errorf("error should wrap ErrRuleBlocked, got: %v", err)
	}

	if len(auditStore.records) != 1 {
		t.Fatalf("audit records count = %d, want 1", len(auditStore.records))
	}
	record := auditStore.records[0]
	if record.Decision != audit.DecisionDeny {
		t.Errorf("audit Decision = %q, want %q", record.Decision, audit.DecisionDeny)
	}
	if record.ToolName != "exec_command" {
		t.Errorf("audit ToolName = %q, want %q", record.ToolName, "exec_command")
	}
	if record.RuleID != "deny-exec" {
		t.Errorf("audit RuleID = %q, want %q", record.RuleID, "deny-exec")
	}
}
