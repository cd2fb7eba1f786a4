// Package rule implements the proxy's interceptor rule engine: declarative
// match-and-action rules evaluated against every frame crossing the proxy.
package rule

import (
	"encoding/json"
	"time"
)

// ActionType identifies which effect a matched rule applies.
type ActionType string

const (
	// ActionContinue lets the frame proceed unmodified. Never the result of
	// a matched rule with a non-continue entry in its action list, but the
	// default when nothing matches.
	ActionContinue ActionType = "continue"
	// ActionBlock stops the frame and synthesizes a JSON-RPC error response.
	ActionBlock ActionType = "block"
	// ActionModify rewrites a field of the frame body in place via JSONPath.
	ActionModify ActionType = "modify"
	// ActionMock short-circuits the frame with a synthesized response,
	// never forwarding it upstream.
	ActionMock ActionType = "mock"
	// ActionDelay sleeps for a computed duration before continuing.
	ActionDelay ActionType = "delay"
	// ActionPause holds the frame until an operator resumes it.
	ActionPause ActionType = "pause"
)

// Action is the effect produced by a matched rule. Which fields are
// meaningful depends on Type.
type Action struct {
	Type ActionType

	// Block
	Reason string

	// Modify
	Path  string
	Value interface{}

	// Mock
	ResponseTemplate json.RawMessage
	ContextVariables map[string]interface{}

	// Delay / Pause
	Delay     DelayPattern
	TimeoutMs int64
}

// DelayKind selects which delay computation a Delay action uses.
type DelayKind string

const (
	DelayFixed       DelayKind = "fixed"
	DelayUniform     DelayKind = "uniform"
	DelayExponential DelayKind = "exponential_backoff"
	DelayJittered    DelayKind = "jittered"
	DelayConditional DelayKind = "conditional"
)

// DelayPattern parameterizes a Delay action. Only the fields relevant to
// Kind are read.
type DelayPattern struct {
	Kind DelayKind

	Fixed time.Duration

	Min, Max time.Duration

	Base        time.Duration
	Factor      float64
	MaxAttempts int

	JitterPercent float64

	JSONPath     string
	TrueDuration time.Duration
	FalseDur     time.Duration
}

// Rule is a single priority-ordered entry in a RuleSet: it matches a frame
// via Match and, on match, applies the last non-continue entry of Actions.
type Rule struct {
	ID          string
	Name        string
	Priority    uint32
	Enabled     bool
	Match       *MatchNode
	Actions     []Action
	Description string
	Tags        []string
}

// RuleSet is the unit of hot reload: a versioned, ordered collection of
// rules loaded atomically from a file or memory source.
type RuleSet struct {
	Version int
	Rules   []Rule
}

// LastNonContinue returns the final non-Continue action in the list, or a
// Continue action if every entry is Continue (or the list is empty). This
// implements "the rule's action list is applied in order; the last
// non-Continue action is returned."
func LastNonContinue(actions []Action) Action {
	result := Action{Type: ActionContinue}
	for _, a := range actions {
		if a.Type != ActionContinue {
			result = a
		}
	}
	return result
}
