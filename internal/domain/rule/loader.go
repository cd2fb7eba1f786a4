package rule

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// wireRuleSet mirrors the on-disk/over-the-wire rule file format:
// {version, rules:[{id, name, priority, enabled, match_conditions, actions, ...}]}.
type wireRuleSet struct {
	Version int        `json:"version" yaml:"version"`
	Rules   []wireRule `json:"rules" yaml:"rules"`
}

type wireRule struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Priority        uint32      `json:"priority" yaml:"priority"`
	Enabled         *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MatchConditions MatchNode   `json:"match_conditions" yaml:"match_conditions"`
	Actions         []wireAction `json:"actions" yaml:"actions"`
	Description     string      `json:"description,omitempty" yaml:"description,omitempty"`
	Tags            []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type wireAction struct {
	ActionType string          `json:"action_type" yaml:"action_type"`
	Parameters json.RawMessage `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ParseJSON parses a RuleSet from its JSON wire format.
func ParseJSON(data []byte) (RuleSet, error) {
	var wrs wireRuleSet
	if err := json.Unmarshal(data, &wrs); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule file: %w", err)
	}
	return fromWire(wrs)
}

// ParseYAML parses a RuleSet from its YAML wire format.
func ParseYAML(data []byte) (RuleSet, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule file: %w", err)
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return RuleSet{}, fmt.Errorf("parse rule file: %w", err)
	}
	return ParseJSON(j)
}

func fromWire(wrs wireRuleSet) (RuleSet, error) {
	rs := RuleSet{Version: wrs.Version, Rules: make([]Rule, 0, len(wrs.Rules))}
	for _, wr := range wrs.Rules {
		enabled := true
		if wr.Enabled != nil {
			enabled = *wr.Enabled
		}
		actions := make([]Action, 0, len(wr.Actions))
		for _, wa := range wr.Actions {
			a, err := parseAction(wa)
			if err != nil {
				return RuleSet{}, fmt.Errorf("rule %q: %w", wr.ID, err)
			}
			actions = append(actions, a)
		}
		match := wr.MatchConditions
		rs.Rules = append(rs.Rules, Rule{
			ID:          wr.ID,
			Name:        wr.Name,
			Priority:    wr.Priority,
			Enabled:     enabled,
			Match:       &match,
			Actions:     actions,
			Description: wr.Description,
			Tags:        wr.Tags,
		})
	}
	return rs, nil
}

func parseAction(wa wireAction) (Action, error) {
	switch wa.ActionType {
	case "", "continue":
		return Action{Type: ActionContinue}, nil
	case "block":
		var p struct {
			Reason string `json:"reason" yaml:"reason"`
		}
		if len(wa.Parameters) > 0 {
			if err := json.Unmarshal(wa.Parameters, &p); err != nil {
				return Action{}, fmt.Errorf("block action: %w", err)
			}
		}
		return Action{Type: ActionBlock, Reason: p.Reason}, nil
	case "modify":
		var p struct {
			Path  string          `json:"path"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(wa.Parameters, &p); err != nil {
			return Action{}, fmt.Errorf("modify action: %w", err)
		}
		var v interface{}
		if len(p.Value) > 0 {
			if err := json.Unmarshal(p.Value, &v); err != nil {
				return Action{}, fmt.Errorf("modify action value: %w", err)
			}
		}
		return Action{Type: ActionModify, Path: p.Path, Value: v}, nil
	case "mock":
		var p struct {
			ResponseTemplate json.RawMessage        `json:"response_template"`
			ContextVariables map[string]interface{} `json:"context_variables"`
		}
		if err := json.Unmarshal(wa.Parameters, &p); err != nil {
			return Action{}, fmt.Errorf("mock action: %w", err)
		}
		return Action{Type: ActionMock, ResponseTemplate: p.ResponseTemplate, ContextVariables: p.ContextVariables}, nil
	case "delay":
		pattern, err := parseDelayPattern(wa.Parameters)
		if err != nil {
			return Action{}, fmt.Errorf("delay action: %w", err)
		}
		return Action{Type: ActionDelay, Delay: pattern}, nil
	case "pause":
		var p struct {
			TimeoutMs int64 `json:"timeout_ms"`
		}
		if err := json.Unmarshal(wa.Parameters, &p); err != nil {
			return Action{}, fmt.Errorf("pause action: %w", err)
		}
		return Action{Type: ActionPause, TimeoutMs: p.TimeoutMs}, nil
	default:
		return Action{}, fmt.Errorf("unknown action_type %q", wa.ActionType)
	}
}

func parseDelayPattern(raw json.RawMessage) (DelayPattern, error) {
	var p struct {
		Pattern       string `json:"pattern"`
		FixedMs       int64  `json:"fixed_ms"`
		MinMs         int64  `json:"min_ms"`
		MaxMs         int64  `json:"max_ms"`
		BaseMs        int64  `json:"base_ms"`
		Factor        float64 `json:"factor"`
		MaxAttempts   int    `json:"max_attempts"`
		JitterPercent float64 `json:"jitter_percent"`
		JSONPath      string `json:"json_path"`
		TrueMs        int64  `json:"true_duration_ms"`
		FalseMs       int64  `json:"false_duration_ms"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return DelayPattern{}, err
	}
	ms := time.Millisecond
	switch p.Pattern {
	case "", "fixed":
		return DelayPattern{Kind: DelayFixed, Fixed: time.Duration(p.FixedMs) * ms}, nil
	case "uniform":
		return DelayPattern{Kind: DelayUniform, Min: time.Duration(p.MinMs) * ms, Max: time.Duration(p.MaxMs) * ms}, nil
	case "exponential_backoff":
		return DelayPattern{
			Kind: DelayExponential, Base: time.Duration(p.BaseMs) * ms,
			Factor: p.Factor, MaxAttempts: p.MaxAttempts,
		}, nil
	case "jittered":
		return DelayPattern{Kind: DelayJittered, Base: time.Duration(p.BaseMs) * ms, JitterPercent: p.JitterPercent}, nil
	case "conditional":
		return DelayPattern{
			Kind: DelayConditional, JSONPath: p.JSONPath,
			TrueDuration: time.Duration(p.TrueMs) * ms, FalseDur: time.Duration(p.FalseMs) * ms,
		}, nil
	default:
		return DelayPattern{}, fmt.Errorf("unknown delay pattern %q", p.Pattern)
	}
}
