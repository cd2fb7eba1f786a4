package rule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
)

// Engine holds the active RuleSet and evaluates frames against it. The
// active set is stored behind an atomic pointer: Load swaps it in one
// step, so in-flight Evaluate calls always see either the old set or the
// new one, never a partially-applied one.
type Engine struct {
	cel    CELEvaluator
	logger *slog.Logger
	active atomic.Pointer[RuleSet]
}

// NewEngine creates an Engine with an empty active RuleSet. cel may be nil
// if the RuleSet never uses CEL matchers.
func NewEngine(celEval CELEvaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cel: celEval, logger: logger}
	e.active.Store(&RuleSet{})
	return e
}

// Load validates rs (duplicate IDs, compiled matchers, CEL expressions)
// and, on success, atomically swaps it in as the active RuleSet. On
// failure the previously active RuleSet is left untouched.
func (e *Engine) Load(rs RuleSet) error {
	if err := ValidateRuleSet(rs, e.cel); err != nil {
		return err
	}
	sorted := make([]Rule, len(rs.Rules))
	copy(sorted, rs.Rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	e.active.Store(&RuleSet{Version: rs.Version, Rules: sorted})
	return nil
}

// Active returns the currently active RuleSet.
func (e *Engine) Active() RuleSet {
	return *e.active.Load()
}

// ValidateRuleSet checks that every rule ID is unique and that every
// match tree in rs compiles (CEL expressions, method/path/json_path
// regexes).
func ValidateRuleSet(rs RuleSet, celEval CELEvaluator) error {
	seen := make(map[string]bool, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.ID == "" {
			return errors.New("rule missing id")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if err := Validate(r.Match, celEval); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	return nil
}

// Evaluate walks the active RuleSet in priority order (rules were sorted
// descending at Load time) and returns the action of the first matching
// rule whose resolved action is non-Continue, along with that rule. A
// rule whose match expression errors at runtime is logged and skipped
// (falls through to Continue for that rule, per spec), it does not abort
// evaluation of the rest of the set.
func (e *Engine) Evaluate(ctx context.Context, mc MatchContext) (Action, *Rule) {
	rs := e.active.Load()
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if !r.Enabled {
			continue
		}
		matched, err := Eval(r.Match, mc, e.cel)
		if err != nil {
			e.logger.Warn("rule match evaluation failed, skipping rule",
				"rule_id", r.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}
		action := LastNonContinue(r.Actions)
		if action.Type != ActionContinue {
			out := *r
			return action, &out
		}
	}
	return Action{Type: ActionContinue}, nil
}
