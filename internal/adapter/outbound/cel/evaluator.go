package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tapwire/gateway/internal/domain/rule"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth      = 50
	evalTimeout          = 5 * time.Second
	interruptCheckFreq   = 100
)

// MatchEvaluator implements rule.CELEvaluator by compiling and caching CEL
// programs, each cost-limited and run under a hard timeout so a pathological
// expression can't stall the interceptor chain.
type MatchEvaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewMatchEvaluator builds a MatchEvaluator with the rule-matching CEL
// environment (method/direction/json_path/... variables and helpers).
func NewMatchEvaluator() (*MatchEvaluator, error) {
	env, err := newRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("build cel environment: %w", err)
	}
	return &MatchEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Validate compiles expr without evaluating it, used at RuleSet load time
// so a bad CEL matcher fails hot reload instead of erroring per-frame.
func (e *MatchEvaluator) Validate(expr string) error {
	_, err := e.compile(expr)
	return err
}

// Eval compiles (or reuses a cached compile of) expr and evaluates it
// against mc under a bounded timeout.
func (e *MatchEvaluator) Eval(expr string, mc rule.MatchContext) (bool, error) {
	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	out, _, err := prg.ContextEval(ctx, buildActivation(mc))
	if err != nil {
		return false, fmt.Errorf("cel eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("cel expression did not evaluate to a boolean")
	}
	return b, nil
}

func (e *MatchEvaluator) compile(expr string) (cel.Program, error) {
	if len(expr) == 0 {
		return nil, errors.New("empty cel expression")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("cel expression exceeds %d characters", maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile cel expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("cel expression must evaluate to a boolean")
	}
	prg, err := e.env.Program(ast,
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func validateNesting(expr string) error {
	depth := 0
	for _, c := range expr {
		switch c {
		case '(', '[', '{':
			depth++
			if depth > maxNestingDepth {
				return fmt.Errorf("cel expression exceeds max nesting depth %d", maxNestingDepth)
			}
		case ')', ']', '}':
			depth--
		}
	}
	return nil
}

func buildActivation(mc rule.MatchContext) map[string]any {
	headers := mc.HTTPHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	scopes := mc.AuthScopes
	if scopes == nil {
		scopes = []string{}
	}
	perms := mc.AuthPermissions
	if perms == nil {
		perms = []string{}
	}
	body := mc.Body
	if body == nil {
		body = []byte{}
	}
	return map[string]any{
		"method":           mc.Method,
		"direction":        mc.Direction,
		"transport_type":   mc.TransportType,
		"session_id":       mc.SessionID,
		"auth_scopes":      scopes,
		"auth_permissions": perms,
		"http_path":        mc.HTTPPath,
		"http_method":      mc.HTTPMethod,
		"http_headers":     headers,
		"body":             body,
	}
}

var _ rule.CELEvaluator = (*MatchEvaluator)(nil)
