package rule

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// MatchContext is the set of primitives a rule's match expression can
// inspect, derived from a single frame crossing the proxy.
type MatchContext struct {
	Method          string
	Body            []byte
	Direction       string
	TransportType   string
	AuthScopes      []string
	AuthPermissions []string
	HTTPPath        string
	HTTPMethod      string
	HTTPHeaders     map[string]string
	SessionID       string
	RequestTime     time.Time
}

// CELEvaluator compiles and evaluates arbitrary boolean CEL expressions
// against a MatchContext. It is the escape hatch for conditions the
// primitive matchers below can't express. Implemented by
// internal/adapter/outbound/cel.
type CELEvaluator interface {
	Eval(expr string, mc MatchContext) (bool, error)
	Validate(expr string) error
}

// MatchNode is one node of the match expression tree: either a boolean
// combinator (And/Or/Not) or exactly one primitive matcher. An empty node
// matches nothing (fails closed).
type MatchNode struct {
	And []MatchNode
	Or  []MatchNode
	Not *MatchNode

	Method         *MethodMatch
	JSONPath       *JSONPathMatch
	Direction      string
	TransportType  string
	AuthScope      string
	AuthPermission string
	HTTPPath       *StringMatch
	HTTPMethod     string
	HTTPHeader     *HeaderMatch
	CEL            string
}

// MethodMatch matches a JSON-RPC method name.
type MethodMatch struct {
	Mode  string // exact, prefix, regex
	Value string
	re    *regexp.Regexp
}

func (m *MethodMatch) match(method string) bool {
	switch m.Mode {
	case "prefix":
		return strings.HasPrefix(method, m.Value)
	case "regex":
		return m.re != nil && m.re.MatchString(method)
	default:
		return method == m.Value
	}
}

// StringMatch matches a plain string field (currently http_path).
type StringMatch struct {
	Mode  string // exact, prefix, regex
	Value string
	re    *regexp.Regexp
}

func (m *StringMatch) match(s string) bool {
	switch m.Mode {
	case "prefix":
		return strings.HasPrefix(s, m.Value)
	case "regex":
		return m.re != nil && m.re.MatchString(s)
	default:
		return s == m.Value
	}
}

// JSONPathMatch matches a value resolved from the frame body by JSONPath.
// Failed path resolution always evaluates to false, never an error.
type JSONPathMatch struct {
	Path  string
	Op    string // exists, equals, contains, regex
	Value string
	re    *regexp.Regexp
}

func (m *JSONPathMatch) match(body []byte) bool {
	res, ok := ResolveJSONPath(body, m.Path)
	switch m.Op {
	case "exists":
		return ok
	case "equals":
		return ok && res.String() == m.Value
	case "contains":
		return ok && strings.Contains(res.String(), m.Value)
	case "regex":
		return ok && m.re != nil && m.re.MatchString(res.String())
	default:
		return false
	}
}

// HeaderMatch matches an HTTP header by name, optionally by value.
type HeaderMatch struct {
	Name  string
	Value string
}

func (m *HeaderMatch) match(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, m.Name) {
			if m.Value == "" {
				return true
			}
			return v == m.Value
		}
	}
	return false
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// Eval evaluates a match tree against a frame's MatchContext. celEval may
// be nil when the RuleSet contains no CEL matchers.
func Eval(node *MatchNode, mc MatchContext, celEval CELEvaluator) (bool, error) {
	if node == nil {
		return false, nil
	}
	switch {
	case len(node.And) > 0:
		for i := range node.And {
			ok, err := Eval(&node.And[i], mc, celEval)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case len(node.Or) > 0:
		for i := range node.Or {
			ok, err := Eval(&node.Or[i], mc, celEval)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case node.Not != nil:
		ok, err := Eval(node.Not, mc, celEval)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case node.Method != nil:
		return node.Method.match(mc.Method), nil
	case node.JSONPath != nil:
		return node.JSONPath.match(mc.Body), nil
	case node.Direction != "":
		return node.Direction == mc.Direction, nil
	case node.TransportType != "":
		return node.TransportType == mc.TransportType, nil
	case node.AuthScope != "":
		return containsString(mc.AuthScopes, node.AuthScope), nil
	case node.AuthPermission != "":
		return containsString(mc.AuthPermissions, node.AuthPermission), nil
	case node.HTTPPath != nil:
		return node.HTTPPath.match(mc.HTTPPath), nil
	case node.HTTPMethod != "":
		return strings.EqualFold(node.HTTPMethod, mc.HTTPMethod), nil
	case node.HTTPHeader != nil:
		return node.HTTPHeader.match(mc.HTTPHeaders), nil
	case node.CEL != "":
		if celEval == nil {
			return false, errors.New("cel matcher present but no CEL evaluator configured")
		}
		return celEval.Eval(node.CEL, mc)
	default:
		return false, nil
	}
}

// Validate compiles/checks every leaf matcher in the tree, caching compiled
// regexes on MethodMatch/StringMatch/JSONPathMatch and validating CEL
// expressions via celEval. Called at RuleSet load time so a bad expression
// never reaches Eval.
func Validate(node *MatchNode, celEval CELEvaluator) error {
	if node == nil {
		return nil
	}
	for i := range node.And {
		if err := Validate(&node.And[i], celEval); err != nil {
			return err
		}
	}
	for i := range node.Or {
		if err := Validate(&node.Or[i], celEval); err != nil {
			return err
		}
	}
	if node.Not != nil {
		if err := Validate(node.Not, celEval); err != nil {
			return err
		}
	}
	if node.Method != nil && node.Method.Mode == "regex" {
		re, err := regexp.Compile(node.Method.Value)
		if err != nil {
			return err
		}
		node.Method.re = re
	}
	if node.HTTPPath != nil && node.HTTPPath.Mode == "regex" {
		re, err := regexp.Compile(node.HTTPPath.Value)
		if err != nil {
			return err
		}
		node.HTTPPath.re = re
	}
	if node.JSONPath != nil {
		if node.JSONPath.Path == "" {
			return errors.New("json_path matcher missing path")
		}
		if node.JSONPath.Op == "regex" {
			re, err := regexp.Compile(node.JSONPath.Value)
			if err != nil {
				return err
			}
			node.JSONPath.re = re
		}
	}
	if node.CEL != "" {
		if celEval == nil {
			return errors.New("cel matcher present but no CEL evaluator configured")
		}
		if err := celEval.Validate(node.CEL); err != nil {
			return err
		}
	}
	return nil
}
