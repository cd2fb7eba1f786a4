// Package cel adapts google/cel-go into the rule engine's CELEvaluator
// port, giving rule files an escape hatch for match conditions the
// primitive matchers (method, json_path, direction, ...) can't express.
package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/tidwall/gjson"
)

// newRuleEnvironment builds the CEL environment exposed to rule match
// expressions: every MatchContext field as a variable, plus glob/json_path
// helper functions.
func newRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("transport_type", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("auth_scopes", cel.ListType(cel.StringType)),
		cel.Variable("auth_permissions", cel.ListType(cel.StringType)),
		cel.Variable("http_path", cel.StringType),
		cel.Variable("http_method", cel.StringType),
		cel.Variable("http_headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("body", cel.BytesType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					ok, err := filepath.Match(pattern.Value().(string), value.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(ok)
				}),
			),
		),
		cel.Function("json_path",
			cel.MemberOverload("body_json_path_string",
				[]*cel.Type{cel.BytesType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(func(body, path ref.Val) ref.Val {
					b, ok := body.Value().([]byte)
					if !ok {
						return types.String("")
					}
					res := gjson.GetBytes(b, toGJSONPath(path.Value().(string)))
					return types.String(res.String())
				}),
			),
		),
	)
}

// toGJSONPath rewrites bracket-index syntax into gjson's dot dialect. It
// deliberately does not support recursive descent ("..") inside CEL
// expressions; that's what the dedicated json_path matcher is for.
func toGJSONPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			out = append(out, '.')
		case ']':
		default:
			out = append(out, path[i])
		}
	}
	return string(out)
}
