package rule

import (
	"fmt"
	"strings"

	"github.com/tidwall/sjson"
)

// ApplyModify sets value at the given JSONPath within raw JSON bytes and
// returns the modified document. Shares ResolveJSONPath's dot/bracket
// dialect but rejects recursive-descent paths, since "rewrite the first
// match found by walking the tree" is not a well-defined write target.
func ApplyModify(raw []byte, path string, value interface{}) ([]byte, error) {
	path = strings.TrimPrefix(path, "$")
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("modify action does not support recursive-descent paths: %q", path)
	}
	path = strings.TrimPrefix(path, ".")
	out, err := sjson.SetBytes(raw, bracketToDot(path), value)
	if err != nil {
		return nil, fmt.Errorf("apply modify at %q: %w", path, err)
	}
	return out, nil
}
