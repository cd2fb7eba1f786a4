package rule

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ResolveJSONPath resolves a JSONPath expression against a raw JSON
// document. Supports dot-notation, bracket-index ("items[0]"), and
// recursive-descent ("..name") as required by the match expression
// grammar. Failed resolution returns ok=false; it never errors, so a
// missing field just fails the matcher that asked for it.
func ResolveJSONPath(body []byte, path string) (gjson.Result, bool) {
	path = strings.TrimPrefix(path, "$")
	if strings.HasPrefix(path, "..") {
		return resolveRecursiveDescent(body, path)
	}
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		if !gjson.ValidBytes(body) {
			return gjson.Result{}, false
		}
		return gjson.ParseBytes(body), true
	}
	if strings.Contains(path, "..") {
		return resolveRecursiveDescent(body, path)
	}
	res := gjson.GetBytes(body, bracketToDot(path))
	return res, res.Exists()
}

// bracketToDot rewrites JSONPath bracket-index syntax ("a[0].b") into
// gjson's dot-path dialect ("a.0.b").
func bracketToDot(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			b.WriteByte('.')
		case ']':
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}

// resolveRecursiveDescent handles a single ".." segment by walking the
// document (breadth over objects and arrays) for the first key matching
// the segment after it. gjson has no native recursive-descent operator, so
// this walks the parsed tree directly.
func resolveRecursiveDescent(body []byte, path string) (gjson.Result, bool) {
	parts := strings.SplitN(path, "..", 2)
	root := gjson.ParseBytes(body)
	if parts[0] != "" {
		root = gjson.GetBytes(body, bracketToDot(parts[0]))
		if !root.Exists() {
			return gjson.Result{}, false
		}
	}
	target := parts[1]

	var found gjson.Result
	var ok bool
	var walk func(gjson.Result)
	walk = func(v gjson.Result) {
		if ok {
			return
		}
		switch {
		case v.IsObject():
			v.ForEach(func(key, val gjson.Result) bool {
				if key.String() == target {
					found, ok = val, true
					return false
				}
				walk(val)
				return !ok
			})
		case v.IsArray():
			v.ForEach(func(_, val gjson.Result) bool {
				walk(val)
				return !ok
			})
		}
	}
	walk(root)
	return found, ok
}
