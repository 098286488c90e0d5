// Package template substitutes {{namespace.path}} tokens into JSON-like
// response payloads. Supported namespaces are state (per-test state),
// params (matched path parameters), and scenario (active scenario info).
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ScenarioInfo exposes the active scenario to {{scenario.*}} tokens.
type ScenarioInfo struct {
	ID      string
	Variant string
}

// Context carries the values tokens resolve against. Params win over state
// only in the sense that they are separate namespaces; a path parameter
// never shadows a state key or vice versa.
type Context struct {
	Params   map[string]any
	State    map[string]any
	Scenario ScenarioInfo
}

// tokenRegex matches {{expression}} with optional inner whitespace.
var tokenRegex = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Engine performs recursive template substitution. It is stateless and safe
// for concurrent use.
type Engine struct{}

// New creates a template engine.
func New() *Engine {
	return &Engine{}
}

// Substitute walks a JSON-like value, replacing tokens in every string.
// Objects and arrays recurse; non-string primitives pass through unchanged.
//
// A string that is exactly one token is a pure template: the referenced
// value keeps its original type (array, object, number, boolean, null) and
// an unresolved path yields nil. A token embedded in a larger string is
// stringified on substitution (arrays comma-joined); an unresolved embedded
// token is left as the literal token text.
func (e *Engine) Substitute(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return e.substituteString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = e.Substitute(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = e.Substitute(item, ctx)
		}
		return out
	default:
		return value
	}
}

func (e *Engine) substituteString(s string, ctx *Context) any {
	loc := tokenRegex.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}

	// Pure mode: the whole string is one token.
	if loc[0] == 0 && loc[1] == len(s) {
		val, ok := resolve(s[loc[2]:loc[3]], ctx)
		if !ok {
			return nil
		}
		return val
	}

	// Embedded mode: substitute each resolvable token, stringified.
	return tokenRegex.ReplaceAllStringFunc(s, func(match string) string {
		sub := tokenRegex.FindStringSubmatch(match)
		val, ok := resolve(sub[1], ctx)
		if !ok {
			return match
		}
		return stringifyValue(val)
	})
}

// resolve evaluates one token expression against the context. The boolean
// is false for unknown namespaces and unresolvable paths.
func resolve(expr string, ctx *Context) (any, bool) {
	if ctx == nil {
		return nil, false
	}

	ns, path, _ := strings.Cut(expr, ".")
	var root any
	switch ns {
	case "state":
		root = anyMap(ctx.State)
	case "params":
		root = anyMap(ctx.Params)
	case "scenario":
		root = map[string]any{"id": ctx.Scenario.ID, "variant": ctx.Scenario.Variant}
	default:
		return nil, false
	}

	if path == "" {
		return root, true
	}
	return traverse(root, strings.Split(path, "."))
}

// traverse walks dotted path segments through maps and arrays. A trailing
// "length" segment is a pseudo-accessor for array, string, and map sizes
// unless the value actually carries a "length" key. Traversal through null
// or a non-traversable value is unresolved.
func traverse(current any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			if val, ok := node[seg]; ok {
				current = val
				continue
			}
			if seg == "length" {
				current = len(node)
				continue
			}
			return nil, false
		case []any:
			if seg == "length" {
				current = len(node)
				continue
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case []string:
			if seg == "length" {
				current = len(node)
				continue
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case string:
			if seg == "length" {
				current = len(node)
				continue
			}
			return nil, false
		default:
			return nil, false
		}
	}
	return current, true
}

// stringifyValue renders a resolved value for embedded substitution.
// Arrays are comma-joined; objects fall back to their JSON form.
func stringifyValue(val any) string {
	switch v := val.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = stringifyValue(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
