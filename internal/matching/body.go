package matching

import (
	"encoding/json"

	"github.com/ohler55/ojg/jp"
)

// resolveBodyField extracts a value from the parsed JSON body by dotted
// path (e.g. "user.name" or "items.0.id"). Full JSONPath sources starting
// with $ or @ are passed through unchanged.
func resolveBodyField(field string, body any) (any, bool) {
	if body == nil {
		return nil, false
	}
	src := field
	if len(src) == 0 {
		return nil, false
	}
	if src[0] != '$' && src[0] != '@' {
		src = "$." + src
	}
	expr, err := jp.ParseString(src)
	if err != nil {
		return nil, false
	}
	results := expr.Get(body)
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// parseBody parses a raw request body as JSON. A nil or empty body and a
// non-JSON body both yield nil; body criteria then fail against it.
func parseBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}
