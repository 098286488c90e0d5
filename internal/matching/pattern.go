// Package matching implements URL pattern and request-content matching for
// mock rules, producing match verdicts, extracted path parameters, and
// specificity scores.
package matching

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// PatternKind identifies how a URL pattern is interpreted.
type PatternKind int

const (
	// KindExact matches the request path by string equality.
	KindExact PatternKind = iota
	// KindWildcard matches the request path as a glob (* and **).
	KindWildcard
	// KindParams matches a parametrized path (:name and friends).
	KindParams
)

// Pattern is a compiled URL pattern. A pattern carrying scheme+host matches
// only that exact origin; a pathname-only pattern is origin-agnostic.
type Pattern struct {
	raw    string
	origin string // "scheme://host", empty when origin-agnostic
	kind   PatternKind

	path   string         // exact path (KindExact) or glob (KindWildcard)
	re     *regexp.Regexp // compiled path regex (KindParams)
	groups []paramGroup   // capture group layout, in order
}

// paramGroup describes one capturing group of a parametrized pattern.
// An empty name marks an unnamed group, excluded from the result map.
type paramGroup struct {
	name     string
	modifier byte // 0, '?', '+', or '*'
}

// segmentPattern is the default per-segment match for a path parameter.
const segmentPattern = `[^/]+?`

// CompilePattern compiles a URL pattern string. Malformed patterns fail here
// with a PatternSyntaxError, never at match time.
func CompilePattern(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, &scenario.PatternSyntaxError{Pattern: pattern, Message: "pattern cannot be empty"}
	}

	p := &Pattern{raw: pattern}

	path := pattern
	if origin, rest, ok := splitOrigin(pattern); ok {
		p.origin = origin
		path = rest
		if path == "" {
			path = "/"
		}
	}

	switch {
	case strings.ContainsAny(path, ":("):
		p.kind = KindParams
		re, groups, err := compileParams(pattern, path)
		if err != nil {
			return nil, err
		}
		p.re = re
		p.groups = groups
	case strings.Contains(path, "*"):
		p.kind = KindWildcard
		if !doublestar.ValidatePattern(path) {
			return nil, &scenario.PatternSyntaxError{Pattern: pattern, Message: "invalid glob pattern"}
		}
		p.path = path
	default:
		p.kind = KindExact
		p.path = path
	}

	return p, nil
}

// Match tests a request URL against the pattern. On success it returns the
// extracted path parameters: strings for single-segment params, ordered
// string slices for repeated params. Optional params matched zero times are
// omitted entirely.
func (p *Pattern) Match(requestURL string) (map[string]any, bool) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return nil, false
	}

	if p.origin != "" && !sameOrigin(p.origin, u) {
		return nil, false
	}

	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}

	switch p.kind {
	case KindExact:
		if p.path == reqPath {
			return map[string]any{}, true
		}
		return nil, false
	case KindWildcard:
		ok, err := doublestar.Match(p.path, reqPath)
		if err != nil || !ok {
			return nil, false
		}
		return map[string]any{}, true
	default:
		return p.matchParams(reqPath)
	}
}

func (p *Pattern) matchParams(reqPath string) (map[string]any, bool) {
	sub := p.re.FindStringSubmatch(reqPath)
	if sub == nil {
		return nil, false
	}

	params := make(map[string]any)
	for i, g := range p.groups {
		if i+1 >= len(sub) {
			break
		}
		raw := sub[i+1]
		if g.name == "" {
			continue // unnamed groups are excluded
		}
		if raw == "" && (g.modifier == '?' || g.modifier == '*') {
			continue // absent optional params are omitted, never null/empty
		}
		switch g.modifier {
		case '+', '*':
			segs := strings.Split(raw, "/")
			vals := make([]string, len(segs))
			for j, s := range segs {
				vals[j] = percentDecode(s)
			}
			params[g.name] = vals
		default:
			params[g.name] = percentDecode(raw)
		}
	}
	return params, true
}

// Origin returns the pinned origin, or an empty string for origin-agnostic
// patterns.
func (p *Pattern) Origin() string { return p.origin }

// Kind returns the pattern kind.
func (p *Pattern) Kind() PatternKind { return p.kind }

// String returns the raw pattern source.
func (p *Pattern) String() string { return p.raw }

// splitOrigin splits "scheme://host/path" into origin and path.
func splitOrigin(pattern string) (origin, rest string, ok bool) {
	if !strings.HasPrefix(pattern, "http://") && !strings.HasPrefix(pattern, "https://") {
		return "", "", false
	}
	u, err := url.Parse(pattern)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	return u.Scheme + "://" + u.Host, u.Path, true
}

func sameOrigin(origin string, u *url.URL) bool {
	if u.Host == "" {
		return false
	}
	return strings.EqualFold(origin, u.Scheme+"://"+u.Host)
}

func percentDecode(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// compileParams translates parametrized path syntax into an anchored RE2
// regex. Supported parameter forms: :name, :name?, :name+, :name*, and
// :name(custom). Unnamed groups (custom) are kept as capture groups but
// excluded from the result map.
func compileParams(pattern, path string) (*regexp.Regexp, []paramGroup, error) {
	var (
		sb        strings.Builder
		groups    []paramGroup
		lastParam = -2 // index just past the previous parameter token
	)
	sb.WriteString("^")

	i := 0
	for i < len(path) {
		ch := path[i]
		switch ch {
		case '{', '}', '"':
			return nil, nil, &scenario.PatternSyntaxError{
				Pattern:  pattern,
				Position: i,
				Message:  "unsupported quoting character " + string(ch),
			}
		case '\\':
			if i+1 >= len(path) {
				return nil, nil, &scenario.PatternSyntaxError{
					Pattern:  pattern,
					Position: i,
					Message:  "trailing escape character",
				}
			}
			sb.WriteString(regexp.QuoteMeta(string(path[i+1])))
			i += 2
		case ':':
			if lastParam == i {
				return nil, nil, &scenario.PatternSyntaxError{
					Pattern:  pattern,
					Position: i,
					Message:  "two parameters must be separated by a literal",
				}
			}
			name, custom, modifier, next, err := scanParam(pattern, path, i)
			if err != nil {
				return nil, nil, err
			}
			seg := segmentPattern
			if custom != "" {
				seg = custom
			}
			writeParamGroup(&sb, seg, modifier, consumeSlashPrefix(&sb))
			groups = append(groups, paramGroup{name: name, modifier: modifier})
			lastParam = next
			i = next
		case '(':
			if lastParam == i {
				return nil, nil, &scenario.PatternSyntaxError{
					Pattern:  pattern,
					Position: i,
					Message:  "two parameters must be separated by a literal",
				}
			}
			custom, modifier, next, err := scanGroup(pattern, path, i)
			if err != nil {
				return nil, nil, err
			}
			writeParamGroup(&sb, custom, modifier, consumeSlashPrefix(&sb))
			groups = append(groups, paramGroup{name: "", modifier: modifier})
			lastParam = next
			i = next
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
			i++
		}
	}

	sb.WriteString(`/?$`)

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, &scenario.PatternSyntaxError{Pattern: pattern, Message: err.Error()}
	}
	return re, groups, nil
}

// consumeSlashPrefix removes a trailing literal "/" from the regex under
// construction so it can be folded into the parameter group, which keeps
// optional and repeated params from demanding a dangling slash.
func consumeSlashPrefix(sb *strings.Builder) bool {
	s := sb.String()
	if strings.HasSuffix(s, "/") {
		sb.Reset()
		sb.WriteString(s[:len(s)-1])
		return true
	}
	return false
}

// writeParamGroup emits the regex for one parameter with its modifier.
func writeParamGroup(sb *strings.Builder, seg string, modifier byte, slashPrefix bool) {
	prefix := ""
	if slashPrefix {
		prefix = "/"
	}
	switch modifier {
	case '?':
		sb.WriteString("(?:" + prefix + "(" + seg + "))?")
	case '+':
		sb.WriteString(prefix + "((?:" + seg + ")(?:/(?:" + seg + "))*)")
	case '*':
		sb.WriteString("(?:" + prefix + "((?:" + seg + ")(?:/(?:" + seg + "))*))?")
	default:
		sb.WriteString(prefix + "(" + seg + ")")
	}
}

// scanParam reads a :name parameter starting at path[start] == ':'.
func scanParam(pattern, path string, start int) (name, custom string, modifier byte, next int, err error) {
	i := start + 1
	for i < len(path) && isNameChar(path[i]) {
		i++
	}
	name = path[start+1 : i]
	if name == "" {
		return "", "", 0, 0, &scenario.PatternSyntaxError{
			Pattern:  pattern,
			Position: start,
			Message:  "missing parameter name",
		}
	}

	if i < len(path) && path[i] == '(' {
		custom, _, i, err = scanGroupBody(pattern, path, i)
		if err != nil {
			return "", "", 0, 0, err
		}
	}

	if i < len(path) {
		switch path[i] {
		case '?', '+', '*':
			modifier = path[i]
			i++
		}
	}
	return name, custom, modifier, i, nil
}

// scanGroup reads an unnamed (custom) group starting at path[start] == '('.
func scanGroup(pattern, path string, start int) (custom string, modifier byte, next int, err error) {
	custom, _, i, err := scanGroupBody(pattern, path, start)
	if err != nil {
		return "", 0, 0, err
	}
	if i < len(path) {
		switch path[i] {
		case '?', '+', '*':
			modifier = path[i]
			i++
		}
	}
	return custom, modifier, i, nil
}

// scanGroupBody reads a parenthesized pattern, honoring nesting and escapes.
// Capturing groups inside the body are rewritten to non-capturing so they
// cannot shift the outer group indices.
func scanGroupBody(pattern, path string, start int) (body string, depth, next int, err error) {
	i := start + 1
	depth = 1
	var sb strings.Builder
	for i < len(path) {
		ch := path[i]
		switch ch {
		case '\\':
			if i+1 < len(path) {
				sb.WriteByte(ch)
				sb.WriteByte(path[i+1])
				i += 2
				continue
			}
			return "", 0, 0, &scenario.PatternSyntaxError{
				Pattern:  pattern,
				Position: i,
				Message:  "trailing escape character in group",
			}
		case '(':
			depth++
			if i+1 < len(path) && path[i+1] == '?' {
				sb.WriteByte(ch)
			} else {
				sb.WriteString("(?:")
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				if sb.Len() == 0 {
					return "", 0, 0, &scenario.PatternSyntaxError{
						Pattern:  pattern,
						Position: start,
						Message:  "empty group",
					}
				}
				return sb.String(), 0, i + 1, nil
			}
			sb.WriteByte(ch)
			i++
		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return "", 0, 0, &scenario.PatternSyntaxError{
		Pattern:  pattern,
		Position: start,
		Message:  "unclosed group",
	}
}

func isNameChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
