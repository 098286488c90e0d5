package matching

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// StateView exposes per-test state to state criteria. A nil StateView fails
// any mock declaring match.state fields.
type StateView interface {
	// Value resolves a flat or dotted-path key against current state.
	Value(path string) (any, bool)
}

// Verdict is the outcome of matching one mock against one request.
type Verdict struct {
	// Matched reports whether every aspect of the mock matched.
	Matched bool

	// Params holds extracted path parameters: strings for single-segment
	// params, []string for repeated ones.
	Params map[string]any

	// Fields is the number of compared criteria fields, feeding the
	// specificity score.
	Fields int

	// Reason names the first failing aspect when Matched is false, e.g.
	// "method", "url", or "headers.Authorization".
	Reason string
}

// Matcher matches mock rules against requests. Compiled URL patterns and
// regexes are cached per source string, so a long-lived Matcher amortizes
// compilation across requests.
type Matcher struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
	regexes  map[string]*regexp.Regexp
}

// NewMatcher creates a Matcher with empty caches.
func NewMatcher() *Matcher {
	return &Matcher{
		patterns: make(map[string]*Pattern),
		regexes:  make(map[string]*regexp.Regexp),
	}
}

// ValidateMock compiles everything the mock will need at match time: its
// URL pattern or regex and any regex strategy operands. Called at
// registration so malformed patterns fail fast, never during a request.
func (m *Matcher) ValidateMock(mock *scenario.Mock) error {
	if mock.URL != "" {
		if _, err := m.pattern(mock.URL); err != nil {
			return err
		}
	}
	if mock.URLPattern != "" {
		if _, err := m.regex(mock.URLPattern); err != nil {
			return err
		}
	}
	if mock.Match == nil {
		return nil
	}
	for _, fields := range []map[string]scenario.MatchValue{
		mock.Match.Body, mock.Match.Headers, mock.Match.Query, mock.Match.State,
	} {
		for _, mv := range fields {
			if mv.Kind == scenario.KindStrategy && mv.Op == scenario.OpRegex {
				src, _ := mv.Operand.(string)
				if _, err := m.regex(src); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Match tests one mock against one request. state may be nil when no state
// manager is attached.
func (m *Matcher) Match(mock *scenario.Mock, req *scenario.RequestContext, state StateView) *Verdict {
	if !strings.EqualFold(mock.Method, req.Method) {
		return &Verdict{Reason: "method"}
	}

	params, reason := m.matchURL(mock, req.URL)
	if reason != "" {
		return &Verdict{Reason: reason}
	}

	if mock.Match != nil {
		if reason := m.matchCriteria(mock.Match, req, state); reason != "" {
			return &Verdict{Reason: reason}
		}
	}

	return &Verdict{
		Matched: true,
		Params:  params,
		Fields:  mock.Match.FieldCount(),
	}
}

// matchURL resolves the mock's URL pattern or regex against the request URL.
// Regex patterns perform substring matching on the full URL regardless of
// origin; compiled patterns apply their own origin rules.
func (m *Matcher) matchURL(mock *scenario.Mock, requestURL string) (map[string]any, string) {
	if mock.URLPattern != "" {
		re, err := m.regex(mock.URLPattern)
		if err != nil || !re.MatchString(requestURL) {
			return nil, "url"
		}
		return nil, ""
	}

	p, err := m.pattern(mock.URL)
	if err != nil {
		return nil, "url"
	}
	params, ok := p.Match(requestURL)
	if !ok {
		return nil, "url"
	}
	return params, ""
}

// matchCriteria checks every declared criteria field; the first failure
// names the aspect and field.
func (m *Matcher) matchCriteria(c *scenario.MatchCriteria, req *scenario.RequestContext, state StateView) string {
	for field, mv := range c.Headers {
		if !m.matchValue(mv, req.Header(field)) {
			return "headers." + field
		}
	}

	if len(c.Query) > 0 {
		query := req.QueryValues()
		for field, mv := range c.Query {
			if !m.matchValue(mv, query[field]) {
				return "query." + field
			}
		}
	}

	if len(c.Body) > 0 {
		body := parseBody(req.Body)
		for field, mv := range c.Body {
			val, ok := resolveBodyField(field, body)
			if !ok {
				val = nil
			}
			if !m.matchValue(mv, Stringify(val)) {
				return "body." + field
			}
		}
	}

	if len(c.State) > 0 {
		if state == nil {
			return "state"
		}
		for field, mv := range c.State {
			val, ok := state.Value(field)
			if !ok {
				return "state." + field
			}
			if !m.matchValue(mv, Stringify(val)) {
				return "state." + field
			}
		}
	}

	return ""
}

// matchValue dispatches the MatchValue union against an actual value.
// Comparisons are case-sensitive; criteria values are stringified first and
// null matches the empty string. Unrecognized strategies fail the field.
func (m *Matcher) matchValue(mv scenario.MatchValue, actual string) bool {
	if mv.Kind == scenario.KindExact {
		return Stringify(mv.Exact) == actual
	}

	operand, ok := mv.Operand.(string)
	if !ok {
		operand = Stringify(mv.Operand)
	}

	switch mv.Op {
	case scenario.OpContains:
		return strings.Contains(actual, operand)
	case scenario.OpStartsWith:
		return strings.HasPrefix(actual, operand)
	case scenario.OpEndsWith:
		return strings.HasSuffix(actual, operand)
	case scenario.OpEquals:
		return actual == operand
	case scenario.OpRegex:
		re, err := m.regex(operand)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// pattern returns the compiled URL pattern for a source, compiling and
// caching on first use.
func (m *Matcher) pattern(source string) (*Pattern, error) {
	m.mu.RLock()
	p, ok := m.patterns[source]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := CompilePattern(source)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.patterns[source] = p
	m.mu.Unlock()
	return p, nil
}

// regex returns the compiled, safety-screened regex for a source.
func (m *Matcher) regex(source string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, ok := m.regexes[source]
	m.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := CompileSafeRegex(source)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.regexes[source] = re
	m.mu.Unlock()
	return re, nil
}

// Stringify converts an arbitrary criteria or request value to its string
// form for comparison. Nil stringifies to the empty string.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
