package matching

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// legalFlags are the flag characters accepted in /pattern/flags sources.
// Only i, m, and s change matching behavior here; g, u, y, d, and v are
// accepted for source compatibility and ignored.
const legalFlags = "dgimsuvy"

// CompileSafeRegex validates and compiles a regex source from a mock
// definition. Sources of the form /pattern/flags carry flags; anything else
// is treated as a bare pattern. Patterns with catastrophic-backtracking
// shape or illegal flag characters are rejected with a ConfigurationError.
func CompileSafeRegex(source string) (*regexp.Regexp, error) {
	pattern, flags, err := splitRegexSource(source)
	if err != nil {
		return nil, err
	}

	if err := checkBacktracking(source, pattern); err != nil {
		return nil, err
	}

	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i':
			prefix.WriteString("(?i)")
		case 'm':
			prefix.WriteString("(?m)")
		case 's':
			prefix.WriteString("(?s)")
		}
	}

	re, err := regexp.Compile(prefix.String() + pattern)
	if err != nil {
		return nil, &scenario.ConfigurationError{
			Field:   "regex",
			Message: fmt.Sprintf("invalid regex %q: %s", source, err.Error()),
		}
	}
	return re, nil
}

// splitRegexSource separates /pattern/flags sources into pattern and flags.
// A source qualifies only when it starts with a slash and the tail after the
// final slash is letters; a non-letter tail (e.g. the \d+ in /users/\d+)
// means the source is a bare pattern that happens to start with a slash.
// Letter tails are then checked for flag legality.
func splitRegexSource(source string) (pattern, flags string, err error) {
	if len(source) < 2 || source[0] != '/' {
		return source, "", nil
	}
	last := strings.LastIndexByte(source, '/')
	if last <= 0 {
		return source, "", nil
	}
	tail := source[last+1:]
	for _, f := range tail {
		if f < 'a' || f > 'z' {
			return source, "", nil
		}
	}
	for _, f := range tail {
		if !strings.ContainsRune(legalFlags, f) {
			return "", "", &scenario.ConfigurationError{
				Field:   "regex",
				Message: fmt.Sprintf("invalid regex flag %q in %q", string(f), source),
			}
		}
	}
	return source[1:last], tail, nil
}

// checkBacktracking rejects patterns whose parse tree nests an unbounded
// repetition inside another, the shape behind catastrophic backtracking in
// backtracking engines (e.g. (a+)+b). The screen is conservative: it judges
// the declared source, not this engine's execution model.
func checkBacktracking(source, pattern string) error {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return &scenario.ConfigurationError{
			Field:   "regex",
			Message: fmt.Sprintf("invalid regex %q: %s", source, err.Error()),
		}
	}
	if nestsUnboundedRepeat(re, false) {
		return &scenario.ConfigurationError{
			Field:   "regex",
			Message: fmt.Sprintf("regex %q rejected: nested unbounded repetition risks catastrophic backtracking", source),
		}
	}
	return nil
}

// nestsUnboundedRepeat walks the parse tree tracking whether the current
// node sits inside an unbounded repetition.
func nestsUnboundedRepeat(re *syntax.Regexp, inRepeat bool) bool {
	repeat := isUnboundedRepeat(re)
	if repeat && inRepeat {
		return true
	}
	for _, sub := range re.Sub {
		if nestsUnboundedRepeat(sub, inRepeat || repeat) {
			return true
		}
	}
	return false
}

func isUnboundedRepeat(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		return true
	case syntax.OpRepeat:
		return re.Max < 0
	default:
		return false
	}
}
