package scenario

import "net/url"

// RequestContext carries the aspects of an intercepted request that mock
// matching inspects. It is a plain value assembled by the interception
// layer; the core never reads from the network.
type RequestContext struct {
	// Method is the HTTP method.
	Method string

	// URL is the full request URL, or a pathname for origin-agnostic calls.
	URL string

	// Headers holds request headers. Keys are matched case-insensitively.
	Headers map[string]string

	// Query holds query parameters. When nil, parameters are derived from
	// the URL's query string.
	Query map[string]string

	// Body is the raw request body, parsed as JSON on demand for body
	// criteria.
	Body []byte
}

// QueryValues returns the effective query parameters, deriving them from the
// URL when the Query map is unset.
func (r *RequestContext) QueryValues() map[string]string {
	if r.Query != nil {
		return r.Query
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil
	}
	values := u.Query()
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Header returns the header value for a key, matched case-insensitively.
// Absent headers read as the empty string.
func (r *RequestContext) Header(key string) string {
	for k, v := range r.Headers {
		if equalFold(k, key) {
			return v
		}
	}
	return ""
}

// equalFold is an ASCII case-insensitive comparison, sufficient for HTTP
// header keys.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
