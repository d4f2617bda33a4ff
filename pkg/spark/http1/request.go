package http1

import (
	"strings"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// Header is one header line. Order and duplicates are preserved.
type Header struct {
	Key   string
	Value string
}

// Request is a decoded request. Every string it holds lives in the
// connection arena and Content aliases the stream buffer, so a Request must
// not be retained past the Scope.Reset that follows its response.
type Request struct {
	Method  Method
	Path    Path
	Version Version
	Headers []Header

	// Content is nil when the request declared no body.
	Content []byte

	arena       *memory.Arena
	query       []QueryParam
	queryParsed bool
}

// Header returns the value of the first header named key, compared without
// regard to case.
func (r *Request) Header(key string) (string, bool) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Key, key) {
			return r.Headers[i].Value, true
		}
	}
	return "", false
}

// Values returns every value of the headers named key, in order.
func (r *Request) Values(key string) []string {
	var out []string
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Key, key) {
			out = append(out, r.Headers[i].Value)
		}
	}
	return out
}

// ContentLength returns len(Content).
func (r *Request) ContentLength() int { return len(r.Content) }

// KeepAlive reports whether the connection should stay open after the
// response. Without a Connection header HTTP/1.1 and later keep the
// connection alive; otherwise the header must say keep-alive.
func (r *Request) KeepAlive() bool {
	v, ok := r.Header(headerConnection)
	if !ok {
		return r.Version.Number() >= 11
	}
	return strings.EqualFold(v, tokenKeepAlive)
}

// Query returns the decoded query parameters. They are parsed on first use.
func (r *Request) Query() []QueryParam {
	if !r.queryParsed {
		r.queryParsed = true
		if raw := r.Path.RawQuery(); raw != "" && r.arena != nil {
			r.query = ParseQuery(r.arena, raw, r.query[:0])
		}
	}
	return r.query
}

// QueryValue returns the value of the first query parameter named key. The
// second result is false when the key is absent or carried no '='.
func (r *Request) QueryValue(key string) (string, bool) {
	for _, p := range r.Query() {
		if p.Key == key {
			return p.Value, p.HasValue
		}
	}
	return "", false
}
