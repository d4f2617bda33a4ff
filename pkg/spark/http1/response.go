package http1

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// minBodyCap is the first capacity a response body grows to.
const minBodyCap = 512

// Response collects a handler's status, headers and body and serializes
// them. Body and wire buffers are tracked blocks of the connection scope and
// are released by its Reset, so a Response is reused for every request on
// the connection.
type Response struct {
	scope   *memory.Scope
	status  int
	headers []Header
	body    []byte
	wire    []byte
}

// NewResponse creates the response of a connection.
func NewResponse(scope *memory.Scope) *Response {
	r := &Response{scope: scope, status: StatusOK}
	scope.OnReset(r.Reset)
	return r
}

// Reset drops the status, headers and body. Buffers already written stay
// tracked by the scope until its next Reset.
func (r *Response) Reset() {
	r.status = StatusOK
	clear(r.headers)
	r.headers = r.headers[:0]
	r.body = nil
	r.wire = nil
}

// SetStatus sets the status code. The default is 200.
func (r *Response) SetStatus(code int) { r.status = code }

// Status returns the status code.
func (r *Response) Status() int { return r.status }

// SetHeader replaces every header named key with a single one.
func (r *Response) SetHeader(key, value string) {
	kept := r.headers[:0]
	for _, h := range r.headers {
		if !strings.EqualFold(h.Key, key) {
			kept = append(kept, h)
		}
	}
	r.headers = append(kept, Header{Key: key, Value: value})
}

// AddHeader appends a header line.
func (r *Response) AddHeader(key, value string) {
	r.headers = append(r.headers, Header{Key: key, Value: value})
}

// Headers returns the headers set so far.
func (r *Response) Headers() []Header { return r.headers }

// Write appends p to the body.
func (r *Response) Write(p []byte) (int, error) {
	r.body = r.grow(r.body, len(p))
	r.body = append(r.body, p...)
	return len(p), nil
}

// WriteString appends s to the body.
func (r *Response) WriteString(s string) (int, error) {
	r.body = r.grow(r.body, len(s))
	r.body = append(r.body, s...)
	return len(s), nil
}

// SetFileContent replaces the body with the contents of the named file,
// read into a block tracked by the connection scope. Content-Type is derived
// from the file extension unless already set. A missing file sets 503 and
// any other failure 500; the error is returned either way so handlers can
// choose a different status.
func (r *Response) SetFileContent(name string) error {
	r.body = r.body[:0]
	err := r.readFile(name)
	if err != nil {
		r.body = r.body[:0]
		if errors.Is(err, fs.ErrNotExist) {
			r.status = StatusServiceUnavailable
		} else {
			r.status = StatusInternalServerError
		}
		return err
	}
	if !r.hasHeader("Content-Type") {
		r.SetHeader("Content-Type", ContentTypeFor(name))
	}
	return nil
}

func (r *Response) readFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("http1: %s is not a regular file", name)
	}
	size := int(st.Size())
	r.body = r.grow(r.body, size)[:size]
	if _, err := io.ReadFull(f, r.body); err != nil {
		return fmt.Errorf("http1: read %s: %w", name, err)
	}
	return nil
}

func (r *Response) hasHeader(key string) bool {
	for _, h := range r.headers {
		if strings.EqualFold(h.Key, key) {
			return true
		}
	}
	return false
}

// Body returns the body written so far.
func (r *Response) Body() []byte { return r.body }

// grow makes room for n more bytes in a tracked buffer.
func (r *Response) grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b
	}
	newCap := max(2*cap(b), len(b)+n, minBodyCap)
	l := len(b)
	return r.scope.Tracker().Realloc(b, newCap)[:l]
}

func (r *Response) appendString(s string) {
	r.wire = r.grow(r.wire, len(s))
	r.wire = append(r.wire, s...)
}

func (r *Response) appendBytes(p []byte) {
	r.wire = r.grow(r.wire, len(p))
	r.wire = append(r.wire, p...)
}

// Serialize renders the status line, headers and body. Content-Length is
// always computed from the body; a Connection header is added when the
// connection state differs from the protocol default.
func (r *Response) Serialize(v Version, keepAlive bool) []byte {
	a := r.scope.Arena()
	r.wire = r.wire[:0]

	proto := Version11.String()
	if v == Version10 || v == Version09 {
		proto = Version10.String()
	}
	r.appendString(proto)
	r.appendString(" ")
	r.appendBytes(a.FormatInt(int64(r.status)))
	r.appendString(" ")
	r.appendString(StatusText(r.status))
	r.appendString("\r\n")

	for _, h := range r.headers {
		if strings.EqualFold(h.Key, headerContentLength) || strings.EqualFold(h.Key, headerConnection) {
			continue
		}
		r.appendString(h.Key)
		r.appendBytes(colonSpace)
		r.appendString(h.Value)
		r.appendBytes(crlf)
	}

	r.appendString(headerContentLength)
	r.appendBytes(colonSpace)
	r.appendBytes(a.FormatInt(int64(len(r.body))))
	r.appendBytes(crlf)

	switch {
	case !keepAlive && v.Number() >= 11:
		r.appendString(headerConnection + ": " + tokenClose + "\r\n")
	case keepAlive && v.Number() < 11:
		r.appendString(headerConnection + ": " + tokenKeepAlive + "\r\n")
	}
	r.appendBytes(crlf)
	r.appendBytes(r.body)
	return r.wire
}

// Send serializes the response and writes it to t in chunks of at most
// WriteChunkSize, each bounded by timeout.
func (r *Response) Send(t Transport, v Version, keepAlive bool, timeout time.Duration) (int64, error) {
	wire := r.Serialize(v, keepAlive)
	var written int64
	for len(wire) > 0 {
		n := min(len(wire), WriteChunkSize)
		nw, err := t.Write(wire[:n], timeout)
		written += int64(nw)
		if err != nil {
			return written, classifyTransport(err)
		}
		wire = wire[nw:]
	}
	return written, nil
}
