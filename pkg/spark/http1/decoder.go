package http1

import (
	"errors"
	"math"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// Source is the pull interface the decoder reads from. *Stream implements
// it over a blocking transport; any buffered source with the same view
// semantics will do.
type Source interface {
	ReadSlice(n int) ([]byte, error)
	Peek(n int) ([]byte, error)
	Discard(n int) error
	ReadUntilByte(delim byte, limit int) ([]byte, error)
	ReadUntilSequence(seq []byte, limit int) ([]byte, error)
}

// DecoderOptions bounds what a single request may declare. Zero fields take
// the package defaults.
type DecoderOptions struct {
	MaxHeaders       int
	MaxContentLength int
}

func (o *DecoderOptions) setDefaults() {
	if o.MaxHeaders <= 0 {
		o.MaxHeaders = DefaultMaxHeaders
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
}

// State is a decoder state.
type State uint8

const (
	StateMethod State = iota
	StatePath
	StateVersion
	StateHeaders
	StateContent
	StateDone
	StateError
)

var stateNames = [...]string{
	StateMethod:  "method",
	StatePath:    "path",
	StateVersion: "version",
	StateHeaders: "headers",
	StateContent: "content",
	StateDone:    "done",
	StateError:   "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Decoder turns the bytes of a Source into Requests, one at a time.
//
// Each Decode runs Method → Path → Version → Headers → Content → Done and
// stops at the first error. There is no recovery: after an error the
// connection is expected to close.
//
// A Decoder is bound to one connection. Header and segment slices are reused
// across requests and emptied by the scope's Reset.
type Decoder struct {
	src   Source
	scope *memory.Scope
	opts  DecoderOptions

	state State
	err   error
	req   Request

	headers []Header
	segs    []string
	query   []QueryParam
}

// NewDecoder creates a decoder reading from src and allocating from scope.
func NewDecoder(src Source, scope *memory.Scope, opts DecoderOptions) *Decoder {
	opts.setDefaults()
	d := &Decoder{
		src:   src,
		scope: scope,
		opts:  opts,
	}
	scope.OnReset(d.reset)
	return d
}

// State returns the state the last Decode stopped in.
func (d *Decoder) State() State { return d.state }

// Err returns the error the last Decode failed with.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) reset() {
	clear(d.headers)
	d.headers = d.headers[:0]
	clear(d.segs)
	d.segs = d.segs[:0]
	if q := d.req.query; cap(q) > cap(d.query) {
		d.query = q
	}
	clear(d.query[:cap(d.query)])
	d.query = d.query[:0]
	d.req = Request{}
	d.state = StateMethod
	d.err = nil
}

// Decode reads the next request. The returned Request is owned by the
// decoder and is overwritten by the next call.
func (d *Decoder) Decode() (*Request, error) {
	d.req = Request{arena: d.scope.Arena()}
	d.headers = d.headers[:0]
	d.state = StateMethod
	d.err = nil

	for {
		var err error
		switch d.state {
		case StateMethod:
			err = d.decodeMethod()
		case StatePath:
			err = d.decodePath()
		case StateVersion:
			err = d.decodeVersion()
		case StateHeaders:
			err = d.decodeHeaders()
		case StateContent:
			err = d.decodeContent()
		case StateDone:
			d.req.Headers = d.headers
			d.req.query = d.query[:0]
			return &d.req, nil
		}
		if err != nil {
			d.state = StateError
			d.err = err
			return nil, err
		}
	}
}

// remap replaces the generic stream kinds with field-specific ones.
func remap(err error, tooLarge, invalid ErrorKind) error {
	switch {
	case errors.Is(err, ErrEntityTooLarge):
		return tooLarge
	case errors.Is(err, ErrInvalidCharacter):
		return invalid
	}
	return err
}

func (d *Decoder) decodeMethod() error {
	tok, err := d.src.ReadUntilByte(' ', MaxMethodLength)
	if err != nil {
		return remap(err, ErrUnknownMethod, ErrInvalidMethodChar)
	}
	m := ParseMethod(tok)
	if m == MethodUnknown {
		return ErrUnknownMethod
	}
	d.req.Method = m
	d.state = StatePath
	return nil
}

func (d *Decoder) decodePath() error {
	tok, err := d.src.ReadUntilByte(' ', MaxPathLength)
	if err != nil {
		return remap(err, ErrURITooLarge, ErrInvalidPathChar)
	}
	p, err := ParsePath(d.scope.Arena(), tok, d.segs)
	if err != nil {
		return err
	}
	d.segs = p.Segments
	d.req.Path = p
	d.state = StateVersion
	return nil
}

func (d *Decoder) decodeVersion() error {
	tok, err := d.src.ReadUntilSequence(crlf, VersionLength)
	if err != nil {
		return remap(err, ErrUnknownVersion, ErrUnknownVersion)
	}
	// The view is converted before the next read can move the buffer.
	v := ParseVersion(tok)
	if v == VersionUnknown {
		return ErrUnknownVersion
	}
	d.req.Version = v
	d.state = StateHeaders
	return nil
}

func (d *Decoder) decodeHeaders() error {
	a := d.scope.Arena()
	for {
		p, err := d.src.Peek(2)
		if err != nil {
			return err
		}
		if p[0] == '\r' && p[1] == '\n' {
			if err := d.src.Discard(2); err != nil {
				return err
			}
			d.state = StateContent
			return nil
		}
		if len(d.headers) >= d.opts.MaxHeaders {
			return ErrEntityTooLarge
		}

		tok, err := d.src.ReadUntilSequence(colonSpace, MaxHeaderKeyLength)
		if err != nil {
			return remap(err, ErrEntityTooLarge, ErrInvalidHeaderKeyChar)
		}
		if len(tok) == 0 {
			return ErrBadRequest
		}
		// Copy now: reading the value may grow the stream buffer.
		key := a.String(tok)

		// The separator is exactly ": ".
		if p, err := d.src.Peek(1); err != nil {
			return err
		} else if p[0] == ' ' {
			return ErrBadRequest
		}

		tok, err = d.src.ReadUntilSequence(crlf, MaxHeaderValueLength)
		if err != nil {
			return remap(err, ErrEntityTooLarge, ErrInvalidHeaderValueChar)
		}
		d.headers = append(d.headers, Header{Key: key, Value: a.String(tok)})
	}
}

func (d *Decoder) decodeContent() error {
	d.req.Headers = d.headers
	v, ok := d.req.Header(headerContentLength)
	if !ok {
		d.state = StateDone
		return nil
	}
	n, err := parseContentLength(v)
	if err != nil {
		return err
	}
	if n > int64(d.opts.MaxContentLength) {
		return ErrEntityTooLarge
	}
	if n > 0 {
		content, err := d.src.ReadSlice(int(n))
		if err != nil {
			return err
		}
		d.req.Content = content
	}
	d.state = StateDone
	return nil
}

// parseContentLength accepts only a non-empty run of ASCII digits.
func parseContentLength(s string) (int64, error) {
	if len(s) == 0 {
		return -1, ErrContentLengthInvalid
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1, ErrContentLengthInvalid
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return -1, ErrContentLengthInvalid
		}
		n = n*10 + d
	}
	return n, nil
}
