package http1

import (
	"bytes"
	"strings"
	"time"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// StreamOptions configures a Stream. Zero fields take the package defaults.
type StreamOptions struct {
	BufferSize  int
	MinFill     int
	PollTimeout time.Duration
}

func (o *StreamOptions) setDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MinFill <= 0 {
		o.MinFill = DefaultMinFill
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
}

// Stream buffers reads from a Transport and hands out zero-copy views of
// the buffered bytes.
//
// Invariant: 0 <= cursor <= filled <= len(buf).
//
// Views returned by ReadSlice, Peek and the ReadUntil family alias the
// stream buffer. They stay valid until the next Drain or until a later read
// grows the buffer, whichever comes first.
//
// The first transport failure is latched: every read fails with it until
// Drain clears it.
type Stream struct {
	t    Transport
	heap memory.Heap
	opts StreamOptions

	buf    []byte
	cursor int
	filled int
	err    error

	received uint64
}

// NewStream creates a stream over t. The buffer is drawn from heap and
// returned by Release.
func NewStream(t Transport, heap memory.Heap, opts StreamOptions) *Stream {
	if heap == nil {
		heap = memory.Runtime
	}
	opts.setDefaults()
	return &Stream{
		t:    t,
		heap: heap,
		opts: opts,
		buf:  heap.Alloc(opts.BufferSize),
	}
}

// Transport returns the underlying transport.
func (s *Stream) Transport() Transport { return s.t }

// Buffered returns the number of bytes read from the transport but not yet
// consumed.
func (s *Stream) Buffered() int { return s.filled - s.cursor }

// Consumed returns the number of bytes consumed since the last Drain.
func (s *Stream) Consumed() int { return s.cursor }

// Cap returns the current buffer capacity.
func (s *Stream) Cap() int { return len(s.buf) }

// Received returns the total number of bytes read from the transport.
func (s *Stream) Received() uint64 { return s.received }

// Err returns the latched transport error, if any.
func (s *Stream) Err() error { return s.err }

func (s *Stream) grow(need int) {
	if need <= len(s.buf) {
		return
	}
	newCap := len(s.buf)
	if newCap == 0 {
		newCap = s.opts.BufferSize
	}
	for newCap < need {
		newCap *= 2
	}
	nb := s.heap.Alloc(newCap)
	copy(nb, s.buf[:s.filled])
	s.heap.Free(s.buf)
	s.buf = nb
}

// Fill blocks until at least n unconsumed bytes are buffered. The buffer
// doubles as needed to hold them. Each read asks for the larger of the
// missing byte count and MinFill, capped by the free buffer space.
func (s *Stream) Fill(n int) error {
	if s.filled-s.cursor >= n {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	need := s.cursor + n
	s.grow(need)

	for s.filled < need {
		if err := s.t.Wait(s.opts.PollTimeout); err != nil {
			s.err = classifyTransport(err)
			return s.err
		}
		want := max(need-s.filled, s.opts.MinFill)
		want = min(want, len(s.buf)-s.filled)
		nr, err := s.t.Read(s.buf[s.filled : s.filled+want])
		if nr > 0 {
			s.filled += nr
			s.received += uint64(nr)
		}
		if err != nil {
			if s.filled >= need {
				break
			}
			s.err = classifyTransport(err)
			return s.err
		}
		if nr == 0 {
			// Readable with nothing to read is an orderly close.
			s.err = &TransportError{Kind: ErrTransportClosed}
			return s.err
		}
	}
	return nil
}

// ReadSlice consumes exactly n bytes.
func (s *Stream) ReadSlice(n int) ([]byte, error) {
	if err := s.Fill(n); err != nil {
		return nil, err
	}
	v := s.buf[s.cursor : s.cursor+n : s.cursor+n]
	s.cursor += n
	return v, nil
}

// Peek returns the next n bytes without consuming them.
func (s *Stream) Peek(n int) ([]byte, error) {
	if err := s.Fill(n); err != nil {
		return nil, err
	}
	return s.buf[s.cursor : s.cursor+n : s.cursor+n], nil
}

// Discard consumes n bytes.
func (s *Stream) Discard(n int) error {
	if err := s.Fill(n); err != nil {
		return err
	}
	s.cursor += n
	return nil
}

// delimiter reports, for the bytes at the scan position, the length of a
// matching delimiter, 0 for no match, or -1 when the available bytes are a
// proper prefix of the delimiter and more input is needed.
type delimiter func(b []byte) int

// ReadUntilByte consumes up to and including delim and returns the bytes
// before it. The token may be at most limit bytes long.
func (s *Stream) ReadUntilByte(delim byte, limit int) ([]byte, error) {
	return s.readUntil(limit, 1, func(b []byte) int {
		if b[0] == delim {
			return 1
		}
		return 0
	})
}

// ReadUntilSequence consumes up to and including seq and returns the bytes
// before it. The token may be at most limit bytes long.
func (s *Stream) ReadUntilSequence(seq []byte, limit int) ([]byte, error) {
	return s.readUntil(limit, len(seq), func(b []byte) int {
		if len(b) >= len(seq) {
			if bytes.Equal(b[:len(seq)], seq) {
				return len(seq)
			}
			return 0
		}
		if bytes.Equal(b, seq[:len(b)]) {
			return -1
		}
		return 0
	})
}

// ReadUntilAnyOf consumes up to and including the first byte from set and
// returns the bytes before it along with the delimiter found.
func (s *Stream) ReadUntilAnyOf(set string, limit int) ([]byte, byte, error) {
	var found byte
	tok, err := s.readUntil(limit, 1, func(b []byte) int {
		if i := strings.IndexByte(set, b[0]); i >= 0 {
			found = set[i]
			return 1
		}
		return 0
	})
	return tok, found, err
}

// readUntil scans forward from the cursor for a delimiter. A CR or LF that
// is not part of the delimiter fails with ErrBadRequest, any other control
// byte with ErrInvalidCharacter, and a token longer than limit with
// ErrEntityTooLarge. On failure the cursor does not move.
func (s *Stream) readUntil(limit, delimLen int, match delimiter) ([]byte, error) {
	start := s.cursor
	i := start
	for {
		need := 1
		for i < s.filled {
			m := match(s.buf[i:s.filled])
			if m > 0 {
				tok := s.buf[start:i:i]
				s.cursor = i + m
				return tok, nil
			}
			if m < 0 {
				need = delimLen
				break
			}
			if i-start >= limit {
				return nil, ErrEntityTooLarge
			}
			switch c := s.buf[i]; {
			case c == '\r' || c == '\n':
				return nil, ErrBadRequest
			case isControl(c):
				return nil, ErrInvalidCharacter
			}
			i++
		}
		if err := s.Fill(i - start + need); err != nil {
			return nil, err
		}
	}
}

func isControl(c byte) bool {
	return c < 0x20 || c == 0x7f
}

// Drain discards consumed bytes, moves unconsumed ones to the front of the
// buffer and clears the latched error.
func (s *Stream) Drain() {
	if s.cursor > 0 {
		n := copy(s.buf, s.buf[s.cursor:s.filled])
		s.filled = n
		s.cursor = 0
	}
	s.err = nil
}

// Release returns the buffer to the heap. The stream must not be used
// afterwards.
func (s *Stream) Release() {
	s.heap.Free(s.buf)
	s.buf = nil
	s.cursor = 0
	s.filled = 0
}
