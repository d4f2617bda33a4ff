package http1

import (
	"bytes"
	"io"
	"time"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// scriptTransport delivers one scripted chunk per Read. Once the script is
// exhausted Wait fails with waitErr, or Read reports EOF when waitErr is nil.
type scriptTransport struct {
	chunks  [][]byte
	reads   []int // len(p) of every Read
	waitErr error
	written bytes.Buffer
	closed  bool
}

func newScript(chunks ...string) *scriptTransport {
	t := &scriptTransport{}
	for _, c := range chunks {
		t.chunks = append(t.chunks, []byte(c))
	}
	return t
}

func (t *scriptTransport) Wait(time.Duration) error {
	if len(t.chunks) == 0 && t.waitErr != nil {
		return t.waitErr
	}
	return nil
}

func (t *scriptTransport) Read(p []byte) (int, error) {
	t.reads = append(t.reads, len(p))
	if len(t.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.chunks[0])
	t.chunks[0] = t.chunks[0][n:]
	if len(t.chunks[0]) == 0 {
		t.chunks = t.chunks[1:]
	}
	return n, nil
}

func (t *scriptTransport) Write(p []byte, _ time.Duration) (int, error) {
	return t.written.Write(p)
}

func (t *scriptTransport) Close() error {
	t.closed = true
	return nil
}

// replayTransport serves the same bytes forever.
type replayTransport struct {
	data []byte
	off  int
}

func (t *replayTransport) Wait(time.Duration) error { return nil }

func (t *replayTransport) Read(p []byte) (int, error) {
	n := copy(p, t.data[t.off:])
	t.off = (t.off + n) % len(t.data)
	return n, nil
}

func (t *replayTransport) Write(p []byte, _ time.Duration) (int, error) { return len(p), nil }
func (t *replayTransport) Close() error                                 { return nil }

type harness struct {
	scope  *memory.Scope
	stream *Stream
	dec    *Decoder
}

func newHarness(t Transport, sopts StreamOptions, dopts DecoderOptions) *harness {
	scope := memory.NewScope(nil)
	stream := NewStream(t, scope.Heap(), sopts)
	scope.Defer(stream.Release)
	return &harness{
		scope:  scope,
		stream: stream,
		dec:    NewDecoder(stream, scope, dopts),
	}
}

// next finishes the current request cycle.
func (h *harness) next() {
	h.scope.Reset()
	h.stream.Drain()
}

func decodeChunks(chunks ...string) (*Request, error) {
	h := newHarness(newScript(chunks...), StreamOptions{}, DecoderOptions{})
	return h.dec.Decode()
}
