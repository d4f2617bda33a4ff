package http1

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// Transport is the blocking connection the stream reads from and responses
// are written to.
//
// Wait blocks until the transport has data to read, it was closed, or the
// timeout expired. A Read following a successful Wait must not block for
// longer than that timeout.
type Transport interface {
	Wait(timeout time.Duration) error
	Read(p []byte) (int, error)
	Write(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// ConnTransport adapts a net.Conn. On unix platforms the readiness wait
// checks the socket with poll(2) before parking on the runtime poller;
// elsewhere it relies on read deadlines alone.
type ConnTransport struct {
	conn net.Conn
	raw  syscall.RawConn
}

// NewConnTransport wraps conn.
func NewConnTransport(conn net.Conn) *ConnTransport {
	t := &ConnTransport{conn: conn}
	if sc, ok := conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			t.raw = raw
		}
	}
	return t
}

// Conn returns the wrapped connection.
func (t *ConnTransport) Conn() net.Conn { return t.conn }

func (t *ConnTransport) Wait(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	if t.raw == nil {
		return nil
	}
	return waitReadable(t.raw)
}

func (t *ConnTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

func (t *ConnTransport) Write(p []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *ConnTransport) Close() error {
	return t.conn.Close()
}

// classifyTransport maps a transport failure to a TransportError. An orderly
// close from either side is ErrTransportClosed, an expired deadline is
// ErrTransportTimeout, and everything else is ErrTransport.
func classifyTransport(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	kind := ErrTransport
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		kind = ErrTransportClosed
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, ErrTransportTimeout):
		kind = ErrTransportTimeout
	case errors.Is(err, ErrTransportClosed):
		kind = ErrTransportClosed
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			kind = ErrTransportTimeout
		}
	}
	return &TransportError{Kind: kind, Err: err}
}
