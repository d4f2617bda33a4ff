package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
	"github.com/watt-toolkit/spark/pkg/spark/memory"
	"github.com/watt-toolkit/spark/pkg/spark/socket"
)

const (
	// lingerTimeout and lingerBytes bound how much unread input is drained
	// after an error response, so the peer sees the response instead of a
	// reset.
	lingerTimeout = 500 * time.Millisecond
	lingerBytes   = 256 << 10
)

// conn is the state of one connection. Everything except idle is owned by
// the connection goroutine.
type conn struct {
	srv    *Server
	nc     net.Conn
	remote string

	t      idleTransport
	heap   *memory.LimitHeap
	scope  *memory.Scope
	stream *http1.Stream
	dec    *http1.Decoder
	resp   *http1.Response

	// idle is set while waiting for the first byte of the next request.
	idle atomic.Bool

	chunks   int    // arena chunks reported to the gauge
	received uint64 // stream bytes reported to the counters
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()
	if s.connSem != nil {
		defer func() { <-s.connSem }()
	}

	c := &conn{srv: s, nc: nc, remote: nc.RemoteAddr().String()}
	s.trackConnection(c)
	defer s.untrackConnection(c)

	if err := socket.Apply(nc, s.cfg.Socket); err != nil {
		s.log.Debug("socket tuning failed", "remote", c.remote, "error", err)
	}

	defer c.finish()
	c.open()
	c.serve()
}

// open builds the connection scope. The stream buffer comes from the
// capped heap, so this may already panic with memory.ErrOutOfMemory.
func (c *conn) open() {
	cfg := &c.srv.cfg
	c.t = idleTransport{ConnTransport: http1.NewConnTransport(c.nc), idle: &c.idle}
	c.heap = memory.NewLimitHeap(cfg.Heap, cfg.MaxConnectionMemory)
	c.scope = memory.NewScope(c.heap)
	c.resp = http1.NewResponse(c.scope)
	c.stream = http1.NewStream(c.t, c.heap, http1.StreamOptions{
		BufferSize:  cfg.ReadBufferSize,
		MinFill:     cfg.MinFillSize,
		PollTimeout: cfg.PollTimeout,
	})
	c.scope.Defer(c.stream.Release)
	c.dec = http1.NewDecoder(c.stream, c.scope, http1.DecoderOptions{
		MaxHeaders:       cfg.MaxHeaders,
		MaxContentLength: cfg.MaxContentLength,
	})
}

// finish releases the connection memory. An out-of-memory panic ends only
// this connection; any other panic is a bug and is re-raised.
func (c *conn) finish() {
	r := recover()
	c.reportRead()
	c.srv.metrics.arenaChunks.Sub(float64(c.chunks))
	if c.scope != nil {
		c.scope.Close()
	}
	if r == nil {
		return
	}
	if !memory.IsOutOfMemory(r) {
		panic(r)
	}
	c.srv.stats.OutOfMemory.Add(1)
	c.srv.metrics.outOfMemory.Inc()
	peak := 0
	if c.heap != nil {
		peak = c.heap.Peak()
	}
	c.srv.log.Warn("connection out of memory",
		"remote", c.remote,
		"limit", c.srv.cfg.MaxConnectionMemory,
		"peak", peak)
}

func (c *conn) reportRead() {
	if c.stream == nil {
		return
	}
	if n := c.stream.Received() - c.received; n > 0 {
		c.received += n
		c.srv.stats.BytesRead.Add(n)
		c.srv.metrics.bytesRead.Add(float64(n))
	}
}

// serve runs the request loop: decode, route, respond, reset, drain.
func (c *conn) serve() {
	s := c.srv
	for {
		c.idle.Store(c.stream.Buffered() == 0)
		if s.ShuttingDown() && c.stream.Buffered() == 0 {
			return
		}
		req, err := c.dec.Decode()
		start := time.Now()
		if err != nil {
			c.decodeFailed(err)
			return
		}

		keepAlive := req.KeepAlive() && !s.cfg.DisableKeepalive && !s.ShuttingDown()
		if !c.handle(req) {
			keepAlive = false
		}
		n, err := c.resp.Send(c.t, req.Version, keepAlive, s.cfg.WriteTimeout)
		c.account(req, n, start)
		if err != nil {
			s.log.Debug("response write failed", "remote", c.remote, "error", err)
			return
		}

		c.scope.Reset()
		c.stream.Drain()
		if !keepAlive {
			return
		}
	}
}

// handle runs the routed handler. A handler panic is answered with 500 and
// reported as false so the connection closes after the response.
func (c *conn) handle(req *http1.Request) (ok bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if memory.IsOutOfMemory(r) {
			panic(r)
		}
		c.srv.metrics.handlerPanics.Inc()
		c.srv.log.Error("handler panic",
			"remote", c.remote,
			"method", req.Method.String(),
			"path", req.Path.Raw,
			"panic", r)
		writeError(c.resp, http1.StatusInternalServerError, "")
		ok = false
	}()
	c.srv.router.Serve(c.resp, req)
	return true
}

// account updates statistics, metrics and the access log. It runs before
// the scope reset, while the request strings are still valid.
func (c *conn) account(req *http1.Request, written int64, start time.Time) {
	s := c.srv
	status := c.resp.Status()

	s.stats.TotalRequests.Add(1)
	s.stats.BytesWritten.Add(uint64(written))
	s.metrics.bytesWritten.Add(float64(written))
	s.metrics.requests.WithLabelValues(req.Method.String(), strconv.Itoa(status)).Inc()
	c.reportRead()

	as := c.scope.Arena().Stats()
	s.metrics.arenaBytes.Observe(float64(as.Used))
	s.metrics.arenaChunks.Add(float64(as.Chunks - c.chunks))
	c.chunks = as.Chunks

	s.log.LogAttrs(context.Background(), slog.LevelInfo, "request",
		slog.String("remote", c.remote),
		slog.String("method", req.Method.String()),
		slog.String("path", req.Path.Raw),
		slog.String("proto", req.Version.String()),
		slog.Int("status", status),
		slog.Int64("bytes", written),
		slog.Duration("duration", time.Since(start)),
	)
}

// decodeFailed ends the connection after a decode error. Transport errors
// close silently; protocol errors get a best-effort error response first.
func (c *conn) decodeFailed(err error) {
	s := c.srv
	kind := http1.KindOf(err)
	if kind == 0 || kind.IsTransport() {
		if kind == http1.ErrTransportTimeout || kind == http1.ErrTransport {
			s.log.Debug("connection dropped", "remote", c.remote, "reason", kindLabel(kind), "error", err)
		}
		return
	}

	label := kindLabel(kind)
	s.stats.RequestErrors.Add(1)
	s.metrics.decodeErrors.WithLabelValues(label).Inc()
	s.log.Info("bad request", "remote", c.remote, "kind", label)

	writeError(c.resp, kind.StatusCode(), label)
	n, err := c.resp.Send(c.t, http1.Version11, false, s.cfg.WriteTimeout)
	s.stats.BytesWritten.Add(uint64(n))
	s.metrics.bytesWritten.Add(float64(n))
	if err != nil {
		s.log.Debug("error response not delivered", "remote", c.remote, "error", err)
		return
	}
	c.linger()
}

// linger half-closes the connection and discards what the peer still
// sends, for a bounded time.
func (c *conn) linger() {
	cw, ok := c.nc.(interface{ CloseWrite() error })
	if !ok || cw.CloseWrite() != nil {
		return
	}
	c.nc.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.CopyN(io.Discard, c.nc, lingerBytes)
}

// idleTransport clears the connection's idle flag once request bytes
// arrive.
type idleTransport struct {
	*http1.ConnTransport
	idle *atomic.Bool
}

func (t idleTransport) Read(p []byte) (int, error) {
	n, err := t.ConnTransport.Read(p)
	if n > 0 {
		t.idle.Store(false)
	}
	return n, err
}
