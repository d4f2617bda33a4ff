package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
	"github.com/watt-toolkit/spark/pkg/spark/router"
)

func testRouter() *router.Router {
	rt := router.New()
	rt.HandleFunc(http1.MethodGET, "/", func(w *http1.Response, _ *http1.Request, _ router.Params) {
		w.WriteString("home")
	})
	rt.HandleFunc(http1.MethodGET, "/users/<int>", func(w *http1.Response, _ *http1.Request, p router.Params) {
		w.SetHeader("Content-Type", "text/plain")
		w.WriteString("user " + p.Get(0))
	})
	rt.HandleFunc(http1.MethodPOST, "/echo", func(w *http1.Response, r *http1.Request, _ router.Params) {
		w.Write(r.Content)
	})
	rt.HandleFunc(http1.MethodGET, "/panic", func(*http1.Response, *http1.Request, router.Params) {
		panic("boom")
	})
	return rt
}

func startServer(t *testing.T, cfg Config, rt *router.Router) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if rt == nil {
		rt = testRouter()
	}
	srv := New(cfg, rt)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close()
		if err := <-errc; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve returned %v, want %v", err, ErrServerClosed)
		}
	})
	return srv, ln.Addr().String()
}

type client struct {
	t  *testing.T
	nc net.Conn
	br *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	nc.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { nc.Close() })
	return &client{t: t, nc: nc, br: bufio.NewReader(nc)}
}

func (c *client) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.nc, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() (*http.Response, string) {
	c.t.Helper()
	resp, err := http.ReadResponse(c.br, nil)
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func (c *client) expectClosed() {
	c.t.Helper()
	if _, err := c.br.ReadByte(); err == nil {
		c.t.Errorf("connection still open")
	}
}

func TestServeKeepAlive(t *testing.T) {
	srv, addr := startServer(t, Config{}, nil)
	c := dial(t, addr)

	c.send("GET /users/42 HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, body := c.read()
	if resp.StatusCode != 200 || body != "user 42" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "text/plain" || resp.Close {
		t.Errorf("headers = %v, close = %v", resp.Header, resp.Close)
	}

	c.send("POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nHELLO")
	if resp, body := c.read(); resp.StatusCode != 200 || body != "HELLO" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}

	srv.Close()
	if n := srv.Stats().TotalRequests.Load(); n != 2 {
		t.Errorf("TotalRequests = %d, want 2", n)
	}
	if n := srv.Stats().TotalConnections.Load(); n != 1 {
		t.Errorf("TotalConnections = %d, want 1", n)
	}
	if n := srv.Stats().ActiveConnections.Load(); n != 0 {
		t.Errorf("ActiveConnections = %d after Close", n)
	}
}

func TestServePipelined(t *testing.T) {
	_, addr := startServer(t, Config{}, nil)
	c := dial(t, addr)
	c.send("GET /users/1 HTTP/1.1\r\n\r\nGET /users/2 HTTP/1.1\r\n\r\nGET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	for _, want := range []string{"user 1", "user 2", "home"} {
		if _, body := c.read(); body != want {
			t.Errorf("body = %q, want %q", body, want)
		}
	}
	c.expectClosed()
}

func TestServeHTTP10(t *testing.T) {
	_, addr := startServer(t, Config{}, nil)

	c := dial(t, addr)
	c.send("GET / HTTP/1.0\r\n\r\n")
	resp, _ := c.read()
	if resp.ProtoMinor != 0 || !resp.Close {
		t.Errorf("proto = %s, close = %v", resp.Proto, resp.Close)
	}
	c.expectClosed()

	c = dial(t, addr)
	c.send("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	resp, _ = c.read()
	if resp.Header.Get("Connection") != "keep-alive" {
		t.Errorf("Connection = %q", resp.Header.Get("Connection"))
	}
	c.send("GET /users/3 HTTP/1.0\r\n\r\n")
	if _, body := c.read(); body != "user 3" {
		t.Errorf("second body = %q", body)
	}
	c.expectClosed()
}

func TestServeDisableKeepalive(t *testing.T) {
	_, addr := startServer(t, Config{DisableKeepalive: true}, nil)
	c := dial(t, addr)
	c.send("GET / HTTP/1.1\r\n\r\n")
	if resp, _ := c.read(); !resp.Close {
		t.Errorf("response did not announce close")
	}
	c.expectClosed()
}

func TestServeNotFound(t *testing.T) {
	_, addr := startServer(t, Config{}, nil)
	c := dial(t, addr)
	c.send("GET /nowhere HTTP/1.1\r\n\r\n")
	if resp, _ := c.read(); resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	// Method mismatch falls through to the fallback as well.
	c.send("DELETE /echo HTTP/1.1\r\n\r\n")
	if resp, _ := c.read(); resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServeDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status int
		kind   string
	}{
		{"unknown method", "FOO / HTTP/1.1\r\n\r\n", 501, "unknown_method"},
		{"unknown version", "GET / HTTP/9.9\r\n\r\n", 505, "unknown_version"},
		{"uri too large", "GET /" + strings.Repeat("a", 2000) + " HTTP/1.1\r\n\r\n", 414, "uri_too_large"},
		{"no separator", "GET / HTTP/1.1\r\nHost\r\n\r\n", 400, "bad_request"},
		{"bad content length", "POST /echo HTTP/1.1\r\nContent-Length: x\r\n\r\n", 400, "invalid_content-length"},
		{"invalid path char", "GET /a\x01 HTTP/1.1\r\n\r\n", 400, "invalid_character_in_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			srv, addr := startServer(t, Config{Registerer: reg}, nil)
			c := dial(t, addr)
			c.send(tt.raw)
			resp, body := c.read()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if !resp.Close || resp.Header.Get("Content-Type") != "application/json" {
				t.Errorf("close = %v, content type = %q", resp.Close, resp.Header.Get("Content-Type"))
			}
			var eb errorBody
			if err := json.Unmarshal([]byte(body), &eb); err != nil {
				t.Fatalf("body %q: %v", body, err)
			}
			if eb.Status != tt.status || eb.Kind != tt.kind || eb.Error != http1.StatusText(tt.status) {
				t.Errorf("error body = %+v", eb)
			}
			c.expectClosed()

			srv.Close()
			if got := testutil.ToFloat64(srv.metrics.decodeErrors.WithLabelValues(tt.kind)); got != 1 {
				t.Errorf("decode error metric = %v, want 1", got)
			}
			if srv.Stats().RequestErrors.Load() != 1 {
				t.Errorf("RequestErrors = %d", srv.Stats().RequestErrors.Load())
			}
		})
	}
}

func TestServeTruncatedRequestClosesQuietly(t *testing.T) {
	srv, addr := startServer(t, Config{}, nil)
	c := dial(t, addr)
	c.send("GET / HTTP/1.1\r\nHost: x\r\n")
	c.nc.(*net.TCPConn).CloseWrite()
	c.expectClosed()
	srv.Close()
	if srv.Stats().RequestErrors.Load() != 0 {
		t.Errorf("transport close counted as a request error")
	}
}

func TestServePollTimeout(t *testing.T) {
	_, addr := startServer(t, Config{PollTimeout: 50 * time.Millisecond}, nil)
	c := dial(t, addr)
	start := time.Now()
	c.expectClosed()
	if time.Since(start) > 3*time.Second {
		t.Errorf("idle connection was not closed by the poll timeout")
	}
}

func TestServeHandlerPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, addr := startServer(t, Config{Registerer: reg}, nil)
	c := dial(t, addr)
	c.send("GET /panic HTTP/1.1\r\n\r\n")
	resp, _ := c.read()
	if resp.StatusCode != 500 || !resp.Close {
		t.Errorf("status = %d, close = %v", resp.StatusCode, resp.Close)
	}
	c.expectClosed()

	// The server keeps serving.
	c = dial(t, addr)
	c.send("GET / HTTP/1.1\r\n\r\n")
	if resp, _ := c.read(); resp.StatusCode != 200 {
		t.Errorf("status after panic = %d", resp.StatusCode)
	}
	srv.Close()
	if got := testutil.ToFloat64(srv.metrics.handlerPanics); got != 1 {
		t.Errorf("handler panics = %v", got)
	}
}

func TestServeOutOfMemoryIsolation(t *testing.T) {
	cfg := Config{MaxConnectionMemory: 64 << 10, Registerer: prometheus.NewRegistry()}
	srv, addr := startServer(t, cfg, nil)

	healthy := dial(t, addr)
	healthy.send("GET /users/1 HTTP/1.1\r\n\r\n")
	if _, body := healthy.read(); body != "user 1" {
		t.Fatalf("body = %q", body)
	}

	greedy := dial(t, addr)
	const size = 256 << 10
	go func() {
		fmt.Fprintf(greedy.nc, "POST /echo HTTP/1.1\r\nContent-Length: %d\r\n\r\n", size)
		greedy.nc.Write(bytes.Repeat([]byte("x"), size))
	}()
	if _, err := http.ReadResponse(greedy.br, nil); err == nil {
		t.Errorf("over-budget connection got a response")
	}

	// The other connection is unaffected.
	healthy.send("GET /users/2 HTTP/1.1\r\n\r\n")
	if _, body := healthy.read(); body != "user 2" {
		t.Errorf("body = %q", body)
	}

	srv.Close()
	if n := srv.Stats().OutOfMemory.Load(); n != 1 {
		t.Errorf("OutOfMemory = %d, want 1", n)
	}
	if got := testutil.ToFloat64(srv.metrics.outOfMemory); got != 1 {
		t.Errorf("out of memory metric = %v", got)
	}
}

func TestServeConcurrentConnections(t *testing.T) {
	const (
		clients  = 32
		requests = 8
	)
	srv, addr := startServer(t, Config{}, nil)

	var g errgroup.Group
	for i := 0; i < clients; i++ {
		g.Go(func() error {
			nc, err := net.Dial("tcp", addr)
			if err != nil {
				return err
			}
			defer nc.Close()
			nc.SetDeadline(time.Now().Add(10 * time.Second))
			br := bufio.NewReader(nc)
			for j := 0; j < requests; j++ {
				id := i*requests + j
				if _, err := fmt.Fprintf(nc, "GET /users/%d HTTP/1.1\r\nX-Client: %d\r\n\r\n", id, i); err != nil {
					return err
				}
				resp, err := http.ReadResponse(br, nil)
				if err != nil {
					return err
				}
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				if err != nil {
					return err
				}
				if want := fmt.Sprintf("user %d", id); string(body) != want {
					return fmt.Errorf("client %d got %q, want %q", i, body, want)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	srv.Close()
	if n := srv.Stats().TotalRequests.Load(); n != clients*requests {
		t.Errorf("TotalRequests = %d, want %d", n, clients*requests)
	}
}

func TestServeMaxConcurrentConnections(t *testing.T) {
	_, addr := startServer(t, Config{MaxConcurrentConnections: 1}, nil)

	first := dial(t, addr)
	first.send("GET / HTTP/1.1\r\n\r\n")
	first.read()

	second := dial(t, addr)
	second.send("GET /users/5 HTTP/1.1\r\n\r\n")
	got := make(chan string, 1)
	go func() {
		resp, err := http.ReadResponse(second.br, nil)
		if err != nil {
			got <- err.Error()
			return
		}
		b, _ := io.ReadAll(resp.Body)
		got <- string(b)
	}()

	select {
	case body := <-got:
		t.Fatalf("second connection served while the first is open: %q", body)
	case <-time.After(100 * time.Millisecond):
	}
	first.nc.Close()
	select {
	case body := <-got:
		if body != "user 5" {
			t.Errorf("body = %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second connection never served")
	}
}

func TestServeMetricsAndAccessLog(t *testing.T) {
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	cfg := Config{
		Registerer: reg,
		Logger:     slog.New(slog.NewJSONHandler(&logs, nil)),
	}
	srv, addr := startServer(t, cfg, nil)

	c := dial(t, addr)
	for i := 0; i < 3; i++ {
		c.send("GET /users/7?verbose=1 HTTP/1.1\r\n\r\n")
		c.read()
	}
	c.send("GET /missing HTTP/1.1\r\n\r\n")
	c.read()
	srv.Close()

	if got := testutil.ToFloat64(srv.metrics.requests.WithLabelValues("GET", "200")); got != 3 {
		t.Errorf("GET 200 = %v, want 3", got)
	}
	if got := testutil.ToFloat64(srv.metrics.requests.WithLabelValues("GET", "404")); got != 1 {
		t.Errorf("GET 404 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(srv.metrics.connections); got != 1 {
		t.Errorf("connections = %v", got)
	}
	if got := testutil.ToFloat64(srv.metrics.active); got != 0 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(srv.metrics.arenaChunks); got != 0 {
		t.Errorf("arena chunks after close = %v", got)
	}
	if got := testutil.ToFloat64(srv.metrics.bytesRead); got == 0 {
		t.Errorf("bytes read not counted")
	}
	if n, err := testutil.GatherAndCount(reg, "spark_memory_arena_request_bytes"); err != nil || n != 1 {
		t.Errorf("arena histogram series = %d, %v", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "spark_heap_gets_total"); err != nil || n == 0 {
		t.Errorf("heap collector series = %d, %v", n, err)
	}

	type accessLine struct {
		Msg    string `json:"msg"`
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
	}
	var lines []accessLine
	sc := bufio.NewScanner(&logs)
	for sc.Scan() {
		var l accessLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("log line %q: %v", sc.Text(), err)
		}
		if l.Msg == "request" {
			lines = append(lines, l)
		}
	}
	if len(lines) != 4 {
		t.Fatalf("access log lines = %d, want 4", len(lines))
	}
	if l := lines[0]; l.Method != "GET" || l.Path != "/users/7?verbose=1" || l.Status != 200 {
		t.Errorf("first line = %+v", l)
	}
	if lines[3].Status != 404 {
		t.Errorf("last status = %d", lines[3].Status)
	}
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	srv, addr := startServer(t, Config{}, nil)
	c := dial(t, addr)
	c.send("GET / HTTP/1.1\r\n\r\n")
	c.read()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Shutdown waited for the idle connection")
	}
	c.expectClosed()

	if err := srv.Serve(mustListen(t)); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve after Shutdown = %v", err)
	}
}

func TestShutdownDeadline(t *testing.T) {
	srv, addr := startServer(t, Config{}, nil)
	c := dial(t, addr)
	// A partial request keeps the connection busy.
	c.send("GET / HTTP/1.1\r\n")
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want %v", err, context.DeadlineExceeded)
	}
	c.expectClosed()
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func TestNewPanicsWithoutRouter(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("New(nil router) did not panic")
		}
	}()
	New(Config{}, nil)
}

func TestConfigDefaults(t *testing.T) {
	srv := New(Config{MaxConnectionMemory: -1}, router.New())
	cfg := srv.Config()
	def := DefaultConfig()
	if cfg.Addr != def.Addr || cfg.PollTimeout != def.PollTimeout || cfg.ReadBufferSize != def.ReadBufferSize {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.MaxConnectionMemory != 0 {
		t.Errorf("negative MaxConnectionMemory = %d, want 0", cfg.MaxConnectionMemory)
	}
	if cfg.Heap == nil || cfg.Logger == nil || cfg.Socket == nil {
		t.Errorf("nil collaborators after defaults")
	}
}

func TestKindLabel(t *testing.T) {
	tests := map[http1.ErrorKind]string{
		http1.ErrUnknownMethod:          "unknown_method",
		http1.ErrURITooLarge:            "uri_too_large",
		http1.ErrInvalidHeaderValueChar: "invalid_character_in_header_value",
		http1.ErrTransportTimeout:       "transport_timeout",
	}
	for k, want := range tests {
		if got := kindLabel(k); got != want {
			t.Errorf("kindLabel(%v) = %q, want %q", k, got, want)
		}
	}
}

func TestAdmitAfterShutdownBegins(t *testing.T) {
	srv := New(Config{}, router.New())

	before, _ := net.Pipe()
	if !srv.admit(before) {
		t.Fatal("admit refused before shutdown")
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- srv.Shutdown(ctx)
	}()
	for !srv.ShuttingDown() {
		time.Sleep(time.Millisecond)
	}

	late, peer := net.Pipe()
	if srv.admit(late) {
		t.Fatal("admit accepted a connection after shutdown began")
	}
	peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := peer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("refused connection not closed: %v", err)
	}
	if n := srv.Stats().TotalConnections.Load(); n != 1 {
		t.Errorf("TotalConnections = %d, want 1", n)
	}

	// The connection admitted earlier still holds Shutdown open.
	select {
	case err := <-done:
		t.Fatalf("Shutdown returned %v before the admitted connection finished", err)
	case <-time.After(50 * time.Millisecond):
	}
	srv.wg.Done()
	if err := <-done; err != nil {
		t.Errorf("Shutdown = %v", err)
	}
}

func TestShutdownWhileDialing(t *testing.T) {
	for round := 0; round < 20; round++ {
		srv := New(Config{}, testRouter())
		ln := mustListen(t)
		errc := make(chan error, 1)
		go func() { errc <- srv.Serve(ln) }()

		stop := make(chan struct{})
		var g errgroup.Group
		for i := 0; i < 4; i++ {
			g.Go(func() error {
				for {
					select {
					case <-stop:
						return nil
					default:
					}
					nc, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
					if err != nil {
						continue
					}
					io.WriteString(nc, "GET / HTTP/1.1\r\n\r\n")
					nc.Close()
				}
			})
		}

		time.Sleep(5 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := srv.Shutdown(ctx)
		cancel()
		if err != nil {
			t.Fatalf("round %d: Shutdown = %v", round, err)
		}
		if n := srv.Stats().ActiveConnections.Load(); n != 0 {
			t.Fatalf("round %d: %d connections still active after Shutdown", round, n)
		}
		close(stop)
		g.Wait()
		if err := <-errc; !errors.Is(err, ErrServerClosed) {
			t.Fatalf("round %d: Serve = %v", round, err)
		}
	}
}
