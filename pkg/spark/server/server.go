// Package server accepts HTTP/1.x connections and runs each on its own
// goroutine. A connection owns a memory.Scope for its whole lifetime: the
// scope is reset after every response and closed with the connection, and
// its heap is capped so one connection running out of memory is closed
// without disturbing the others.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
	"github.com/watt-toolkit/spark/pkg/spark/router"
	"github.com/watt-toolkit/spark/pkg/spark/socket"
)

// shutdownPollInterval is how often Shutdown looks for idle connections.
const shutdownPollInterval = 20 * time.Millisecond

// Stats represents server statistics.
type Stats struct {
	TotalConnections  atomic.Uint64
	ActiveConnections atomic.Int64
	TotalRequests     atomic.Uint64
	BytesRead         atomic.Uint64
	BytesWritten      atomic.Uint64

	// ConnectionErrors counts failed accepts.
	ConnectionErrors atomic.Uint64

	// RequestErrors counts requests the decoder rejected.
	RequestErrors atomic.Uint64

	// OutOfMemory counts connections closed for exceeding
	// MaxConnectionMemory.
	OutOfMemory atomic.Uint64

	StartTime time.Time
}

// Duration returns the time since the server started.
func (s *Stats) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// RequestsPerSecond returns the average request rate since start.
func (s *Stats) RequestsPerSecond() float64 {
	d := s.Duration().Seconds()
	if d == 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / d
}

// Server serves HTTP/1.x requests through a router.
type Server struct {
	cfg     Config
	router  *router.Router
	log     *slog.Logger
	metrics *metrics
	stats   Stats

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*conn]struct{}

	shutdown atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup

	// connSem limits concurrent connections when set.
	connSem chan struct{}
}

// New creates a server. The router must be fully populated; it is frozen
// when the server starts serving.
func New(cfg Config, rt *router.Router) *Server {
	if rt == nil {
		panic("server: nil router")
	}
	cfg.setDefaults()
	s := &Server{
		cfg:       cfg,
		router:    rt,
		log:       cfg.Logger,
		metrics:   newMetrics(cfg.Registerer),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*conn]struct{}),
		done:      make(chan struct{}),
	}
	s.stats.StartTime = time.Now()
	if cfg.MaxConcurrentConnections > 0 {
		s.connSem = make(chan struct{}, cfg.MaxConcurrentConnections)
	}
	if ph, ok := cfg.Heap.(*memory.PoolHeap); ok && cfg.Registerer != nil {
		cfg.Registerer.MustRegister(newHeapCollector(ph))
	}
	return s
}

// Stats returns the live server statistics.
func (s *Server) Stats() *Stats {
	return &s.stats
}

// Config returns the configuration in effect, defaults applied.
func (s *Server) Config() Config {
	return s.cfg
}

// ListenAndServe listens on the configured address and serves requests.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	if err := socket.ApplyListener(ln, s.cfg.Socket); err != nil {
		s.log.Debug("listener tuning incomplete", "addr", s.cfg.Addr, "error", err)
	}
	return s.Serve(ln)
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

// Serve accepts connections on l until Shutdown or Close, and always
// returns a non-nil error. Nothing on this path allocates from a
// connection heap, so an out-of-memory panic here is not recovered.
func (s *Server) Serve(l net.Listener) error {
	defer l.Close()
	if !s.trackListener(l, true) {
		return ErrServerClosed
	}
	defer s.trackListener(l, false)
	s.router.Freeze()

	s.log.Info("serving", "addr", l.Addr().String())

	var backoff time.Duration
	for {
		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-s.done:
				return ErrServerClosed
			}
		}

		nc, err := l.Accept()
		if err != nil {
			if s.connSem != nil {
				<-s.connSem
			}
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.stats.ConnectionErrors.Add(1)
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-s.done:
				return ErrServerClosed
			}
		}
		backoff = 0
		if !s.admit(nc) {
			if s.connSem != nil {
				<-s.connSem
			}
			return ErrServerClosed
		}
		go s.handleConnection(nc)
	}
}

// admit registers an accepted connection with the wait group, or closes it
// when shutdown has begun. The check and the Add share s.mu with
// beginShutdown, so no Add can follow the Wait in Shutdown or Close.
func (s *Server) admit(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		nc.Close()
		return false
	}
	s.wg.Add(1)
	s.stats.TotalConnections.Add(1)
	s.metrics.connections.Inc()
	return true
}

func (s *Server) trackConnection(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.stats.ActiveConnections.Add(1)
	s.metrics.active.Inc()
}

func (s *Server) untrackConnection(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.stats.ActiveConnections.Add(-1)
	s.metrics.active.Dec()
}

// closeConnections closes tracked connections, or only idle ones.
func (s *Server) closeConnections(idleOnly bool) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if !idleOnly || c.idle.Load() {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.nc.Close()
	}
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.listeners {
		l.Close()
	}
}

func (s *Server) beginShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shutdown.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	return true
}

// ShuttingDown reports whether Shutdown or Close has been called.
func (s *Server) ShuttingDown() bool {
	return s.shutdown.Load()
}

// Shutdown stops accepting connections, closes idle keep-alive connections
// and waits for the others to finish their current request. When ctx
// expires first the remaining connections are closed and ctx.Err() is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.beginShutdown() {
		return nil
	}
	s.closeListeners()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		s.closeConnections(true)
		select {
		case <-finished:
			return nil
		case <-ctx.Done():
			s.closeConnections(false)
			<-finished
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close immediately closes the listeners and every connection.
func (s *Server) Close() error {
	if !s.beginShutdown() {
		return nil
	}
	s.closeListeners()
	s.closeConnections(false)
	s.wg.Wait()
	return nil
}
