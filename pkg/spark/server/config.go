package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
	"github.com/watt-toolkit/spark/pkg/spark/memory"
	"github.com/watt-toolkit/spark/pkg/spark/socket"
)

// Config holds server configuration. Zero fields take the defaults of
// DefaultConfig unless noted otherwise.
type Config struct {
	// Addr is the TCP address ListenAndServe listens on.
	// Default: ":8080"
	Addr string

	// PollTimeout bounds every wait for request bytes, including the wait
	// for the next request on an idle keep-alive connection.
	// Default: 60 seconds
	PollTimeout time.Duration

	// WriteTimeout bounds each chunk of a response write.
	// Default: 60 seconds
	WriteTimeout time.Duration

	// ReadBufferSize is the initial stream buffer of a connection. It
	// doubles as needed.
	// Default: 1 KB
	ReadBufferSize int

	// MinFillSize is the smallest read the stream asks the transport for.
	// Default: 1 KB
	MinFillSize int

	// MaxContentLength is the largest request body accepted.
	// Default: 10 MB
	MaxContentLength int

	// MaxHeaders is the largest number of header lines accepted.
	// Default: 100
	MaxHeaders int

	// MaxConnectionMemory caps the bytes one connection may hold: stream
	// buffer, arena chunks and tracked blocks. A connection exceeding it is
	// closed without affecting the others. 0 means unlimited.
	// DefaultConfig: 16 MB
	MaxConnectionMemory int

	// MaxConcurrentConnections limits open connections. 0 means unlimited.
	MaxConcurrentConnections int

	// DisableKeepalive closes every connection after one response.
	DisableKeepalive bool

	// Heap backs every connection's memory. It must be safe for concurrent
	// use. Default: a fresh memory.PoolHeap.
	Heap memory.Heap

	// Logger receives the access log and connection diagnostics.
	// Default: a logger that discards everything.
	Logger *slog.Logger

	// Registerer receives the server metrics. nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Socket is applied to every accepted connection and to listeners opened
	// by ListenAndServe. nil means socket.DefaultConfig().
	Socket *socket.Config
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		PollTimeout:         http1.DefaultPollTimeout,
		WriteTimeout:        http1.DefaultWriteTimeout,
		ReadBufferSize:      http1.DefaultBufferSize,
		MinFillSize:         http1.DefaultMinFill,
		MaxContentLength:    http1.DefaultMaxContentLength,
		MaxHeaders:          http1.DefaultMaxHeaders,
		MaxConnectionMemory: 16 << 20,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.MinFillSize <= 0 {
		c.MinFillSize = def.MinFillSize
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = def.MaxContentLength
	}
	if c.MaxHeaders <= 0 {
		c.MaxHeaders = def.MaxHeaders
	}
	if c.MaxConnectionMemory < 0 {
		c.MaxConnectionMemory = 0
	}
	if c.Heap == nil {
		c.Heap = memory.NewPoolHeap()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Socket == nil {
		c.Socket = socket.DefaultConfig()
	}
}
