// Package socket applies TCP options to accepted connections and to the
// listening socket. Options a platform does not support are skipped.
package socket

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrUnsupported is returned by TCPInfo on platforms without TCP_INFO.
var ErrUnsupported = errors.New("socket: not supported on this platform")

// Config holds socket options. Zero values keep the system defaults.
type Config struct {
	// NoDelay disables Nagle's algorithm (TCP_NODELAY).
	NoDelay bool

	// RecvBuffer and SendBuffer set SO_RCVBUF and SO_SNDBUF in bytes.
	RecvBuffer int
	SendBuffer int

	// QuickAck disables delayed ACKs once after accept (Linux only).
	QuickAck bool

	// DeferAccept wakes the accept loop only when request data has arrived
	// (Linux only, listener option).
	DeferAccept bool

	// FastOpen enables TCP Fast Open on the listener.
	FastOpen bool

	// KeepAlive enables SO_KEEPALIVE. The probe timing fields apply where
	// the platform supports them.
	KeepAlive         bool
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int

	// UserTimeout bounds how long unacknowledged data may stay in flight
	// before the kernel drops the connection (Linux only).
	UserTimeout time.Duration
}

// DefaultConfig returns the options the server applies when none are given.
func DefaultConfig() *Config {
	return &Config{
		NoDelay:           true,
		RecvBuffer:        256 << 10,
		SendBuffer:        256 << 10,
		QuickAck:          true,
		DeferAccept:       true,
		FastOpen:          true,
		KeepAlive:         true,
		KeepAliveIdle:     60 * time.Second,
		KeepAliveInterval: 10 * time.Second,
		KeepAliveCount:    3,
		UserTimeout:       10 * time.Second,
	}
}

// LowLatencyConfig trades buffer space for latency.
func LowLatencyConfig() *Config {
	cfg := DefaultConfig()
	cfg.RecvBuffer = 128 << 10
	cfg.SendBuffer = 128 << 10
	cfg.DeferAccept = false
	return cfg
}

// HighThroughputConfig uses large buffers and keeps delayed ACKs.
func HighThroughputConfig() *Config {
	cfg := DefaultConfig()
	cfg.RecvBuffer = 1 << 20
	cfg.SendBuffer = 1 << 20
	cfg.QuickAck = false
	return cfg
}

// Apply sets the connection options of cfg on conn. Connections without a
// file descriptor are left alone. Only a TCP_NODELAY failure is reported;
// the other options are best effort.
func Apply(conn net.Conn, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = setOptions(fd, cfg)
	}); err != nil {
		return err
	}
	return serr
}

// ApplyListener sets the listener options of cfg on l.
func ApplyListener(l net.Listener, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sc, ok := l.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	return Control(cfg)("", "", raw)
}

// Control returns a net.ListenConfig Control function that sets the
// listener options of cfg before the socket starts listening.
func Control(cfg *Config) func(network, address string, c syscall.RawConn) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = setListenerOptions(fd, cfg)
		}); err != nil {
			return err
		}
		return serr
	}
}

// Info is a subset of the kernel's TCP_INFO for a connection.
type Info struct {
	State        uint8
	Retransmits  uint8
	RTT          time.Duration
	RTTVar       time.Duration
	SendCwnd     uint32
	Unacked      uint32
	Lost         uint32
	TotalRetrans uint32
}

// TCPInfo reads TCP_INFO from conn.
func TCPInfo(conn net.Conn) (*Info, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, ErrUnsupported
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		info *Info
		ierr error
	)
	if err := raw.Control(func(fd uintptr) {
		info, ierr = tcpInfo(fd)
	}); err != nil {
		return nil, err
	}
	return info, ierr
}
