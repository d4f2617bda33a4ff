//go:build linux

package socket

import (
	"time"

	"golang.org/x/sys/unix"
)

// fastOpenQueue is the pending Fast Open connection queue of the listener.
const fastOpenQueue = 256

// deferAcceptSeconds bounds how long an idle accepted socket stays hidden.
const deferAcceptSeconds = 5

func platformOptions(fd int, cfg *Config) {
	// TCP_QUICKACK is not sticky; the kernel clears it after the next ACK.
	if cfg.QuickAck {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}
	if cfg.UserTimeout > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(cfg.UserTimeout/time.Millisecond))
	}
	if cfg.KeepAlive {
		if cfg.KeepAliveIdle > 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, seconds(cfg.KeepAliveIdle))
		}
		if cfg.KeepAliveInterval > 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, seconds(cfg.KeepAliveInterval))
		}
		if cfg.KeepAliveCount > 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cfg.KeepAliveCount)
		}
	}
}

func seconds(d time.Duration) int {
	return max(int(d/time.Second), 1)
}

// setListenerOptions reports the last failure but tries every option;
// Fast Open in particular may be disabled by sysctl.
func setListenerOptions(fd uintptr, cfg *Config) error {
	var lastErr error
	if cfg.DeferAccept {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, deferAcceptSeconds); err != nil {
			lastErr = err
		}
	}
	if cfg.FastOpen {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, fastOpenQueue); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func tcpInfo(fd uintptr) (*Info, error) {
	ti, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, err
	}
	return &Info{
		State:        ti.State,
		Retransmits:  ti.Retransmits,
		RTT:          time.Duration(ti.Rtt) * time.Microsecond,
		RTTVar:       time.Duration(ti.Rttvar) * time.Microsecond,
		SendCwnd:     ti.Snd_cwnd,
		Unacked:      ti.Unacked,
		Lost:         ti.Lost,
		TotalRetrans: ti.Total_retrans,
	}, nil
}
