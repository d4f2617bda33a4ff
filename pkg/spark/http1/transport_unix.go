//go:build unix

package http1

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// waitReadable parks on the runtime poller until the socket is readable,
// hung up, or the read deadline set by Wait expires. poll(2) with a zero
// timeout confirms readiness so spurious wakeups go back to sleep.
func waitReadable(raw syscall.RawConn) error {
	var perr error
	err := raw.Read(func(fd uintptr) bool {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, err := unix.Poll(fds, 0)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				perr = err
				return true
			}
			return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
		}
	})
	if err != nil {
		return err
	}
	return perr
}
