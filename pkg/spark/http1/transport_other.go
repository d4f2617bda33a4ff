//go:build !unix

package http1

import "syscall"

// waitReadable is a no-op; the read deadline set by Wait bounds the next Read.
func waitReadable(syscall.RawConn) error {
	return nil
}
