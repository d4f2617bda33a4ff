// Package http1 implements a strict HTTP/1.x request decoder over a buffered,
// blocking byte stream. Decoded strings live in the connection's memory.Scope
// and are valid until the next Scope.Reset.
package http1

import "time"

// Field limits enforced by the decoder.
const (
	// MaxMethodLength is the length of the longest supported verb.
	MaxMethodLength = 7

	// MaxPathLength bounds the request target, query included.
	MaxPathLength = 1024

	// VersionLength is the length of "HTTP/x.y".
	VersionLength = 8

	// MaxHeaderKeyLength and MaxHeaderValueLength bound a single header line.
	MaxHeaderKeyLength   = 8192
	MaxHeaderValueLength = 8192

	// DefaultMaxHeaders bounds the number of header lines in one request.
	DefaultMaxHeaders = 100

	// DefaultMaxContentLength bounds the declared Content-Length.
	DefaultMaxContentLength = 10 << 20
)

// Stream defaults.
const (
	// DefaultBufferSize is the initial stream buffer capacity.
	DefaultBufferSize = 1024

	// DefaultMinFill is the smallest read issued by Fill, so short reads
	// still pull a reasonable batch from the transport.
	DefaultMinFill = 1024

	// DefaultPollTimeout bounds every readiness wait.
	DefaultPollTimeout = 60 * time.Second

	// DefaultWriteTimeout bounds every response chunk write.
	DefaultWriteTimeout = 60 * time.Second

	// WriteChunkSize is the largest single write issued for a response.
	WriteChunkSize = 16 << 10
)

var (
	crlf       = []byte("\r\n")
	colonSpace = []byte(": ")
)

const (
	tokenClose     = "close"
	tokenKeepAlive = "keep-alive"
)

const (
	headerContentLength = "Content-Length"
	headerConnection    = "Connection"
	headerContentType   = "Content-Type"
)
