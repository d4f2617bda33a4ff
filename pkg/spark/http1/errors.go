package http1

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the stream and the decoder report.
// The zero value is not a valid kind.
type ErrorKind uint8

const (
	// Transport failures. The connection loop closes the connection without
	// answering.
	ErrTransportClosed ErrorKind = iota + 1
	ErrTransportTimeout
	ErrTransport

	// Protocol failures. The connection loop may answer with StatusCode and
	// then closes the connection.
	ErrBadRequest
	ErrUnknownMethod
	ErrUnknownVersion
	ErrURITooLarge
	ErrEntityTooLarge
	ErrInvalidCharacter
	ErrInvalidMethodChar
	ErrInvalidPathChar
	ErrInvalidHeaderKeyChar
	ErrInvalidHeaderValueChar
	ErrContentLengthInvalid
)

func (k ErrorKind) Error() string {
	switch k {
	case ErrTransportClosed:
		return "http1: transport closed"
	case ErrTransportTimeout:
		return "http1: transport timeout"
	case ErrTransport:
		return "http1: transport error"
	case ErrBadRequest:
		return "http1: bad request"
	case ErrUnknownMethod:
		return "http1: unknown method"
	case ErrUnknownVersion:
		return "http1: unknown version"
	case ErrURITooLarge:
		return "http1: uri too large"
	case ErrEntityTooLarge:
		return "http1: entity too large"
	case ErrInvalidCharacter:
		return "http1: invalid character"
	case ErrInvalidMethodChar:
		return "http1: invalid character in method"
	case ErrInvalidPathChar:
		return "http1: invalid character in path"
	case ErrInvalidHeaderKeyChar:
		return "http1: invalid character in header key"
	case ErrInvalidHeaderValueChar:
		return "http1: invalid character in header value"
	case ErrContentLengthInvalid:
		return "http1: invalid content-length"
	default:
		return fmt.Sprintf("http1: error kind %d", uint8(k))
	}
}

// Is lets the per-field invalid character kinds match ErrInvalidCharacter
// and ErrContentLengthInvalid match ErrBadRequest.
func (k ErrorKind) Is(target error) bool {
	t, ok := target.(ErrorKind)
	if !ok {
		return false
	}
	switch t {
	case ErrInvalidCharacter:
		return k.invalidCharacter()
	case ErrBadRequest:
		return k == ErrContentLengthInvalid
	}
	return false
}

func (k ErrorKind) invalidCharacter() bool {
	switch k {
	case ErrInvalidCharacter, ErrInvalidMethodChar, ErrInvalidPathChar,
		ErrInvalidHeaderKeyChar, ErrInvalidHeaderValueChar:
		return true
	}
	return false
}

// IsTransport reports whether k ends the connection without a response.
func (k ErrorKind) IsTransport() bool {
	return k == ErrTransportClosed || k == ErrTransportTimeout || k == ErrTransport
}

// StatusCode returns the status to answer a protocol error with, or 0 for
// transport errors.
func (k ErrorKind) StatusCode() int {
	switch {
	case k.IsTransport():
		return 0
	case k == ErrUnknownMethod:
		return StatusNotImplemented
	case k == ErrUnknownVersion:
		return StatusHTTPVersionNotSupported
	case k == ErrURITooLarge:
		return StatusURITooLong
	case k == ErrEntityTooLarge:
		return StatusRequestEntityTooLarge
	default:
		return StatusBadRequest
	}
}

// TransportError carries the underlying cause of a transport failure.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches the kind of the failure.
func (e *TransportError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindOf extracts the ErrorKind of err. It returns 0 for errors that did not
// originate in this package.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return 0
}
