package server

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/valyala/bytebufferpool"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown or
// Close.
var ErrServerClosed = errors.New("server: closed")

var errorBuffers bytebufferpool.Pool

// errorBody is the JSON payload of every response the server generates on
// its own.
type errorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
}

// kindLabel names an error kind without the package prefix, for logs,
// metric labels and error bodies.
func kindLabel(k http1.ErrorKind) string {
	return strings.ReplaceAll(strings.TrimPrefix(k.Error(), "http1: "), " ", "_")
}

// writeError replaces whatever w holds with a JSON error response.
func writeError(w *http1.Response, status int, kind string) {
	w.Reset()
	w.SetStatus(status)
	w.SetHeader("Content-Type", "application/json")

	buf := errorBuffers.Get()
	defer errorBuffers.Put(buf)
	err := json.NewEncoder(buf).Encode(errorBody{
		Status: status,
		Error:  http1.StatusText(status),
		Kind:   kind,
	})
	if err != nil {
		return
	}
	w.Write(buf.B)
}
