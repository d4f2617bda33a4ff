package http1

// Status codes used by the server and its handlers.
const (
	StatusOK                      = 200
	StatusCreated                 = 201
	StatusAccepted                = 202
	StatusNoContent               = 204
	StatusMovedPermanently        = 301
	StatusFound                   = 302
	StatusNotModified             = 304
	StatusBadRequest              = 400
	StatusUnauthorized            = 401
	StatusForbidden               = 403
	StatusNotFound                = 404
	StatusMethodNotAllowed        = 405
	StatusRequestTimeout          = 408
	StatusConflict                = 409
	StatusLengthRequired          = 411
	StatusRequestEntityTooLarge   = 413
	StatusURITooLong              = 414
	StatusUnsupportedMediaType    = 415
	StatusTooManyRequests         = 429
	StatusInternalServerError     = 500
	StatusNotImplemented          = 501
	StatusBadGateway              = 502
	StatusServiceUnavailable      = 503
	StatusHTTPVersionNotSupported = 505
)

var statusText = map[int]string{
	StatusOK:                      "OK",
	StatusCreated:                 "Created",
	StatusAccepted:                "Accepted",
	StatusNoContent:               "No Content",
	StatusMovedPermanently:        "Moved Permanently",
	StatusFound:                   "Found",
	StatusNotModified:             "Not Modified",
	StatusBadRequest:              "Bad Request",
	StatusUnauthorized:            "Unauthorized",
	StatusForbidden:               "Forbidden",
	StatusNotFound:                "Not Found",
	StatusMethodNotAllowed:        "Method Not Allowed",
	StatusRequestTimeout:          "Request Timeout",
	StatusConflict:                "Conflict",
	StatusLengthRequired:          "Length Required",
	StatusRequestEntityTooLarge:   "Request Entity Too Large",
	StatusURITooLong:              "URI Too Long",
	StatusUnsupportedMediaType:    "Unsupported Media Type",
	StatusTooManyRequests:         "Too Many Requests",
	StatusInternalServerError:     "Internal Server Error",
	StatusNotImplemented:          "Not Implemented",
	StatusBadGateway:              "Bad Gateway",
	StatusServiceUnavailable:      "Service Unavailable",
	StatusHTTPVersionNotSupported: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for code, or "" if it is unknown.
func StatusText(code int) string {
	return statusText[code]
}
