package router

import (
	"sync/atomic"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
)

// MethodAny registers a route for every request method.
const MethodAny http1.Method = 0xff

// Handler answers one request. Strings and slices reachable from the
// request and the response live in connection memory that is reset after
// the response is sent; handlers must copy anything they keep.
type Handler interface {
	Serve(w *http1.Response, r *http1.Request, p Params)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w *http1.Response, r *http1.Request, p Params)

func (f HandlerFunc) Serve(w *http1.Response, r *http1.Request, p Params) {
	f(w, r, p)
}

type route struct {
	method  http1.Method
	pattern Pattern
	handler Handler
}

// Router is an ordered list of routes. It is populated before the server
// starts and only read afterwards, so lookups take no locks.
type Router struct {
	routes   []route
	notFound Handler
	frozen   atomic.Bool
}

// New creates an empty router whose fallback answers 404 with no body.
func New() *Router {
	return &Router{notFound: HandlerFunc(notFound)}
}

func notFound(w *http1.Response, _ *http1.Request, _ Params) {
	w.SetStatus(http1.StatusNotFound)
}

// HTMLNotFound answers 404 with a small HTML page.
func HTMLNotFound(w *http1.Response, _ *http1.Request, _ Params) {
	w.SetStatus(http1.StatusNotFound)
	w.SetHeader("Content-Type", "text/html")
	w.WriteString("<!DOCTYPE html><html><body><h1>404 Not Found</h1></body></html>")
}

func (rt *Router) mustBeOpen() {
	if rt.frozen.Load() {
		panic("router: routes registered after the server started")
	}
}

// Handle registers handler for method and pattern. It panics on a malformed
// pattern or when the router is frozen.
func (rt *Router) Handle(method http1.Method, pattern string, handler Handler) {
	rt.mustBeOpen()
	if handler == nil {
		panic("router: nil handler for " + pattern)
	}
	rt.routes = append(rt.routes, route{
		method:  method,
		pattern: ParsePattern(pattern),
		handler: handler,
	})
}

// HandleFunc registers a handler function.
func (rt *Router) HandleFunc(method http1.Method, pattern string, fn func(*http1.Response, *http1.Request, Params)) {
	rt.Handle(method, pattern, HandlerFunc(fn))
}

// NotFound replaces the fallback handler.
func (rt *Router) NotFound(handler Handler) {
	rt.mustBeOpen()
	rt.notFound = handler
}

// Freeze rejects further registration. The server calls it before
// accepting connections.
func (rt *Router) Freeze() { rt.frozen.Store(true) }

// Len returns the number of registered routes.
func (rt *Router) Len() int { return len(rt.routes) }

// Route returns the handler of the first route matching req, or the
// fallback handler. The boolean reports whether a route matched.
func (rt *Router) Route(req *http1.Request) (Handler, Params, bool) {
	for i := range rt.routes {
		r := &rt.routes[i]
		if r.method != MethodAny && r.method != req.Method {
			continue
		}
		if r.pattern.match(req.Path.Segments) {
			return r.handler, Params{pattern: &r.pattern, path: req.Path}, true
		}
	}
	return rt.notFound, Params{}, false
}

// Serve routes req and runs the selected handler.
func (rt *Router) Serve(w *http1.Response, req *http1.Request) {
	h, p, _ := rt.Route(req)
	h.Serve(w, req, p)
}
