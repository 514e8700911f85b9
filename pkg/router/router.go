package router

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Router dispatches by method and path. Path segments written as {name}
// capture the segment into ctx.UserValue(name).
type Router struct {
	routes   map[string][]route
	notFound fasthttp.RequestHandler
}

type route struct {
	pattern  string
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.Handle(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.Handle(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.Handle(fasthttp.MethodPut, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.Handle(fasthttp.MethodDelete, path, h) }

// Handle registers h for method and path. Routes are matched in
// registration order, so register literal paths before parameterised ones
// that would shadow them.
func (r *Router) Handle(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{pattern: path, segments: split(path), handler: h})
}

// NotFound sets the handler for unmatched paths.
func (r *Router) NotFound(h fasthttp.RequestHandler) { r.notFound = h }

// Handler is the fasthttp entry point.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	parts := splitPath(string(ctx.Path()))
	for _, rt := range r.routes[string(ctx.Method())] {
		if params, ok := rt.match(parts); ok {
			for k, v := range params {
				ctx.SetUserValue(k, v)
			}
			rt.handler(ctx)
			return
		}
	}
	if r.methodMismatch(string(ctx.Method()), parts) {
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
}

// methodMismatch reports whether the path exists under another method.
func (r *Router) methodMismatch(method string, parts []string) bool {
	for m, list := range r.routes {
		if m == method {
			continue
		}
		for _, rt := range list {
			if _, ok := rt.match(parts); ok {
				return true
			}
		}
	}
	return false
}

func (rt route) match(parts []string) (map[string]string, bool) {
	if len(parts) != len(rt.segments) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range rt.segments {
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func split(path string) []segment {
	parts := splitPath(path)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if len(p) > 2 && p[0] == '{' && p[len(p)-1] == '}' {
			segs[i] = segment{name: p[1 : len(p)-1], isParam: true}
		} else {
			segs[i] = segment{name: p}
		}
	}
	return segs
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
