package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 3 * time.Second

type Route struct {
	ID      string
	Methods map[string]struct{} // empty matches any method
	Prefix  string
	UpURL   *url.URL
	Timeout time.Duration
}

// NewRoute validates and normalizes one static route.
func NewRoute(id, prefix string, methods []string, upstream string, timeout time.Duration) (*Route, error) {
	u, err := url.Parse(strings.TrimSpace(upstream))
	if err != nil {
		return nil, fmt.Errorf("route %q: upstream url: %w", id, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("route %q: upstream url %q must be absolute http(s)", id, upstream)
	}

	p := strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	ms := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			ms[m] = struct{}{}
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Route{ID: id, Methods: ms, Prefix: p, UpURL: u, Timeout: timeout}, nil
}

func (rt *Route) allows(method string) bool {
	if len(rt.Methods) == 0 {
		return true
	}
	_, ok := rt.Methods[strings.ToUpper(method)]
	return ok
}

func (rt *Route) covers(path string) bool {
	if rt.Prefix == "/" {
		return true
	}
	return path == rt.Prefix || strings.HasPrefix(path, rt.Prefix+"/")
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Match returns the first route, in insertion order, whose prefix covers
// path on a segment boundary and which accepts method.
func (r *Router) Match(method string, path string) (*Route, bool) {
	for _, rt := range r.routes {
		if rt.allows(method) && rt.covers(path) {
			return rt, true
		}
	}
	return nil, false
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	rt, ok := r.Context().Value(keyRoute).(*Route)
	return rt, ok && rt != nil
}
