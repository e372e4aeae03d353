package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/edgeguard/internal/routing"
)

func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Handler returns a handler that proxies to the upstream of the route
// stored in the request context by the route matcher.
func Handler(tr http.RoundTripper) http.Handler {
	rp := &httputil.ReverseProxy{
		Director:      direct,
		Transport:     tr,
		FlushInterval: -1,
		ErrorHandler:  upstreamError,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := routing.RouteFrom(r)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, "NO_ROUTE_CONTEXT", "route not in context")
			return
		}
		// per-route timeout
		ctx, cancel := context.WithTimeout(r.Context(), rt.Timeout)
		defer cancel()
		rp.ServeHTTP(w, r.WithContext(ctx))
	})
}

func direct(req *http.Request) {
	rt, ok := routing.RouteFrom(req)
	if !ok {
		return
	}
	req.URL.Scheme = rt.UpURL.Scheme
	req.URL.Host = rt.UpURL.Host
	if base := strings.TrimSuffix(rt.UpURL.Path, "/"); base != "" {
		// keep escaped segments such as %2F intact
		req.URL.RawPath = strings.TrimSuffix(rt.UpURL.EscapedPath(), "/") + req.URL.EscapedPath()
		req.URL.Path = base + req.URL.Path
	}
	// Forwarded headers
	req.Header.Set("X-Forwarded-Host", req.Host)
	proto := "http"
	if req.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
}

func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	if errors.Is(err, context.DeadlineExceeded) {
		status, code = http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"
	}
	route := ""
	if rt, ok := routing.RouteFrom(r); ok {
		route = rt.ID
	}
	hlog.FromRequest(r).Warn().Err(err).Str("route", route).Msg("upstream error")
	writeJSON(w, status, code, "upstream request failed")
}

func writeJSON(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
