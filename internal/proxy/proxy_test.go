package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/edgeguard/internal/routing"
)

func TestHandler_ForwardsToRouteUpstream(t *testing.T) {
	var gotPath, gotFwdHost, gotTrace string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFwdHost = r.Header.Get("X-Forwarded-Host")
		gotTrace = r.Header.Get("X-Trace-Id")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}))
	defer up.Close()

	rt, err := routing.NewRoute("orders", "/orders", nil, up.URL+"/api", time.Second)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "http://edge.example/orders/7", nil)
	req.Header.Set("X-Trace-Id", "t-1")
	rec := httptest.NewRecorder()
	Handler(NewHTTPTransport()).ServeHTTP(rec, routing.WithRoute(req, rt))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "created", rec.Body.String())
	require.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	require.Equal(t, "/api/orders/7", gotPath)
	require.Equal(t, "edge.example", gotFwdHost)
	require.Equal(t, "t-1", gotTrace)
}

func TestHandler_KeepsEscapedPath(t *testing.T) {
	var gotURI string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
	}))
	defer up.Close()

	rt, err := routing.NewRoute("orders", "/orders", nil, up.URL+"/api", time.Second)
	require.NoError(t, err)

	for path, want := range map[string]string{
		"/orders/a%2Fb":    "/api/orders/a%2Fb",
		"/orders/a%20b":    "/api/orders/a%20b",
		"/orders/plain/7":  "/api/orders/plain/7",
		"/orders/x%2F?q=1": "/api/orders/x%2F?q=1",
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "http://edge.example"+path, nil)
		Handler(NewHTTPTransport()).ServeHTTP(rec, routing.WithRoute(req, rt))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, want, gotURI, path)
	}
}

func TestHandler_UpstreamDown(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	addr := up.URL
	up.Close()

	rt, err := routing.NewRoute("dead", "/", nil, addr, time.Second)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	Handler(NewHTTPTransport()).ServeHTTP(rec, routing.WithRoute(req, rt))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "UPSTREAM_UNAVAILABLE")
}

func TestHandler_NoRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(NewHTTPTransport()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
