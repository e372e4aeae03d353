package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/edgeguard/internal/auth"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit/memory"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit/stats"
)

const (
	validKey    = "9b2f8c1e-6a4d-4f3b-8e2a-1c5d7e9f0a3b"
	fixtureBody = 16
)

type backend struct {
	mu    sync.Mutex
	calls int
	last  *http.Request
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls++
	b.last = r
	b.mu.Unlock()
	w.Header().Set(TraceHeader, "from-upstream")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "ok")
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type observed struct {
	mu     sync.Mutex
	stages []string
	served []int
	routes []string
}

func (o *observed) ShortCircuit(stage string, _ Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *observed) Served(route, _ string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
	o.served = append(o.served, status)
}

type fixture struct {
	registry *ratelimit.Registry
	backend  *backend
	observer *observed
	stats    *stats.Memory
	handler  http.Handler
}

func newFixture(t *testing.T, limits ratelimit.Limits, global int64, verifier auth.Verifier, required bool) *fixture {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fixture{
		registry: ratelimit.NewRegistry(0),
		backend:  &backend{},
		observer: &observed{},
		stats:    stats.NewMemory(stats.WithTrackKeys(true)),
	}
	store := memory.New(memory.WithClock(clock))
	ctrl := ratelimit.NewController(store, f.registry, ratelimit.NewGlobalLimiter(global, time.Minute, clock), limits)

	f.handler = NewPipeline(f.backend, Stages(
		BodySize{Max: fixtureBody},
		Identity{Verifier: verifier, Required: required},
		Admission{Controller: ctrl, Stats: f.stats, Now: clock},
	)...).WithObserver(f.observer)
	return f
}

func (f *fixture) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestPipeline_IdempotencyGating(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, 0, nil, false)

	rec := f.do(http.MethodPost, "/orders", map[string]string{"X-Idempotency-Key": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MALFORMED_IDEMPOTENCY_KEY", errorCode(t, rec))
	require.Zero(t, f.backend.count())

	rec = f.do(http.MethodPost, "/orders", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MISSING_IDEMPOTENCY_KEY", errorCode(t, rec))
	require.Contains(t, rec.Body.String(), "X-Idempotency-Key header is required for POST requests")

	rec = f.do(http.MethodPost, "/orders", map[string]string{"X-Idempotency-Key": validKey})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, f.backend.count())

	rec = f.do(http.MethodGet, "/orders", map[string]string{"X-Idempotency-Key": "not-a-uuid"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Equal(t, []string{"idempotency", "idempotency"}, f.observer.stages)
}

func TestPipeline_MalformedKeysDoNotSpendTokens(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{Address: 1}, 0, nil, false)

	for i := 0; i < 5; i++ {
		rec := f.do(http.MethodPost, "/orders", map[string]string{"X-Idempotency-Key": "not-a-uuid"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	require.Zero(t, f.stats.Total().Allowed+f.stats.Total().Denied)

	rec := f.do(http.MethodPost, "/orders", map[string]string{"X-Idempotency-Key": validKey})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "ip", rec.Header().Get(RateLimitTypeHeader))
}

func TestPipeline_OversizedBody(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{Address: 1}, 0, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(strings.Repeat("x", fixtureBody+1)))
	req.Header.Set(TraceHeader, "trace-big")
	req.Header.Set("X-Idempotency-Key", validKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "trace-big", rec.Header().Get(TraceHeader))
	require.Equal(t, "BODY_TOO_LARGE", errorCode(t, rec))
	require.Zero(t, f.backend.count())
	require.Equal(t, []string{"body_size"}, f.observer.stages)

	rec = f.do(http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPipeline_TracePropagation(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, 0, nil, false)

	rec := f.do(http.MethodGet, "/x", nil)
	generated := rec.Header().Get(TraceHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
	require.Len(t, generated, 36)
	require.Equal(t, generated, f.backend.last.Header.Get(TraceHeader))

	rec = f.do(http.MethodGet, "/x", map[string]string{TraceHeader: "abc-123"})
	require.Equal(t, "abc-123", rec.Header().Get(TraceHeader))
	require.Equal(t, "abc-123", f.backend.last.Header.Get(TraceHeader))

	rec = f.do(http.MethodGet, "/x", map[string]string{TraceHeader: "   "})
	require.NotEqual(t, "   ", rec.Header().Get(TraceHeader))
	require.Len(t, rec.Header().Get(TraceHeader), 36)
}

func TestPipeline_TraceOnRejections(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, 0, nil, false)

	rec := f.do(http.MethodPut, "/x", map[string]string{TraceHeader: "t-400"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "t-400", rec.Header().Get(TraceHeader))

	require.NoError(t, f.registry.SetLimit("store-1", 1))
	f.do(http.MethodGet, "/x", map[string]string{TenantHeader: "store-1"})
	rec = f.do(http.MethodGet, "/x", map[string]string{TenantHeader: "store-1", TraceHeader: "t-429"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "t-429", rec.Header().Get(TraceHeader))
}

func TestPipeline_RejectionMetadata(t *testing.T) {
	tests := []struct {
		name     string
		limits   ratelimit.Limits
		global   int64
		headers  map[string]string
		tier     string
		tenantID string
	}{
		{"tenant", ratelimit.Limits{}, 0, map[string]string{TenantHeader: "store-9"}, "store", "store-9"},
		{"address", ratelimit.Limits{Address: 1}, 0, map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "ip", ""},
		{"principal", ratelimit.Limits{Principal: 1}, 0, map[string]string{"Authorization": "Bearer alice-token"}, "user", ""},
		{"global", ratelimit.Limits{}, 1, nil, "global", ""},
	}
	verifier := auth.NewStatic(map[string]auth.Token{"alice-token": {Subject: "alice"}})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.limits, tt.global, verifier, false)
			require.NoError(t, f.registry.SetLimit("store-9", 1))

			first := f.do(http.MethodGet, "/x", tt.headers)
			require.Equal(t, http.StatusAccepted, first.Code)

			rec := f.do(http.MethodGet, "/x", tt.headers)
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
			require.Equal(t, "60", rec.Header().Get(RateLimitRetryHeader))
			require.Equal(t, tt.tier, rec.Header().Get(RateLimitTypeHeader))
			require.Equal(t, tt.tenantID, rec.Header().Get(RateLimitTenantHeader))
			require.Equal(t, "RATE_LIMITED", errorCode(t, rec))
			require.Equal(t, 1, f.backend.count())
			require.Equal(t, map[string]int64{tt.tier: 1}, f.stats.DeniedByTier())
		})
	}
}

func TestPipeline_TenantAndCallerTiersIndependent(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{Address: 2}, 0, nil, false)
	require.NoError(t, f.registry.SetLimit("big", 100))

	require.Equal(t, http.StatusAccepted, f.do(http.MethodGet, "/x", map[string]string{TenantHeader: "big"}).Code)
	require.Equal(t, http.StatusAccepted, f.do(http.MethodGet, "/x", map[string]string{TenantHeader: "big"}).Code)

	rec := f.do(http.MethodGet, "/x", map[string]string{TenantHeader: "big"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "ip", rec.Header().Get(RateLimitTypeHeader))

	other := map[string]string{TenantHeader: "big", "X-Forwarded-For": "198.51.100.7"}
	require.Equal(t, http.StatusAccepted, f.do(http.MethodGet, "/x", other).Code)
}

func TestPipeline_Identity(t *testing.T) {
	verifier := auth.NewStatic(map[string]auth.Token{"tok": {PreferredUsername: "bob"}})

	t.Run("invalid token refused", func(t *testing.T) {
		f := newFixture(t, ratelimit.Limits{}, 0, verifier, false)
		rec := f.do(http.MethodGet, "/x", map[string]string{"Authorization": "Bearer nope"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
		require.NotEmpty(t, rec.Header().Get(TraceHeader))
	})

	t.Run("anonymous allowed", func(t *testing.T) {
		f := newFixture(t, ratelimit.Limits{}, 0, verifier, false)
		require.Equal(t, http.StatusAccepted, f.do(http.MethodGet, "/x", nil).Code)
	})

	t.Run("anonymous refused when required", func(t *testing.T) {
		f := newFixture(t, ratelimit.Limits{}, 0, verifier, true)
		require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/x", nil).Code)
	})

	t.Run("token reaches backend", func(t *testing.T) {
		f := newFixture(t, ratelimit.Limits{}, 0, verifier, true)
		require.Equal(t, http.StatusAccepted, f.do(http.MethodGet, "/x", map[string]string{"Authorization": "Bearer tok"}).Code)

		tok, ok := auth.TokenFrom(f.backend.last.Context())
		require.True(t, ok)
		require.Equal(t, "bob", auth.PrincipalID(tok))
		rc, ok := RequestContextFrom(f.backend.last.Context())
		require.True(t, ok)
		require.Equal(t, "bob", rc.PrincipalID)
	})
}

func TestPipeline_ObserverSeesStatus(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, 0, nil, false)
	f.do(http.MethodGet, "/x", nil)
	f.do(http.MethodPost, "/x", nil)

	require.Equal(t, []int{http.StatusAccepted, http.StatusBadRequest}, f.observer.served)
	require.Equal(t, []string{UnmatchedRoute, UnmatchedRoute}, f.observer.routes)
}

func TestPipeline_StreamedResponseCarriesTrace(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "chunk-1\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "chunk-2\n")
	})
	h := NewPipeline(stream, Trace{})

	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(TraceHeader, "stream-1")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "stream-1", resp.Header.Get(TraceHeader))
	require.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	require.Equal(t, "chunk-1\nchunk-2\n", string(body))
}

func TestTraceWriter_OverridesUpstreamValue(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, 0, nil, false)
	rec := f.do(http.MethodGet, "/x", map[string]string{TraceHeader: "mine"})
	require.Equal(t, []string{"mine"}, rec.Header().Values(TraceHeader))
}

func TestTraceMiddleware(t *testing.T) {
	h := Trace{}.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get(TraceHeader))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))

	id := rec.Header().Get(TraceHeader)
	require.Len(t, id, 36)
	require.Equal(t, id, strings.TrimSpace(rec.Body.String()))
}
