package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
	"github.com/AlexKimmel/edgeguard/internal/gateway"
)

type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	AdmissionRejected   *prometheus.CounterVec
	IdempotencyRejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeguard_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgeguard_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		AdmissionRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeguard_admission_rejected_total",
				Help: "Requests rejected by admission control, by tier",
			},
			[]string{"tier"},
		),
		IdempotencyRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeguard_idempotency_rejected_total",
				Help: "Mutating requests rejected for a missing or malformed idempotency key",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.AdmissionRejected, m.IdempotencyRejected)
	return m
}

// RegisterGauges exposes current registry and bucket store sizes.
func RegisterGauges(reg prometheus.Registerer, overrides, buckets func() int) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "edgeguard_tenant_overrides",
			Help: "Tenants with a custom rate limit",
		}, func() float64 { return float64(overrides()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "edgeguard_buckets",
			Help: "Token buckets currently held in memory",
		}, func() float64 { return float64(buckets()) }),
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ShortCircuit implements gateway.Observer.
func (m *Metrics) ShortCircuit(stage string, res gateway.Result) {
	switch stage {
	case "admission":
		tier := res.Header.Get(gateway.RateLimitTypeHeader)
		if tier == "" {
			tier = "unknown"
		}
		m.AdmissionRejected.WithLabelValues(tier).Inc()
	case "idempotency":
		reason := "malformed"
		if res.Code == apperr.CodeMissingToken {
			reason = "missing"
		}
		m.IdempotencyRejected.WithLabelValues(reason).Inc()
	}
}

// Served implements gateway.Observer.
func (m *Metrics) Served(route, method string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records per-request metrics for handlers outside the pipeline,
// under a fixed route label.
func (m *Metrics) Middleware(route string) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}
			m.Served(route, r.Method, code, time.Since(start))
		})
	}
}
