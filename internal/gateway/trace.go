package gateway

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EnsureTrace returns the inbound trace id verbatim, or a new UUID when it
// is blank.
func EnsureTrace(inbound string) string {
	if strings.TrimSpace(inbound) != "" {
		return inbound
	}
	return uuid.NewString()
}

// Trace resolves the trace id, puts it on the forwarded request and on the
// request logger. The response side is handled by the pipeline's writer.
type Trace struct{}

func (Trace) Name() string { return "trace" }

func (Trace) Process(r *http.Request, rc *RequestContext) Result {
	rc.TraceID = EnsureTrace(r.Header.Get(TraceHeader))
	r.Header.Set(TraceHeader, rc.TraceID)
	annotateLogger(r, "trace_id", rc.TraceID)
	return Continue()
}

// Middleware applies trace handling to handlers outside the pipeline.
func (t Trace) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := &RequestContext{}
			t.Process(r, rc)
			next.ServeHTTP(newTraceWriter(w, rc), r)
		})
	}
}

func annotateLogger(r *http.Request, key, val string) {
	l := zerolog.Ctx(r.Context())
	if l.GetLevel() == zerolog.Disabled {
		return
	}
	l.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(key, val)
	})
}

// traceWriter sets the trace header on the response as headers are
// committed, so streamed and locally written responses carry it alike.
// It also remembers the final status.
type traceWriter struct {
	http.ResponseWriter
	rc        *RequestContext
	committed bool
	status    int
}

func newTraceWriter(w http.ResponseWriter, rc *RequestContext) *traceWriter {
	return &traceWriter{ResponseWriter: w, rc: rc}
}

func (w *traceWriter) stamp() {
	if id := w.rc.TraceID; id != "" {
		w.Header().Set(TraceHeader, id)
	}
}

func (w *traceWriter) WriteHeader(code int) {
	if w.committed {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.stamp()
	if code >= http.StatusOK || code == http.StatusSwitchingProtocols {
		w.committed = true
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *traceWriter) Write(b []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *traceWriter) Flush() {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *traceWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Status is the committed status code, 200 if nothing was written.
func (w *traceWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
