package gateway

import (
	"net/http"
	"strconv"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
)

// BodySize caps request bodies at Max bytes. Requests announcing a larger
// Content-Length are refused up front; chunked bodies are cut off on read.
// A non-positive Max disables the check.
type BodySize struct {
	Max int64
}

func (BodySize) Name() string { return "body_size" }

func (s BodySize) Process(r *http.Request, _ *RequestContext) Result {
	if s.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
		return Continue()
	}
	if r.ContentLength > s.Max {
		err := apperr.New(apperr.CodeBodyTooLarge, "request body exceeds "+strconv.FormatInt(s.Max, 10)+" bytes")
		return Reject(http.StatusRequestEntityTooLarge, err, nil)
	}
	r.Body = http.MaxBytesReader(nil, r.Body, s.Max)
	return Continue()
}

// BodyLimit applies BodySize to handlers outside the pipeline.
func BodyLimit(maxBytes int64) Middleware {
	s := BodySize{Max: maxBytes}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if res := s.Process(r, nil); res.ShortCircuited() {
				writeError(w, res.Status, string(res.Code), res.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
