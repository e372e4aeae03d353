package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit/stats"
)

const (
	RateLimitTypeHeader   = "X-RateLimit-Type"
	RateLimitRetryHeader  = "X-RateLimit-Retry-After"
	RateLimitTenantHeader = "X-RateLimit-Store-Id"
)

// Admission applies the multi-tier rate limit and reports every decision
// to the stats recorder.
type Admission struct {
	Controller *ratelimit.Controller
	Stats      stats.Recorder
	Now        func() time.Time
}

func (Admission) Name() string { return "admission" }

func (s Admission) Process(r *http.Request, rc *RequestContext) Result {
	out := s.Controller.Admit(rc.Subject())
	s.record(r, rc, out)
	if out.Admitted {
		return Continue()
	}

	h := http.Header{}
	h.Set(RateLimitTypeHeader, out.RejectedBy.String())
	h.Set(RateLimitRetryHeader, strconv.Itoa(out.RetryAfterSeconds))
	if out.RejectedBy == ratelimit.TierTenant {
		h.Set(RateLimitTenantHeader, out.Key.ID)
	}
	err := apperr.New(apperr.CodeRateLimited, "rate limit exceeded for "+out.RejectedBy.String()+" tier")
	return Reject(http.StatusTooManyRequests, err, h)
}

func (s Admission) record(r *http.Request, rc *RequestContext, out ratelimit.Outcome) {
	if s.Stats == nil {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ev := stats.Event{
		Allowed: out.Admitted,
		Method:  rc.Method,
		Path:    rc.Path,
		At:      now(),
	}
	if !out.Admitted {
		ev.Tier = out.RejectedBy.String()
		ev.Key = out.Key.ID
	}
	if err := s.Stats.Record(r.Context(), ev); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("stats record failed")
	}
}
