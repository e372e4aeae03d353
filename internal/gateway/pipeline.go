package gateway

import (
	"net/http"
	"time"

	"github.com/AlexKimmel/edgeguard/internal/auth"
)

// Observer is told about every request the pipeline finishes.
type Observer interface {
	ShortCircuit(stage string, res Result)
	Served(route, method string, status int, elapsed time.Duration)
}

// UnmatchedRoute labels requests that ended before a route was chosen.
const UnmatchedRoute = "unmatched"

// Pipeline runs stages in order and forwards to next only when every stage
// continues. A stage that ends the request gets a JSON error response and
// next is never called.
type Pipeline struct {
	stages   []Stage
	next     http.Handler
	observer Observer
}

func NewPipeline(next http.Handler, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, next: next}
}

// Stages returns the gateway's fixed stage order. Idempotency runs before
// admission so a rejected key never spends a token.
func Stages(body BodySize, identity Identity, admission Admission) []Stage {
	return []Stage{Trace{}, body, identity, Idempotency{}, admission}
}

func (p *Pipeline) WithObserver(o Observer) *Pipeline {
	p.observer = o
	return p
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rc := NewRequestContext(r)
	tw := newTraceWriter(w, rc)
	defer func() {
		if p.observer == nil {
			return
		}
		route := rc.RouteID
		if route == "" {
			route = UnmatchedRoute
		}
		p.observer.Served(route, rc.Method, tw.Status(), time.Since(start))
	}()

	for _, s := range p.stages {
		res := s.Process(r, rc)
		if !res.ShortCircuited() {
			continue
		}
		if p.observer != nil {
			p.observer.ShortCircuit(s.Name(), res)
		}
		for k, vs := range res.Header {
			for _, v := range vs {
				tw.Header().Add(k, v)
			}
		}
		writeError(tw, res.Status, string(res.Code), res.Message)
		return
	}

	ctx := WithRequestContext(r.Context(), rc)
	if rc.Token != nil {
		ctx = auth.WithToken(ctx, rc.Token)
	}
	p.next.ServeHTTP(tw, r.WithContext(ctx))
}
