package gateway

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/edgeguard/internal/routing"
)

// RouteMatcher attaches the matching static route to the request, or
// answers 404 when none matches.
func RouteMatcher(rr *routing.Router) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt, ok := rr.Match(r.Method, r.URL.Path)
			if !ok {
				hlog.FromRequest(r).Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("routes", len(rr.Routes())).
					Msg("no matching route")
				writeError(w, http.StatusNotFound, "NO_ROUTE", "no matching route")
				return
			}
			if rc, ok := RequestContextFrom(r.Context()); ok {
				rc.RouteID = rt.ID
			}
			next.ServeHTTP(w, routing.WithRoute(r, rt))
		})
	}
}
