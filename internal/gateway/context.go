package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/AlexKimmel/edgeguard/internal/auth"
	"github.com/AlexKimmel/edgeguard/internal/idempotency"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
)

const (
	TraceHeader     = "X-Trace-Id"
	TenantHeader    = "X-Store-Id"
	ForwardedHeader = "X-Forwarded-For"
)

// RequestContext is the per-request view shared by pipeline stages. It is
// built once at pipeline entry; only the trace id, identity and route are
// filled in afterwards.
type RequestContext struct {
	Method         string
	Path           string
	TenantID       string
	ClientAddress  string
	IdempotencyKey string

	TraceID     string
	PrincipalID string
	Token       *auth.Token
	RouteID     string
}

func NewRequestContext(r *http.Request) *RequestContext {
	return &RequestContext{
		Method:         r.Method,
		Path:           r.URL.Path,
		TenantID:       strings.TrimSpace(r.Header.Get(TenantHeader)),
		ClientAddress:  ClientAddress(r),
		IdempotencyKey: r.Header.Get(idempotency.Header),
	}
}

// Subject is what admission control decides on.
func (rc *RequestContext) Subject() ratelimit.Subject {
	return ratelimit.Subject{
		TenantID:      rc.TenantID,
		PrincipalID:   rc.PrincipalID,
		ClientAddress: rc.ClientAddress,
	}
}

// ClientAddress returns the first non-blank X-Forwarded-For entry, else the
// host part of the transport peer address, else "".
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get(ForwardedHeader); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

type ctxKey int

const keyRequestContext ctxKey = 0

func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, keyRequestContext, rc)
}

func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(keyRequestContext).(*RequestContext)
	return rc, ok && rc != nil
}
