package gateway

import (
	"net/http"

	"github.com/AlexKimmel/edgeguard/internal/idempotency"
)

// Idempotency refuses mutating requests without a well-formed key.
type Idempotency struct{}

func (Idempotency) Name() string { return "idempotency" }

func (Idempotency) Process(_ *http.Request, rc *RequestContext) Result {
	if err := idempotency.Check(rc.Method, rc.IdempotencyKey); err != nil {
		return Reject(http.StatusBadRequest, err, nil)
	}
	return Continue()
}
