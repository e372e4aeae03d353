package gateway

import (
	"net/http"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
	"github.com/AlexKimmel/edgeguard/internal/auth"
)

// Identity resolves the optional caller principal from a bearer token.
// Requests without a token stay anonymous unless Required is set; a token
// that fails verification is always refused.
type Identity struct {
	Verifier auth.Verifier
	Header   string
	Required bool
}

func (Identity) Name() string { return "identity" }

func (s Identity) Process(r *http.Request, rc *RequestContext) Result {
	raw := auth.Credential(r, s.Header)
	if raw == "" || s.Verifier == nil {
		if s.Required {
			return Reject(http.StatusUnauthorized, apperr.New(apperr.CodeUnauthorized, "authentication required"), nil)
		}
		return Continue()
	}

	tok, err := s.Verifier.Verify(r.Context(), raw)
	if err != nil {
		return Reject(http.StatusUnauthorized, apperr.Wrap(apperr.CodeUnauthorized, apperr.MessageOf(err), err), nil)
	}
	rc.Token = tok
	rc.PrincipalID = auth.PrincipalID(tok)
	if rc.PrincipalID != "" {
		annotateLogger(r, "principal", rc.PrincipalID)
	}
	return Continue()
}
