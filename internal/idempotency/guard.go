// Package idempotency checks that mutating requests carry a well-formed
// idempotency key. It does not deduplicate; storing keys for replay belongs
// to the services behind the gateway.
package idempotency

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
)

const Header = "X-Idempotency-Key"

// IsMutating reports whether method creates or updates a resource.
// DELETE is excluded: it is idempotent by definition.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// Check validates token for a request with the given method. Non-mutating
// methods always pass without looking at the token.
func Check(method, token string) error {
	if !IsMutating(method) {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return apperr.New(apperr.CodeMissingToken, Header+" header is required for "+strings.ToUpper(method)+" requests")
	}
	if !ValidKey(token) {
		return apperr.New(apperr.CodeMalformedToken, Header+" must be a valid UUID")
	}
	return nil
}

// ValidKey reports whether s is a UUID in the 8-4-4-4-12 hex form, any case.
// uuid.Parse alone also accepts braces, a urn:uuid: prefix and bare hex.
func ValidKey(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
