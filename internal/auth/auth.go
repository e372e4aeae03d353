package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
)

const DefaultHeader = "Authorization"

// Token is an identity token already verified by the identity provider.
type Token struct {
	Subject           string
	PreferredUsername string
	TokenID           string
	Name              string
	Roles             []string
}

func (t *Token) HasRole(role string) bool {
	return t != nil && slices.Contains(t.Roles, role)
}

// Verifier turns a raw credential into a verified Token.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Token, error)
}

var ErrInvalidToken = apperr.New(apperr.CodeUnauthorized, "invalid or expired token")

// StaticVerifier is an in-memory credential table: raw token -> Token.
type StaticVerifier struct {
	byRaw map[string]Token
}

func NewStatic(tokens map[string]Token) *StaticVerifier {
	m := make(map[string]Token, len(tokens))
	for raw, tok := range tokens {
		if raw = strings.TrimSpace(raw); raw != "" {
			m[raw] = tok
		}
	}
	return &StaticVerifier{byRaw: m}
}

func (s *StaticVerifier) Verify(_ context.Context, raw string) (*Token, error) {
	tok, ok := s.byRaw[raw]
	if !ok {
		return nil, ErrInvalidToken
	}
	tok.Roles = slices.Clone(tok.Roles)
	return &tok, nil
}

// PrincipalID picks the caller identity from a token: subject, then
// preferred username, then token id, then display name. The first
// non-blank claim wins; "" when none is set.
func PrincipalID(t *Token) string {
	if t == nil {
		return ""
	}
	for _, claim := range []string{t.Subject, t.PreferredUsername, t.TokenID, t.Name} {
		if c := strings.TrimSpace(claim); c != "" {
			return c
		}
	}
	return ""
}

// Credential reads the raw token from header, dropping a "Bearer " scheme
// prefix when present.
func Credential(r *http.Request, header string) string {
	if header == "" {
		header = DefaultHeader
	}
	v := strings.TrimSpace(r.Header.Get(header))
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		v = strings.TrimSpace(v[7:])
	}
	return v
}

type ctxKey int

const keyToken ctxKey = 0

// WithToken injects the verified token into context.
func WithToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, keyToken, t)
}

// TokenFrom extracts the verified token from context (if present).
func TokenFrom(ctx context.Context) (*Token, bool) {
	t, ok := ctx.Value(keyToken).(*Token)
	return t, ok && t != nil
}

// RequireRole rejects requests without a valid token (401) or whose token
// lacks role (403).
func RequireRole(v Verifier, header, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := Credential(r, header)
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "authentication required")
				return
			}
			tok, err := v.Verify(r.Context(), raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, apperr.CodeUnauthorized, apperr.MessageOf(err))
				return
			}
			if !tok.HasRole(role) {
				writeJSON(w, http.StatusForbidden, apperr.CodeForbidden, "role "+role+" required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), tok)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": string(code), "message": msg},
	})
}
