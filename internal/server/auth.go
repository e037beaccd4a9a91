package server

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/quizarena/internal/token"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

func bearerToken(r *http.Request) string {
	tok, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(tok)
}

// operatorAuthMiddleware admits requests whose bearer token matches the
// operator key hash.
func operatorAuthMiddleware(keyHash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			if key == "" || bcrypt.CompareHashAndPassword(keyHash, []byte(key)) != nil {
				writeError(w, http.StatusUnauthorized, "operator key required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// teamAuthMiddleware resolves the team token and stores its claims in the
// request context.
func teamAuthMiddleware(tokens *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "team token required")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid team token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFrom(r *http.Request) *token.Claims {
	return r.Context().Value(ctxKeyClaims).(*token.Claims)
}
