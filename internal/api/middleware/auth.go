// Package middleware provides the HTTP middleware the thin REST surface
// uses: cookie-based JWT authentication.
package middleware

import (
	"context"
	"net/http"

	"github.com/marmos91/sessionfleet/internal/auth"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ClaimsFromContext retrieves the authenticated caller's claims. Returns nil
// if called outside a route behind JWTAuth.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// JWTAuth validates the sessionfleet_token cookie set by register/login and
// stores its claims in the request context. Missing or invalid tokens get a
// 401.
func JWTAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.CookieName)
			if err != nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := svc.ValidateToken(cookie.Value)
			if err != nil {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
