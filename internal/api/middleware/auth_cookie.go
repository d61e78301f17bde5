package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tudorilade/events-scheduler/internal/api/problem"
	"github.com/tudorilade/events-scheduler/internal/auth"
)

// SessionCookieName is the cookie the login handler sets. The token inside
// is a signed JWT, so the cookie itself carries no server-side state.
const SessionCookieName = "scheduler_session"

type contextKeyAuth string

const sessionClaimsKey contextKeyAuth = "sessionClaims"

// RequireAuth validates the session cookie and rejects requests without a
// valid one. A Bearer token in the Authorization header is accepted as a
// fallback for non-browser clients.
func RequireAuth(manager *auth.JWTManager, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", auth.ErrMissingToken, env)
				return
			}

			token := sessionToken(r)
			if token == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", auth.ErrMissingToken, env)
				return
			}

			claims, err := manager.Validate(token)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid or expired session", err, env)
				return
			}

			ctx := contextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches claims when a valid session is present but never
// rejects. List endpoints use it so session-scoped filters work while the
// endpoint stays public.
func OptionalAuth(manager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager != nil {
				if token := sessionToken(r); token != "" {
					if claims, err := manager.Validate(token); err == nil {
						r = r.WithContext(contextWithClaims(r.Context(), claims))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func contextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, sessionClaimsKey, claims)
}

// SessionClaims returns the authenticated user's claims, or nil when the
// request did not pass through RequireAuth.
func SessionClaims(r *http.Request) *auth.Claims {
	if r == nil {
		return nil
	}
	if claims, ok := r.Context().Value(sessionClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// SetSessionCookie writes the signed session token. HttpOnly keeps it away
// from scripts; SameSite=Lax blocks cross-site POSTs from sending it.
func SetSessionCookie(w http.ResponseWriter, token string, expiry time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(expiry.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie immediately.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
