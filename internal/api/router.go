package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/api/handlers"
	"github.com/tudorilade/events-scheduler/internal/api/middleware"
	"github.com/tudorilade/events-scheduler/internal/auth"
	"github.com/tudorilade/events-scheduler/internal/config"
	"github.com/tudorilade/events-scheduler/internal/domain/events"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
	"github.com/tudorilade/events-scheduler/internal/metrics"
	"github.com/tudorilade/events-scheduler/internal/ratelimit"
)

// Dependencies carries the wired services the router exposes. The caller
// owns their lifecycles; the router only routes.
type Dependencies struct {
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	Users       *users.Service
	Events      *events.Service
	JWT         *auth.JWTManager
	Limiter     *ratelimit.Limiter
	Version     string
	GitCommit   string
}

func NewRouter(cfg config.Config, deps Dependencies, logger zerolog.Logger) http.Handler {
	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWT, cfg.Environment, cfg.Auth.SecureCookies)
	usersHandler := handlers.NewUsersHandler(deps.Users, cfg.Environment)
	eventsHandler := handlers.NewEventsHandler(deps.Events, cfg.Environment)
	healthChecker := handlers.NewHealthChecker(deps.Pool, deps.RiverClient, deps.Version, deps.GitCommit)

	requireAuth := middleware.RequireAuth(deps.JWT, cfg.Environment)
	optionalAuth := middleware.OptionalAuth(deps.JWT)
	loginLimit := middleware.LoginRateLimit(cfg.RateLimit)

	mux := http.NewServeMux()

	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.Readyz(deps.Pool))
	mux.Handle("/health", healthChecker.Health())
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("/api/v1/auth/register", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(authHandler.Register),
	}))
	mux.Handle("/api/v1/auth/login", methodMux(map[string]http.Handler{
		http.MethodPost: loginLimit(http.HandlerFunc(authHandler.Login)),
	}))
	mux.Handle("/api/v1/auth/logout", methodMux(map[string]http.Handler{
		http.MethodPost: requireAuth(http.HandlerFunc(authHandler.Logout)),
	}))
	mux.Handle("/api/v1/auth/verify-email", methodMux(map[string]http.Handler{
		http.MethodGet:  http.HandlerFunc(authHandler.VerifyEmail),
		http.MethodPost: http.HandlerFunc(authHandler.VerifyEmail),
	}))
	mux.Handle("/api/v1/auth/resend-verification", methodMux(map[string]http.Handler{
		http.MethodPost: loginLimit(requireAuth(http.HandlerFunc(authHandler.ResendVerification))),
	}))
	mux.Handle("/api/v1/auth/password-reset", methodMux(map[string]http.Handler{
		http.MethodPost: loginLimit(http.HandlerFunc(authHandler.RequestPasswordReset)),
	}))
	mux.Handle("/api/v1/auth/password-reset/confirm", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(authHandler.ConfirmPasswordReset),
	}))

	mux.Handle("/api/v1/users/me", methodMux(map[string]http.Handler{
		http.MethodGet:    requireAuth(http.HandlerFunc(usersHandler.Me)),
		http.MethodPatch:  requireAuth(http.HandlerFunc(usersHandler.UpdateMe)),
		http.MethodDelete: requireAuth(http.HandlerFunc(usersHandler.DeactivateMe)),
	}))

	mux.Handle("/api/v1/events", methodMux(map[string]http.Handler{
		http.MethodGet:  optionalAuth(http.HandlerFunc(eventsHandler.List)),
		http.MethodPost: requireAuth(http.HandlerFunc(eventsHandler.Create)),
	}))
	mux.Handle("/api/v1/events/{id}", methodMux(map[string]http.Handler{
		http.MethodGet:    optionalAuth(http.HandlerFunc(eventsHandler.Get)),
		http.MethodPatch:  requireAuth(http.HandlerFunc(eventsHandler.Update)),
		http.MethodDelete: requireAuth(http.HandlerFunc(eventsHandler.Delete)),
	}))
	mux.Handle("/api/v1/events/{id}/participation", methodMux(map[string]http.Handler{
		http.MethodPost:   requireAuth(http.HandlerFunc(eventsHandler.Join)),
		http.MethodDelete: requireAuth(http.HandlerFunc(eventsHandler.Withdraw)),
	}))

	var handler http.Handler = mux
	if cfg.Auth.CSRFKey != "" {
		handler = middleware.CSRFProtection([]byte(cfg.Auth.CSRFKey), cfg.Auth.SecureCookies)(handler)
	}
	handler = middleware.RateLimit(deps.Limiter, cfg.RateLimit)(handler)
	handler = middleware.SecurityHeaders(cfg.Auth.SecureCookies)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.CorrelationID(logger)(handler)

	return handler
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
