package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tudorilade/events-scheduler/internal/api/problem"
	"github.com/tudorilade/events-scheduler/internal/config"
	"github.com/tudorilade/events-scheduler/internal/ratelimit"
)

// exemptPaths never count against the limit. Health probes and scrapes run
// on fixed schedules and would otherwise starve real clients behind NAT.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// RateLimit admits requests through the shared fixed-window limiter, keyed
// by client IP. Blocked responses carry a Retry-After no longer than the
// remainder of the current window.
func RateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			decision := limiter.Admit(r.Context(), clientKey(r, cfg.TrustedProxyCIDRs), time.Now())
			if !decision.Allowed {
				problem.WriteRateLimited(w, r, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoginRateLimit applies a stricter token-bucket tier to credential
// endpoints. A burst of LoginBurst attempts is allowed, then one token
// refills every LoginRefill.
func LoginRateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	store := newLoginLimiterStore(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := store.limiter(clientKey(r, cfg.TrustedProxyCIDRs))
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow() {
				problem.WriteRateLimited(w, r, store.refill)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type loginLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	burst    int
	refill   time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLoginLimiterStore(cfg config.RateLimitConfig) *loginLimiterStore {
	refill := cfg.LoginRefill.Std()
	if refill <= 0 {
		refill = 3 * time.Minute
	}
	store := &loginLimiterStore{
		limiters: make(map[string]*limiterEntry),
		burst:    cfg.LoginBurst,
		refill:   refill,
	}
	// Entries idle for several refill periods hold a full bucket again, so
	// dropping them loses nothing.
	go store.cleanupLoop()
	return store
}

func (s *loginLimiterStore) limiter(key string) *rate.Limiter {
	if s.burst <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.limiters[key]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Every(s.refill), s.burst)
	s.limiters[key] = &limiterEntry{
		limiter:  limiter,
		lastSeen: time.Now(),
	}
	return limiter
}

func (s *loginLimiterStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanup(time.Now())
	}
}

func (s *loginLimiterStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := time.Duration(s.burst+1) * s.refill
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > ttl {
			delete(s.limiters, key)
		}
	}
}

// clientKey extracts the client identifier for rate limiting. Forwarding
// headers are honored only when the direct peer is a trusted proxy, so an
// untrusted client cannot spoof X-Forwarded-For to escape its bucket.
func clientKey(r *http.Request, trustedProxyCIDRs []string) string {
	if r == nil {
		return ""
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if isTrustedProxy(remoteIP, trustedProxyCIDRs) {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			if len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	return remoteIP
}

func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	if len(trustedCIDRs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidrStr := range trustedCIDRs {
		_, cidr, err := net.ParseCIDR(cidrStr)
		if err != nil {
			continue
		}
		if cidr.Contains(parsedIP) {
			return true
		}
	}

	return false
}
