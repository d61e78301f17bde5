// Package problem writes RFC 9457 problem+json error responses.
package problem

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

// Problem type URIs. Clients match on these rather than on titles.
const (
	TypeValidation   = "https://eventscheduler.dev/problems/validation-error"
	TypeUnauthorized = "https://eventscheduler.dev/problems/unauthorized"
	TypeForbidden    = "https://eventscheduler.dev/problems/forbidden"
	TypeNotFound     = "https://eventscheduler.dev/problems/not-found"
	TypeConflict     = "https://eventscheduler.dev/problems/conflict"
	TypeRateLimited  = "https://eventscheduler.dev/problems/rate-limited"
	TypeInternal     = "about:blank"
)

type Details struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

type Option func(*Details)

func WithDetail(detail string) Option {
	return func(p *Details) {
		p.Detail = detail
	}
}

// WithErrors attaches per-field validation messages.
func WithErrors(errs map[string]string) Option {
	return func(p *Details) {
		p.Errors = errs
	}
}

// Write emits a problem+json response. Internal error text leaks only in
// the development and test environments; elsewhere the detail falls back
// to the generic status text.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string, opts ...Option) {
	details := Details{
		Type:   typ,
		Title:  title,
		Status: status,
	}

	for _, opt := range opts {
		opt(&details)
	}

	if details.Detail == "" && err != nil {
		if env == "development" || env == "test" {
			details.Detail = err.Error()
		} else {
			details.Detail = http.StatusText(status)
		}
	}

	if details.Instance == "" && r != nil {
		details.Instance = r.URL.Path
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Err(err).
			Int("status", status).
			Str("type", typ).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(title)
	}

	writeDetails(w, details)
}

// WriteRateLimited emits a 429 with a Retry-After header rounded up to
// whole seconds so clients never retry inside the blocked window.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(retryAfter / time.Second)
	if retryAfter%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeDetails(w, Details{
		Type:     TypeRateLimited,
		Title:    "Too Many Requests",
		Status:   http.StatusTooManyRequests,
		Detail:   fmt.Sprintf("rate limit exceeded, retry after %d seconds", seconds),
		Instance: r.URL.Path,
	})
}

func writeDetails(w http.ResponseWriter, details Details) {
	payload, err := json.Marshal(details)
	if err != nil {
		fallback := fmt.Sprintf("{\"type\":\"about:blank\",\"title\":\"%s\",\"status\":500}", http.StatusText(http.StatusInternalServerError))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallback))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(details.Status)
	_, _ = w.Write(payload)
}
