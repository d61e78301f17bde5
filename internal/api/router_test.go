package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/auth"
	"github.com/tudorilade/events-scheduler/internal/config"
	"github.com/tudorilade/events-scheduler/internal/domain/events"
	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
)

type testEnv struct {
	router http.Handler
	queue  *captureQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	userRepo := newMemUserRepo()
	tokenRepo := newMemTokenRepo(userRepo)
	eventRepo := newMemEventRepo()
	queue := &captureQueue{}

	logger := zerolog.Nop()
	tokenService := tokens.NewService(tokenRepo, logger)
	userService := users.NewService(userRepo, tokenService, queue, time.Hour, time.Hour, logger)
	eventService := events.NewService(eventRepo, logger)

	cfg := config.Config{
		Environment: "test",
		Auth: config.AuthConfig{
			JWTSecret: "router-test-secret",
			JWTExpiry: config.Duration(time.Hour),
		},
	}

	router := NewRouter(cfg, Dependencies{
		Users:   userService,
		Events:  eventService,
		JWT:     auth.NewJWTManager(cfg.Auth.JWTSecret, time.Hour, "events-scheduler"),
		Version: "test",
	}, logger)

	return &testEnv{router: router, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email, password, fullName string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     email,
		"password":  password,
		"full_name": fullName,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) login(t *testing.T, email, password string) []*http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login response set no session cookie")
	}
	return cookies
}

func (e *testEnv) verifiedSession(t *testing.T, email, password, fullName string) []*http.Cookie {
	t.Helper()
	e.register(t, email, password, fullName)
	rec := e.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+e.queue.lastVerificationToken(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-email: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return e.login(t, email, password)
}

func TestRegisterLoginVerifyFlow(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "alice@example.com", "s3cret-password", "Alice")

	// Duplicate registration conflicts.
	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     "alice@example.com",
		"password":  "s3cret-password",
		"full_name": "Alice Again",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register: status = %d, want 409", rec.Code)
	}

	cookies := env.login(t, "alice@example.com", "s3cret-password")

	// Unverified accounts may not create events.
	rec = env.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"title":     "Meetup",
		"starts_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"ends_at":   time.Now().Add(26 * time.Hour).Format(time.RFC3339),
	}, cookies)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unverified create: status = %d, want 403", rec.Code)
	}

	token := env.queue.lastVerificationToken()
	if token == "" {
		t.Fatal("registration queued no verification token")
	}
	rec = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-email: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The token is single-use.
	rec = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+token, nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("reused token: status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token=bogus-token", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown token: status = %d, want 404", rec.Code)
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "s3cret-password", "Alice")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown email: status = %d, want 401", rec.Code)
	}
}

func TestEventLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner := env.verifiedSession(t, "owner@example.com", "owner-password", "Owner")

	starts := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	rec := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"title":       "Go meetup",
		"description": "Talks and pizza",
		"starts_at":   starts.Format(time.RFC3339),
		"ends_at":     starts.Add(2 * time.Hour).Format(time.RFC3339),
		"capacity":    2,
	}, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	eventID, _ := created["id"].(string)
	if eventID == "" {
		t.Fatal("create response missing id")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/events/"+eventID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/events/"+eventID, map[string]any{
		"title": "Go meetup (rescheduled)",
	}, owner)
	if rec.Code != http.StatusOK {
		t.Errorf("update: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Someone else cannot edit.
	other := env.verifiedSession(t, "other@example.com", "other-password", "Other")
	rec = env.do(t, http.MethodPatch, "/api/v1/events/"+eventID, map[string]any{
		"title": "Hijacked",
	}, other)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner update: status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/events/"+eventID, nil, owner)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/events/"+eventID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestParticipationFlow(t *testing.T) {
	env := newTestEnv(t)
	owner := env.verifiedSession(t, "owner@example.com", "owner-password", "Owner")

	starts := time.Now().Add(24 * time.Hour)
	rec := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"title":     "Small workshop",
		"starts_at": starts.Format(time.RFC3339),
		"ends_at":   starts.Add(time.Hour).Format(time.RFC3339),
		"capacity":  1,
	}, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	eventID, _ := created["id"].(string)

	guest := env.verifiedSession(t, "guest@example.com", "guest-password", "Guest")

	rec = env.do(t, http.MethodPost, "/api/v1/events/"+eventID+"/participation", nil, guest)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("join: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Duplicate join conflicts.
	rec = env.do(t, http.MethodPost, "/api/v1/events/"+eventID+"/participation", nil, guest)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate join: status = %d, want 409", rec.Code)
	}

	// Capacity 1 is full for the next guest.
	late := env.verifiedSession(t, "late@example.com", "late-password", "Late")
	rec = env.do(t, http.MethodPost, "/api/v1/events/"+eventID+"/participation", nil, late)
	if rec.Code != http.StatusConflict {
		t.Errorf("join full event: status = %d, want 409", rec.Code)
	}

	// joined=true filter shows the event for the participant only.
	rec = env.do(t, http.MethodGet, "/api/v1/events?joined=true", nil, guest)
	if rec.Code != http.StatusOK {
		t.Fatalf("list joined: status = %d", rec.Code)
	}
	var listing struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &listing)
	if len(listing.Items) != 1 {
		t.Errorf("joined list has %d items, want 1", len(listing.Items))
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/events/"+eventID+"/participation", nil, guest)
	if rec.Code != http.StatusNoContent {
		t.Errorf("withdraw: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/events/"+eventID+"/participation", nil, guest)
	if rec.Code != http.StatusConflict {
		t.Errorf("double withdraw: status = %d, want 409", rec.Code)
	}

	// Anonymous requests are rejected.
	rec = env.do(t, http.MethodPost, "/api/v1/events/"+eventID+"/participation", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous join: status = %d, want 401", rec.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "original-password", "Alice")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/password-reset", map[string]string{
		"email": "alice@example.com",
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("request reset: status = %d", rec.Code)
	}

	// Unknown addresses get the same answer.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset", map[string]string{
		"email": "nobody@example.com",
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("unknown email reset: status = %d, want 202", rec.Code)
	}

	token := env.queue.lastResetToken()
	if token == "" {
		t.Fatal("reset request queued no token")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/password-reset/confirm", map[string]string{
		"token":        token,
		"new_password": "brand-new-password",
	}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("confirm reset: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Old password no longer works, new one does.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "original-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("old password: status = %d, want 401", rec.Code)
	}
	env.login(t, "alice@example.com", "brand-new-password")
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t)
	session := env.verifiedSession(t, "alice@example.com", "s3cret-password", "Alice")

	rec := env.do(t, http.MethodGet, "/api/v1/users/me", nil, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status = %d", rec.Code)
	}
	var profile map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &profile)
	if profile["email"] != "alice@example.com" {
		t.Errorf("email = %v", profile["email"])
	}
	if profile["is_verified"] != true {
		t.Error("expected verified profile")
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/users/me", map[string]string{
		"full_name": "Alice Cooper",
	}, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("update me: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Changing email demotes verification and queues a new token.
	rec = env.do(t, http.MethodPatch, "/api/v1/users/me", map[string]string{
		"email": "alice.cooper@example.com",
	}, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("change email: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &profile)
	if profile["is_verified"] != false {
		t.Error("email change must reset verification")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/users/me", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous me: status = %d, want 401", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/v1/auth/login", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "POST" {
		t.Errorf("Allow = %q, want POST", allow)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/events", nil, nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestValidationErrorsAreFielded(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     "not-an-email",
		"password":  "short",
		"full_name": "",
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}

	var details struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("unmarshal problem: %v", err)
	}
	for _, field := range []string{"email", "password", "fullname"} {
		if details.Errors[field] == "" {
			t.Errorf("missing field error for %q in %v", field, details.Errors)
		}
	}
}

func TestRegisterPasswordOverBcryptLimit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     "alice@example.com",
		"password":  strings.Repeat("a", 100),
		"full_name": "Alice",
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}

	var details struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("unmarshal problem: %v", err)
	}
	if details.Errors["password"] == "" {
		t.Errorf("missing field error for password in %v", details.Errors)
	}
}

func TestLogoutRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.verifiedSession(t, "alice@example.com", "s3cret-password", "Alice")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous logout: status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, session)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status = %d", rec.Code)
	}
	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "scheduler_session" && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the session cookie")
	}
}

func TestResendVerificationReplacesToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "s3cret-password", "Alice")
	first := env.queue.lastVerificationToken()
	session := env.login(t, "alice@example.com", "s3cret-password")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/resend-verification", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous resend: status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/resend-verification", nil, session)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("resend: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	second := env.queue.lastVerificationToken()
	if second == "" || second == first {
		t.Fatal("resend did not queue a fresh token")
	}

	// The superseded link is dead; only the newest one verifies.
	rec = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+first, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("superseded token: status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+second, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh token: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/resend-verification", nil, session)
	if rec.Code != http.StatusConflict {
		t.Errorf("resend for verified account: status = %d, want 409", rec.Code)
	}
}

func TestUpdateCapacityBelowParticipants(t *testing.T) {
	env := newTestEnv(t)
	owner := env.verifiedSession(t, "owner@example.com", "owner-password", "Owner")

	starts := time.Now().Add(24 * time.Hour)
	rec := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"title":     "Climbing intro",
		"starts_at": starts.Format(time.RFC3339),
		"ends_at":   starts.Add(time.Hour).Format(time.RFC3339),
		"capacity":  2,
	}, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	eventID, _ := created["id"].(string)

	for _, guest := range []string{"g1@example.com", "g2@example.com"} {
		session := env.verifiedSession(t, guest, "guest-password", "Guest")
		rec = env.do(t, http.MethodPost, "/api/v1/events/"+eventID+"/participation", nil, session)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("join %s: status = %d", guest, rec.Code)
		}
	}

	// Two participants hold their slots: capacity cannot drop under them.
	rec = env.do(t, http.MethodPatch, "/api/v1/events/"+eventID, map[string]any{
		"capacity": 1,
	}, owner)
	if rec.Code != http.StatusConflict {
		t.Errorf("lower capacity below participants: status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/events/"+eventID, nil, nil)
	var fetched map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &fetched)
	if fetched["capacity"] != float64(2) {
		t.Errorf("capacity after rejected update = %v, want 2", fetched["capacity"])
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/events/"+eventID, map[string]any{
		"capacity": 2,
	}, owner)
	if rec.Code != http.StatusOK {
		t.Errorf("capacity equal to participants: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestEventDetailJoinedFlag(t *testing.T) {
	env := newTestEnv(t)
	owner := env.verifiedSession(t, "owner@example.com", "owner-password", "Owner")

	starts := time.Now().Add(24 * time.Hour)
	rec := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"title":     "Picnic",
		"starts_at": starts.Format(time.RFC3339),
		"ends_at":   starts.Add(time.Hour).Format(time.RFC3339),
	}, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	eventID, _ := created["id"].(string)

	guest := env.verifiedSession(t, "guest@example.com", "guest-password", "Guest")
	rec = env.do(t, http.MethodPost, "/api/v1/events/"+eventID+"/participation", nil, guest)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("join: status = %d", rec.Code)
	}

	get := func(cookies []*http.Cookie) map[string]any {
		rec := env.do(t, http.MethodGet, "/api/v1/events/"+eventID, nil, cookies)
		if rec.Code != http.StatusOK {
			t.Fatalf("get: status = %d", rec.Code)
		}
		var payload map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &payload)
		return payload
	}

	if payload := get(guest); payload["joined"] != true {
		t.Errorf("participant detail joined = %v, want true", payload["joined"])
	}
	if payload := get(owner); payload["joined"] != false {
		t.Errorf("non-participant detail joined = %v, want false", payload["joined"])
	}
	if payload := get(nil); payload["joined"] != nil {
		t.Errorf("anonymous detail has joined = %v, want absent", payload["joined"])
	}
}
