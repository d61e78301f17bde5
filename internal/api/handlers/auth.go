package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tudorilade/events-scheduler/internal/api/middleware"
	"github.com/tudorilade/events-scheduler/internal/api/problem"
	"github.com/tudorilade/events-scheduler/internal/auth"
	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
)

// AuthHandler serves registration, login, email verification, and password
// reset. Successful logins set the session cookie; the token is also
// returned in the body for non-browser clients.
type AuthHandler struct {
	Users         *users.Service
	JWT           *auth.JWTManager
	Env           string
	SecureCookies bool
}

func NewAuthHandler(usersService *users.Service, jwtManager *auth.JWTManager, env string, secureCookies bool) *AuthHandler {
	return &AuthHandler{Users: usersService, JWT: jwtManager, Env: env, SecureCookies: secureCookies}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}

	user, err := h.Users.Register(r.Context(), users.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.As(err, &fieldErrors):
			writeValidationProblem(w, r, err, h.Env)
		case errors.Is(err, users.ErrEmailTaken):
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Email already registered", err, h.Env)
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrPasswordTooLong):
			writeValidationProblem(w, r, err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Registration failed", err, h.Env)
		}
		return
	}

	writeJSON(w, http.StatusCreated, userPayload(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User  map[string]any `json:"user"`
	Token string         `json:"token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}

	user, err := h.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidCredentials):
			problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid email or password", err, h.Env)
		case errors.Is(err, users.ErrDisabled):
			problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Account is disabled", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Login failed", err, h.Env)
		}
		return
	}

	token, err := h.JWT.Generate(user.ID, user.Email, user.IsVerified)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Login failed", err, h.Env)
		return
	}

	middleware.SetSessionCookie(w, token, h.JWT.Expiry(), h.SecureCookies)
	writeJSON(w, http.StatusOK, loginResponse{User: userPayload(user), Token: token})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, h.SecureCookies)
	w.WriteHeader(http.StatusNoContent)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmail consumes a verification token. The token may arrive in the
// body or, for clicked email links, in the query string.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tokenValue := r.URL.Query().Get("token")
	if tokenValue == "" {
		var req tokenRequest
		if !decodeJSON(w, r, h.Env, &req) {
			return
		}
		tokenValue = req.Token
	}
	if tokenValue == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Missing token", nil, h.Env)
		return
	}

	user, err := h.Users.VerifyEmail(r.Context(), tokenValue)
	if err != nil {
		h.writeTokenProblem(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userPayload(user))
}

type emailRequest struct {
	Email string `json:"email"`
}

// ResendVerification queues the verification email again for the session's
// account.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionClaims(r)
	if claims == nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", auth.ErrMissingToken, h.Env)
		return
	}

	if err := h.Users.ResendVerification(r.Context(), claims.Subject); err != nil {
		if errors.Is(err, users.ErrAlreadyVerified) {
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Email already verified", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Resend failed", err, h.Env)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// RequestPasswordReset always answers 202 so the endpoint cannot be used to
// probe which addresses have accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}

	if err := h.Users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Password reset failed", err, h.Env)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}
	if req.Token == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Missing token", nil, h.Env)
		return
	}

	if err := h.Users.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			writeValidationProblem(w, r, err, h.Env)
			return
		}
		h.writeTokenProblem(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeTokenProblem maps token validation failures. Expiry is reported
// before consumption, and an unknown token is indistinguishable from a
// deleted one.
func (h *AuthHandler) writeTokenProblem(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tokens.ErrExpired):
		problem.Write(w, r, http.StatusGone, problem.TypeConflict, "Token expired", err, h.Env)
	case errors.Is(err, tokens.ErrConsumed):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Token already used", err, h.Env)
	case errors.Is(err, tokens.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Invalid token", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Token validation failed", err, h.Env)
	}
}

func userPayload(user *users.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"full_name":   user.FullName,
		"is_verified": user.IsVerified,
		"created_at":  user.CreatedAt,
	}
}
