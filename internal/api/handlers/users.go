package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tudorilade/events-scheduler/internal/api/middleware"
	"github.com/tudorilade/events-scheduler/internal/api/problem"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
)

// UsersHandler serves the authenticated user's own profile.
type UsersHandler struct {
	Users *users.Service
	Env   string
}

func NewUsersHandler(usersService *users.Service, env string) *UsersHandler {
	return &UsersHandler{Users: usersService, Env: env}
}

func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionClaims(r)
	if claims == nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", nil, h.Env)
		return
	}

	user, err := h.Users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Account not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Profile lookup failed", err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, userPayload(user))
}

type updateProfileRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
}

// UpdateMe edits the profile. Changing the email demotes the account to
// unverified and queues a fresh verification message.
func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionClaims(r)
	if claims == nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", nil, h.Env)
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}

	user, err := h.Users.UpdateProfile(r.Context(), claims.Subject, users.ProfileUpdateParams{
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.As(err, &fieldErrors):
			writeValidationProblem(w, r, err, h.Env)
		case errors.Is(err, users.ErrEmailTaken):
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Email already registered", err, h.Env)
		case errors.Is(err, users.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Account not found", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Profile update failed", err, h.Env)
		}
		return
	}

	writeJSON(w, http.StatusOK, userPayload(user))
}

// DeactivateMe disables the account and ends the session.
func (h *UsersHandler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionClaims(r)
	if claims == nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", nil, h.Env)
		return
	}

	if err := h.Users.Deactivate(r.Context(), claims.Subject); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Account not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Deactivation failed", err, h.Env)
		return
	}

	middleware.ClearSessionCookie(w, false)
	w.WriteHeader(http.StatusNoContent)
}
