package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tudorilade/events-scheduler/internal/api/problem"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathParam(r *http.Request, key string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.PathValue(key))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, env string, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, env)
		return false
	}
	return true
}

// writeValidationProblem renders validator errors as per-field messages so
// clients can attach them to form inputs.
func writeValidationProblem(w http.ResponseWriter, r *http.Request, err error, env string) {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		fields := make(map[string]string, len(fieldErrors))
		for _, fe := range fieldErrors {
			fields[strings.ToLower(fe.Field())] = validationMessage(fe)
		}
		problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Validation failed", nil, env,
			problem.WithErrors(fields))
		return
	}
	problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Validation failed", err, env)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gtfield":
		return "must be after " + strings.ToLower(fe.Param())
	default:
		return "is invalid"
	}
}
