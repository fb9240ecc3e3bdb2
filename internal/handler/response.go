package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//   {"error": "missing_permissions", "message": "...", "permissions": 8192}
//
// "error" is the apperror Kind, so clients can branch on it without parsing
// the message. "field" is set for validation errors and "permissions" for
// missing permissions; both are omitted otherwise.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	Field       string            `json:"field,omitempty"`
	Permissions model.Permissions `json:"permissions,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set BEFORE writing the body; once Encode writes,
// any header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// The status is already sent; logging is all that's left.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a service error to an HTTP status and sends it.
//
// errors.Is walks the whole chain, so a service may wrap an AppError as
// often as it likes:
//
//	fmt.Errorf("service/guild: loading role: %w", apperror.NotFound(...))
//	→ AppError{Err: ErrNotFound} → 404
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Never echo internal errors; they can carry SQL or file paths.
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
	}

	writeJSON(w, status, ErrorResponse{
		Error:       string(appErr.Kind),
		Message:     appErr.Message,
		Field:       appErr.Field,
		Permissions: appErr.Permissions,
	})
}

// =========================================================================
// REQUEST DECODING
// =========================================================================

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON decodes the body into dst and validates it.
//
// Unknown fields are rejected so a typo in a field name fails loudly
// instead of silently using the zero value.
func decodeJSON(r *http.Request, v *validator.Validate, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}

	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperror.ValidationFailed(fe.Field(), validationMessage(fe))
		}
		return apperror.ValidationFailed("body", err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "invalid email format"
	case "min", "max", "len":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed the %q check", fe.Field(), fe.Tag())
	}
}

// idParam reads a snowflake from a chi URL parameter.
func idParam(r *http.Request, name string) (snowflake.ID, error) {
	id, err := snowflake.Parse(chi.URLParam(r, name))
	if err != nil {
		return 0, apperror.ValidationFailed(name, "invalid snowflake")
	}
	return id, nil
}

// currentUser returns the authenticated caller. Routes using it sit behind
// auth.RequireAuth, so a missing identity is a wiring bug.
func currentUser(r *http.Request) (snowflake.ID, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return 0, apperror.InvalidToken()
	}
	return id, nil
}
