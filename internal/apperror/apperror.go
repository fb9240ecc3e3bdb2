// Package apperror is the user-visible error taxonomy.
//
// Services return these (wrapped however they like); handlers map the
// sentinel at the bottom of the chain to a status code. Core packages
// (snowflake, auth, permission) have their own sentinels and never import
// this one; services translate at the boundary.
package apperror

import (
	"errors"
	"fmt"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind refines a sentinel into the machine-readable error name clients see,
// e.g. ErrForbidden can be "missing_permissions" or "role_too_low".
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "invalid_field"
	KindAlreadyTaken       Kind = "already_taken"
	KindConflict           Kind = "conflict"
	KindForbidden          Kind = "forbidden"
	KindNotMember          Kind = "not_member"
	KindNotOwner           Kind = "not_owner"
	KindMissingPermissions Kind = "missing_permissions"
	KindRoleTooLow         Kind = "role_too_low"
	KindInvalidToken       Kind = "invalid_token"
	KindInvalidCredentials Kind = "invalid_credentials"
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Kind    Kind   // machine-readable name
	Message string // human-readable message
	Field   string // optional: field causing the error

	// Set for KindMissingPermissions only.
	Permissions model.Permissions
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(entity string, id snowflake.ID) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s with ID %s does not exist", entity, id),
	}
}

// NotFoundCode is NotFound for entities keyed by a string, like invites.
func NotFoundCode(entity, code string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %q does not exist", entity, code),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Kind:    KindValidation,
		Message: message,
		Field:   field,
	}
}

// AlreadyTaken reports a unique value, such as an email, that is in use.
func AlreadyTaken(field, what string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Kind:    KindAlreadyTaken,
		Message: fmt.Sprintf("%s is already taken", what),
		Field:   field,
	}
}

// Conflict reports a state clash that is not about a unique value, such as
// joining a guild twice.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Kind:    KindConflict,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller may not do this.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Kind:    KindForbidden,
		Message: message,
	}
}

func NotMember(guildID snowflake.ID) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Kind:    KindNotMember,
		Message: fmt.Sprintf("You are not a member of guild %s.", guildID),
	}
}

func NotOwner(guildID snowflake.ID) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Kind:    KindNotOwner,
		Message: fmt.Sprintf("You must be the owner of guild %s to do this.", guildID),
	}
}

func MissingPermissions(required model.Permissions) *AppError {
	return &AppError{
		Err:         ErrForbidden,
		Kind:        KindMissingPermissions,
		Message:     "You do not have permission to perform the requested action.",
		Permissions: required,
	}
}

func RoleTooLow(topPosition, desired uint16) *AppError {
	return &AppError{
		Err:  ErrForbidden,
		Kind: KindRoleTooLow,
		Message: fmt.Sprintf(
			"You can only act on roles and members below your top role (position %d, target %d).",
			topPosition, desired,
		),
	}
}

func InvalidToken() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Kind:    KindInvalidToken,
		Message: "Invalid authorization token.",
	}
}

func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Kind:    KindInvalidCredentials,
		Message: "Invalid email or password.",
	}
}
