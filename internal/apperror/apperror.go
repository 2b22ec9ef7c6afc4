// Package apperror defines the application's error taxonomy.
//
// Every error that crosses a layer boundary is (or wraps) an *AppError whose
// Err field is one of the sentinels below. Handlers use errors.Is on the
// sentinel to pick a status code and AppError.Message for the user-facing
// text, so storage details never reach a client.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrDuplicateCategory = fmt.Errorf("duplicate category: %w", ErrConflict)
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOAuth             = errors.New("oauth failure")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// DuplicateCategory reports that name collides with an existing category
// under the case-insensitive substring rule.
func DuplicateCategory(name string) *AppError {
	return &AppError{
		Err:     ErrDuplicateCategory,
		Message: fmt.Sprintf("Category named %s already exists", name),
		Field:   "name",
	}
}

// Unauthorized is the single credential failure. The message is the same
// whether the username is unknown or the password is wrong.
func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "Invalid username or password.",
	}
}

// OAuthFailed reports a third-party login failure. reason is one of the
// short machine-ish phrases ("no token", "profile fetch failed").
func OAuthFailed(reason string) *AppError {
	return &AppError{
		Err:     ErrOAuth,
		Message: reason,
	}
}
