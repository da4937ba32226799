package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an application error. Each kind maps to exactly one HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindUpload
	KindRateLimited
)

// AppError represents an application error
type AppError struct {
	Kind       Kind                `json:"-"`
	Message    string              `json:"message"`
	Fields     map[string][]string `json:"errors,omitempty"`
	RetryAfter time.Duration       `json:"-"`
	Err        error               `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error kind.
// Conflicts are uniqueness violations and are reported like validation failures.
func (e *AppError) Status() int {
	switch e.Kind {
	case KindValidation, KindConflict, KindUpload:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a validation error carrying per-field messages.
func Validation(fields map[string][]string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Message: "the given data was invalid",
		Fields:  fields,
	}
}

// Field builds a validation error for a single field.
func Field(field, message string) *AppError {
	return Validation(map[string][]string{field: {message}})
}

// Conflict reports a uniqueness violation on field.
func Conflict(field, message string, err error) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Message: "the given data was invalid",
		Fields:  map[string][]string{field: {message}},
		Err:     err,
	}
}

// Upload reports a rejected file under the form field it was sent in.
func Upload(field, message string, err error) *AppError {
	return &AppError{
		Kind:    KindUpload,
		Message: "the given data was invalid",
		Fields:  map[string][]string{field: {message}},
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Kind:    KindUnauthorized,
		Message: "unauthenticated",
		Err:     err,
	}
}

// InvalidCredentials is returned by every failed login, whatever the cause.
func InvalidCredentials() *AppError {
	return &AppError{
		Kind:    KindUnauthorized,
		Message: "invalid credentials",
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Kind:    KindForbidden,
		Message: message,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Kind:       KindRateLimited,
		Message:    "too many attempts, please try again later",
		RetryAfter: retryAfter,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// From extracts an *AppError from err. Anything else becomes an internal error.
func From(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Kind == kind
}
