// Package errors holds the error categories shared by the service layer
// and its HTTP and CLI front ends.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Categories. Lower layers keep their own errors; the service tags them
// with one of these so front ends never import store or export packages to
// decide how to report a failure.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

type category struct {
	sentinel error
	status   int
	message  string
}

// categories is ordered: the first match wins.
var categories = []category{
	{ErrInvalidInput, http.StatusBadRequest, "Invalid request"},
	{ErrNotFound, http.StatusNotFound, "Resource not found"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrConflict, http.StatusConflict, "Conflict"},
	{ErrInternal, http.StatusInternalServerError, "Internal server error"},
}

// AppError is an error ready to be reported to a client.
type AppError struct {
	Code    int
	Message string
	Err     error
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

func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Tagged reports whether err already carries a category.
func Tagged(err error) bool {
	for _, c := range categories {
		if errors.Is(err, c.sentinel) {
			return true
		}
	}
	return false
}

// Tag wraps err with sentinel unless err is nil or already categorized.
func Tag(sentinel, err error) error {
	if err == nil || Tagged(err) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// MapError converts err to an AppError. Uncategorized errors become 500s.
func MapError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, c := range categories {
		if errors.Is(err, c.sentinel) {
			return NewAppError(c.status, c.message, err)
		}
	}
	return NewAppError(http.StatusInternalServerError, "Internal server error", err)
}
