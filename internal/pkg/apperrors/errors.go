package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrValidation   ErrorType = "VALIDATION"
	ErrNotFound     ErrorType = "NOT_FOUND"
	ErrRangeTooWide ErrorType = "RANGE_TOO_WIDE"
	ErrRateLimited  ErrorType = "RATE_LIMITED"
	ErrInternal     ErrorType = "INTERNAL_ERROR"
	ErrUpstream     ErrorType = "UPSTREAM_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewValidation(msg string) *AppError {
	return New(ErrValidation, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func NewRangeTooWide(msg string) *AppError {
	return New(ErrRangeTooWide, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidation, ErrRangeTooWide:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRangeTooWide:
		return "Narrow the date range to 30 days or less."
	case ErrRateLimited:
		return "Retry after a short delay."
	case ErrValidation:
		return "Check the request parameters."
	default:
		return ""
	}
}
