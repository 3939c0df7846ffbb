package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"arenalink/internal/core/domain"
)

type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidDestination ErrorCode = "INVALID_DESTINATION"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeUnsupported        ErrorCode = "UNSUPPORTED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeSlowConsumer       ErrorCode = "SLOW_CONSUMER"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError is an error safe to show to a client, with the status it maps to.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// GetAppError returns the first AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromDomain maps a core error to its client-facing form. Every token and
// identity failure becomes the same UNAUTHORIZED error so the peer cannot tell
// them apart. Unknown errors map to INTERNAL_ERROR with a generic message.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrTokenMalformed),
		stderrors.Is(err, domain.ErrTokenExpired),
		stderrors.Is(err, domain.ErrTokenBadSignature),
		stderrors.Is(err, domain.ErrIdentityNotFound),
		stderrors.Is(err, domain.ErrUnauthenticated):
		return WrapError(err, ErrCodeUnauthorized, "unauthenticated", http.StatusUnauthorized)
	case stderrors.Is(err, domain.ErrUnauthorizedSend):
		return WrapError(err, ErrCodeForbidden, "destination requires an authenticated session", http.StatusForbidden)
	case stderrors.Is(err, domain.ErrInvalidDestination):
		return WrapError(err, ErrCodeInvalidDestination, "invalid destination", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrInvalidPayload),
		stderrors.Is(err, domain.ErrInvalidNotification):
		return WrapError(err, ErrCodeInvalidInput, "invalid payload", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrUnsupportedCommand),
		stderrors.Is(err, domain.ErrNoApplicationHandler):
		return WrapError(err, ErrCodeUnsupported, "unsupported operation", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrAccountNotFound),
		stderrors.Is(err, domain.ErrSessionNotFound):
		return WrapError(err, ErrCodeNotFound, "not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrSessionExists):
		return WrapError(err, ErrCodeConflict, "conflict", http.StatusConflict)
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
