package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for the broad failure categories shared across packages.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrInternal      = errors.New("internal error")
	ErrUnavailable   = errors.New("service unavailable")
)

// Auth taxonomy sentinels. Handlers and tests match on these with errors.Is;
// the constructors below attach the HTTP mapping.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountBanned      = errors.New("account banned")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeExhausted = errors.New("challenge exhausted")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenReplayed      = errors.New("token replayed")
	ErrRateLimited        = errors.New("rate limited")
)

// AppError is a structured application error carrying a stable code for
// clients and an HTTP status for the transport layer.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`

	// RetryAfter is set on rate-limit and lockout errors so clients get a
	// cooldown hint. Zero means no hint.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unauthorized creates a generic 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Unavailable creates a 503 error for systemic failures (storage or broker
// down). Callers decide whether to retry; nothing retries locally.
func Unavailable(err error) *AppError {
	return &AppError{
		Code:    "UNAVAILABLE",
		Message: "service temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     fmt.Errorf("%w: %w", ErrUnavailable, err),
	}
}

// InvalidCredentials creates the deliberately generic 401 returned for both
// unknown emails and wrong passwords, so responses carry no existence oracle.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "invalid email or password",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

// AccountLocked creates a 401 with a cooldown hint.
func AccountLocked(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       "ACCOUNT_LOCKED",
		Message:    "account is temporarily locked, try again later",
		Status:     http.StatusUnauthorized,
		Err:        ErrAccountLocked,
		RetryAfter: retryAfter,
	}
}

// AccountBanned creates a 403 for banned or deactivated accounts.
func AccountBanned() *AppError {
	return &AppError{
		Code:    "ACCOUNT_BANNED",
		Message: "account is not allowed to sign in",
		Status:  http.StatusForbidden,
		Err:     ErrAccountBanned,
	}
}

// ChallengeExpired creates a 401 for a two-factor challenge past its TTL.
func ChallengeExpired() *AppError {
	return &AppError{
		Code:    "CHALLENGE_EXPIRED",
		Message: "verification challenge expired, sign in again",
		Status:  http.StatusUnauthorized,
		Err:     ErrChallengeExpired,
	}
}

// ChallengeExhausted creates a 401 for a challenge that ran out of attempts.
func ChallengeExhausted() *AppError {
	return &AppError{
		Code:    "CHALLENGE_EXHAUSTED",
		Message: "too many failed verification attempts, sign in again",
		Status:  http.StatusUnauthorized,
		Err:     ErrChallengeExhausted,
	}
}

// TokenInvalid creates a generic 401 for malformed or unknown tokens.
func TokenInvalid() *AppError {
	return &AppError{
		Code:    "TOKEN_INVALID",
		Message: "token is invalid",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenInvalid,
	}
}

// TokenExpired creates a 401 for expired tokens.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "token has expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenExpired,
	}
}

// TokenReplayed creates a 401 for redemption of an already-rotated refresh
// token. By the time this surfaces the whole family has been revoked.
func TokenReplayed() *AppError {
	return &AppError{
		Code:    "TOKEN_REPLAYED",
		Message: "token is no longer valid, sign in again",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenReplayed,
	}
}

// RateLimited creates a 429 with a retry hint.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    "too many requests, slow down",
		Status:     http.StatusTooManyRequests,
		Err:        ErrRateLimited,
		RetryAfter: retryAfter,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenReplayed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAccountBanned):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
