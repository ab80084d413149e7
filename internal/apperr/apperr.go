// Package apperr defines the error taxonomy shared by the gateway, the tool
// dispatcher and the HTTP surface. Every failure that reaches a caller is
// classified into one Kind; anything unclassified is Internal.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind classifies an error for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindRateLimited
	KindValidation
	KindNotFound
)

// Code returns the stable wire code for k.
func (k Kind) Code() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps k to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. RetryAfter is only set for KindRateLimited.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorizedf builds a KindUnauthorized error.
func Unauthorizedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// RateLimited builds a KindRateLimited error carrying the wait time.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %ds", RetryAfterSeconds(retryAfter)),
		RetryAfter: retryAfter,
	}
}

// Internal wraps err as KindInternal. msg is safe to show callers; err is not.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// PublicMessage returns the message a caller may see for err. Internal
// details never leave the process.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal && e.Message == "" {
			return "internal error"
		}
		return e.Message
	}
	return "internal error"
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// RetryAfterSeconds rounds d up to whole seconds, never below 1.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
