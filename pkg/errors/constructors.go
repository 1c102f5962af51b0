package errors

import (
	"context"
	"errors"
	"fmt"
)

// New creates an Error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err. It returns nil when err is nil so
// it can be used directly in return statements:
//
//	return errors.Wrap(client.Set(ctx, key, doc, ttl).Err(), errors.CodeInternalStorage, "redis: save snapshot")
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Unauthenticated creates an umbrella authentication error. Verifier
// failures use the more specific AUTH codes; this one is for requests that
// carried no token at all.
func Unauthenticated(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates the error returned when a verified principal lacks a
// required permission.
func Forbidden(message string) *Error {
	return New(CodeAuthorizationDenied, message)
}

func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError converts any error to an *Error. Existing *Error values in the
// chain are returned as-is, context deadlines become timeouts, and anything
// else is wrapped as an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, CodeTimeout, "operation timed out")
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
