package errors

import (
	"context"
	"errors"
	"fmt"
)

// outermost returns the first *Error in err's chain.
func outermost(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap adds context to err and returns nil for a nil err. The result inherits
// code, category, retry decision, metadata and task ID from an *Error in the
// chain. Otherwise context deadlines become TIMEOUT, cancellations CANCELED
// and everything else INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if inner, ok := outermost(err); ok {
		wrapped := &Error{
			code:     inner.code,
			category: inner.category,
			message:  message,
			cause:    err,
			metadata: inner.Metadata(),
			retry:    inner.retry,
			at:       inner.at,
			taskID:   inner.taskID,
		}
		return wrapped.apply(opts)
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under an explicit code. Returns nil for a nil err.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsTaskError returns the first structured error in err's chain, or nil.
func AsTaskError(err error) TaskError {
	if e, ok := outermost(err); ok {
		return e
	}
	return nil
}

// Is reports whether the outermost *Error in the chain has code.
func Is(err error, code ErrorCode) bool {
	e, ok := outermost(err)
	return ok && e.code == code
}

// IsCategory reports whether the outermost *Error in the chain has category.
func IsCategory(err error, category ErrorCategory) bool {
	e, ok := outermost(err)
	return ok && e.category == category
}

// IsRetryable reports whether err is a structured error worth retrying.
func IsRetryable(err error) bool {
	e, ok := outermost(err)
	return ok && e.Retryable()
}

func IsPermanent(err error) bool { return IsCategory(err, CategoryPermanent) }

func IsInternal(err error) bool { return IsCategory(err, CategoryInternal) }

// Code returns the code of the outermost *Error, or "".
func Code(err error) ErrorCode {
	if e, ok := outermost(err); ok {
		return e.code
	}
	return ""
}

// TaskIDOf returns the task ID of the outermost *Error, or "".
func TaskIDOf(err error) string {
	if e, ok := outermost(err); ok {
		return e.taskID
	}
	return ""
}
