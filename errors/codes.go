package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: a stop that timed out, a cancelled cycle.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: misuse of the task lifecycle, a transform that rejects its input.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: a recovered panic inside a worker hook.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for the task runtime and its collaborators.
const (
	// Transient errors
	ErrCodeTimeout  ErrorCode = "TIMEOUT"  // Operation timed out
	ErrCodeCanceled ErrorCode = "CANCELED" // Operation was canceled

	// Permanent errors
	ErrCodeNotStarted      ErrorCode = "NOT_STARTED"      // Run-loop entered without Start()
	ErrCodeInvalidConfig   ErrorCode = "INVALID_CONFIG"   // Configuration rejected
	ErrCodeTransformFailed ErrorCode = "TRANSFORM_FAILED" // Relay expression failed
	ErrCodeBusClosed       ErrorCode = "BUS_CLOSED"       // Message bus is closed
	ErrCodeDecodeFailed    ErrorCode = "DECODE_FAILED"    // Payload could not be decoded

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeCanceled:
		return CategoryTransient

	case ErrCodeNotStarted, ErrCodeInvalidConfig, ErrCodeTransformFailed,
		ErrCodeBusClosed, ErrCodeDecodeFailed:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:         "operation timed out",
	ErrCodeCanceled:        "operation canceled",
	ErrCodeNotStarted:      "task must be started using Start()",
	ErrCodeInvalidConfig:   "invalid configuration",
	ErrCodeTransformFailed: "relay transform failed",
	ErrCodeBusClosed:       "message bus closed",
	ErrCodeDecodeFailed:    "payload decode failed",
	ErrCodeInternal:        "internal error",
	ErrCodePanic:           "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
