package errors

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// TaskError is the behaviour shared by every structured error in agentflow.
type TaskError interface {
	error
	Code() ErrorCode
	Category() ErrorCategory
	Retryable() bool
	Metadata() map[string]string
	Unwrap() error
}

// retry overrides the category's retry default when set.
type retry int8

const (
	retryDefault retry = iota
	retryYes
	retryNo
)

func retryOf(b bool) retry {
	if b {
		return retryYes
	}
	return retryNo
}

// Error is a failure raised by a task, a relay or one of their collaborators.
type Error struct {
	code     ErrorCode
	category ErrorCategory
	message  string
	cause    error
	metadata map[string]string
	retry    retry
	at       time.Time
	taskID   string
}

var (
	_ TaskError        = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *Error) Code() ErrorCode { return e.code }

func (e *Error) Category() ErrorCategory { return e.category }

// Retryable reports an explicit WithRetryable choice, or the category default.
func (e *Error) Retryable() bool {
	switch e.retry {
	case retryYes:
		return true
	case retryNo:
		return false
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the attached key-value pairs.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return map[string]string{}
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Unwrap() error { return e.cause }

// Timestamp is when the error was created.
func (e *Error) Timestamp() time.Time { return e.at }

// TaskID is the ID of the task the error came from, or "".
func (e *Error) TaskID() string { return e.taskID }

// wireError is the JSON form. A cause survives a round trip only as text.
type wireError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	At        *time.Time        `json:"timestamp,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		TaskID:    e.taskID,
	}
	if e.cause != nil {
		w.Cause = e.cause.Error()
	}
	if !e.at.IsZero() {
		at := e.at
		w.At = &at
	}
	return codec.Marshal(w)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Error{
		code:     w.Code,
		category: w.Category,
		message:  w.Message,
		metadata: w.Metadata,
		retry:    retryOf(w.Retryable),
		taskID:   w.TaskID,
	}
	if w.Cause != "" {
		e.cause = plainError(w.Cause)
	}
	if w.At != nil {
		e.at = *w.At
	}
	return nil
}

// plainError is a cause restored from JSON.
type plainError string

func (p plainError) Error() string { return string(p) }

// Option adjusts an Error under construction.
type Option func(*Error)

// WithCategory replaces the category derived from the code.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithRetryable pins the retry decision regardless of category.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retry = retryOf(retryable) }
}

// WithMetadata attaches a key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 2)
		}
		e.metadata[key] = value
	}
}

// WithTaskID records the task the error came from.
func WithTaskID(id string) Option {
	return func(e *Error) { e.taskID = id }
}

// WithTimestamp replaces the creation time.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) { e.at = t }
}

// WithCause sets the wrapped error.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

func (e *Error) apply(opts []Option) *Error {
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// New creates an Error whose category is the code's default.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
		at:       time.Now(),
	}
	return e.apply(opts)
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error whose message is the code's description.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// NotStarted reports a run-loop entered on a task that was never started.
func NotStarted(taskID string) *Error {
	return FromCode(ErrCodeNotStarted, WithTaskID(taskID))
}

// InvalidConfig reports rejected configuration.
func InvalidConfig(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidConfig, message, opts...)
}

// Panic converts a recovered value into a PANIC error. A recovered error is
// kept as the cause so errors.Is still matches it.
func Panic(taskID string, recovered interface{}) *Error {
	if cause, ok := recovered.(error); ok {
		return New(ErrCodePanic, "recovered from panic", WithTaskID(taskID), WithCause(cause))
	}
	return New(ErrCodePanic, fmt.Sprintf("recovered from panic: %v", recovered), WithTaskID(taskID))
}
