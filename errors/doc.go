// Package errors provides the structured error taxonomy used by agentflow.
//
// Every failure surfaced by the task runtime carries a code and a category:
//
//   - Transient: the operation may succeed if repeated (timeouts, cancellation)
//   - Permanent: repeating will not help (lifecycle misuse, transform failure)
//   - Internal: a bug or a recovered panic
//
// # Usage
//
// Create an error:
//
//	err := errors.New(errors.ErrCodeNotStarted, "task must be started using Start()")
//
// Wrap an existing error with context:
//
//	wrapped := errors.WrapWithCode(err, errors.ErrCodeTransformFailed, "halving input",
//	    errors.WithTaskID(id))
//
// Inspect a chain:
//
//	if errors.Is(err, errors.ErrCodePanic) { ... }
//
// Errors serialize to JSON, which heartbeat reports use to carry the last
// processing failure of a task.
package errors
