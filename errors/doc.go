// Package errors provides structured error types for lua-threads.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the name of the execution context that hit it, a detail
// message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseThread, errors.KindAlreadyJoined).
//		Thread("worker-3").
//		Detail("thread already joined").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AlreadyJoined("worker-3")
//	err := errors.StaleReference(ref)
//
// Misuse (double join, double release, use of a destroyed condition variable) and
// lock poisoning each have a sentinel, so callers can test with the standard
// library:
//
//	if errors.Is(err, lerrors.ErrPoisoned) { ... }
//
// Matching compares Phase and Kind only; ErrClosed, ErrDestroyed and
// ErrNotOwner match their kind in any phase.
package errors
