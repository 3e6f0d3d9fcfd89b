package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLock     Phase = "lock"     // boundary lock acquire/release
	PhaseRegistry Phase = "registry" // value reference registry
	PhaseThread   Phase = "thread"   // spawn/join
	PhaseCondVar  Phase = "condvar"  // condition variable wait/notify
	PhaseMutex    Phase = "mutex"    // script mutex
	PhaseHook     Phase = "hook"     // lifecycle hooks
	PhaseCall     Phase = "call"     // host to interpreter calls
	PhaseLoad     Phase = "load"     // chunk loading
	PhaseConfig   Phase = "config"   // configuration
	PhaseWasm     Phase = "wasm"     // wasm module binding
)

// Kind categorizes the error
type Kind string

const (
	KindPoisoned       Kind = "poisoned"
	KindNotOwner       Kind = "not_owner"
	KindStaleReference Kind = "stale_reference"
	KindDoubleRelease  Kind = "double_release"
	KindTypeMismatch   Kind = "type_mismatch"
	KindAlreadyJoined  Kind = "already_joined"
	KindDestroyed      Kind = "destroyed"
	KindNotCallable    Kind = "not_callable"
	KindScriptFailure  Kind = "script_failure"
	KindClosed         Kind = "closed"
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindLimit          Kind = "limit"
	KindDeadlock       Kind = "deadlock"
	KindInstantiation  Kind = "instantiation"
)

// Sentinels for errors.Is. A sentinel without a Phase matches its Kind in
// any phase.
var (
	ErrPoisoned       = &Error{Phase: PhaseLock, Kind: KindPoisoned}
	ErrNotOwner       = &Error{Kind: KindNotOwner}
	ErrStaleReference = &Error{Phase: PhaseRegistry, Kind: KindStaleReference}
	ErrDoubleRelease  = &Error{Phase: PhaseRegistry, Kind: KindDoubleRelease}
	ErrAlreadyJoined  = &Error{Phase: PhaseThread, Kind: KindAlreadyJoined}
	ErrDestroyed      = &Error{Kind: KindDestroyed}
	ErrClosed         = &Error{Kind: KindClosed}
	ErrScriptFailure  = &Error{Phase: PhaseCall, Kind: KindScriptFailure}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Thread string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Thread != "" {
		b.WriteString(" in ")
		b.WriteString(e.Thread)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. An empty target Phase
// matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return (t.Phase == "" || e.Phase == t.Phase) && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Thread sets the name of the execution context the error belongs to
func (b *Builder) Thread(name string) *Builder {
	b.err.Thread = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Poisoned creates a lock poisoning error
func Poisoned(cause error) *Error {
	return &Error{
		Phase:  PhaseLock,
		Kind:   KindPoisoned,
		Detail: "boundary lock poisoned by abnormal termination of its holder",
		Cause:  cause,
	}
}

// NotOwner creates an error for releasing a lock the caller does not hold
func NotOwner(phase Phase, thread string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotOwner,
		Thread: thread,
		Detail: "caller does not hold the lock",
	}
}

// StaleReference creates a use-after-release error
func StaleReference(ref fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindStaleReference,
		Detail: fmt.Sprintf("reference %s is not live", ref),
		Value:  ref,
	}
}

// DoubleRelease creates an error for releasing a reference twice
func DoubleRelease(ref fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDoubleRelease,
		Detail: fmt.Sprintf("reference %s already released", ref),
		Value:  ref,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// AlreadyJoined creates a thread reuse error
func AlreadyJoined(thread string) *Error {
	return &Error{
		Phase:  PhaseThread,
		Kind:   KindAlreadyJoined,
		Thread: thread,
		Detail: "thread already joined",
	}
}

// Destroyed creates a use-after-destroy error
func Destroyed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDestroyed,
		Detail: fmt.Sprintf("%s destroyed", what),
	}
}

// NotCallable creates an error for a value that cannot be called
func NotCallable(phase Phase, typeName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotCallable,
		Detail: fmt.Sprintf("value of type %s is not callable", typeName),
	}
}

// ScriptFailure wraps a failure raised by interpreted code
func ScriptFailure(thread string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindScriptFailure,
		Thread: thread,
		Cause:  cause,
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Limit creates a resource limit error
func Limit(phase Phase, what string, max int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimit,
		Detail: fmt.Sprintf("%s limit of %d reached", what, max),
		Value:  max,
	}
}

// Deadlock creates an error for a blocking call that could never return
func Deadlock(phase Phase, thread, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDeadlock,
		Thread: thread,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a chunk loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates a wasm instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseWasm,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}
