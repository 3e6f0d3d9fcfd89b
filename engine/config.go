package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/metrics"
)

// Config holds configuration for session creation
type Config struct {
	// ID overrides the generated session id.
	ID string

	// Logger overrides the package logger for this session.
	Logger *zap.Logger

	// Recorder receives lock, suspension and registry metrics.
	// nil records nothing.
	Recorder metrics.Recorder

	// WrapHooks decorates the session's lifecycle hooks. The returned Hooks
	// must delegate to the base hooks it was given.
	WrapHooks func(Hooks) Hooks

	// CallStackSize sets the interpreter call stack size per state.
	// 0 means the interpreter default.
	CallStackSize int

	// RegistrySize sets the interpreter data stack size per state.
	// 0 means the interpreter default.
	RegistrySize int

	// MaxRefs caps the number of live value references. 0 means unlimited.
	MaxRefs int

	// SkipOpenLibs leaves the standard libraries unopened.
	SkipOpenLibs bool
}
