package thread

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/boundary"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/registry"
)

// Status is the lifecycle state of a spawned thread.
type Status int

const (
	StatusRunning Status = iota
	StatusFinished
	StatusJoined
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusJoined:
		return "joined"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Handle is the host side of a thread returned by thread.spawn.
type Handle struct {
	owner   *boundary.Owner
	done    chan struct{}
	token   chan struct{}
	fatal   error
	outcome registry.Ref
	status  Status
	mu      sync.Mutex
}

// outcome is what a finished thread leaves in the registry for its joiner.
type outcome struct {
	err    error
	values []lua.LValue
}

func newHandle(owner *boundary.Owner) *Handle {
	return &Handle{
		owner: owner,
		done:  make(chan struct{}),
		token: make(chan struct{}, 1),
	}
}

// ID returns the thread id.
func (h *Handle) ID() uint64 {
	return h.owner.ID()
}

// Name returns the thread name.
func (h *Handle) Name() string {
	return h.owner.Name()
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Unpark makes the thread's park token available. A parked thread wakes;
// otherwise its next park returns at once. Tokens do not accumulate.
func (h *Handle) Unpark() {
	select {
	case h.token <- struct{}{}:
	default:
	}
}

// Done is closed once the thread has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// finish records the outcome and wakes joiners. fatal is set when the
// thread could not run its body at all.
func (h *Handle) finish(ref registry.Ref, fatal error) {
	h.mu.Lock()
	h.outcome = ref
	h.fatal = fatal
	h.status = StatusFinished
	h.mu.Unlock()
	close(h.done)
}

// claim moves a finished handle to joined and hands out its outcome
// reference. It fails if the handle was already joined or if the thread
// never produced an outcome.
func (h *Handle) claim() (registry.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusJoined {
		return registry.Ref{}, errors.AlreadyJoined(h.owner.Name())
	}
	h.status = StatusJoined
	return h.outcome, h.fatal
}

func (h *Handle) String() string {
	return fmt.Sprintf("thread: %s (%s)", h.owner, h.Status())
}
