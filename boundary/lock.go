package boundary

import (
	"fmt"
	"sync"
	"time"

	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
)

// Lock is the single mutual-exclusion point in front of a shared
// interpreter. Ownership is handed directly to the longest queued acquirer
// on release, so acquisition is FIFO. The holder may acquire again without
// blocking; each acquire needs a matching release.
//
// A panic escaping With poisons the lock for good: queued and future
// acquisitions fail with errors.ErrPoisoned.
type Lock struct {
	holder   *Owner
	poisoned error
	recorder metrics.Recorder
	queue    []*waiter
	depth    int
	mu       sync.Mutex
}

type waiter struct {
	owner *Owner
	ready chan error
	depth int
}

// New creates an unlocked Lock. A nil recorder records nothing.
func New(recorder metrics.Recorder) *Lock {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Lock{recorder: recorder}
}

// Acquire blocks until owner holds the lock. It fails only when the lock is
// poisoned.
func (l *Lock) Acquire(owner *Owner) error {
	return l.acquire(owner, 1)
}

func (l *Lock) acquire(owner *Owner, depth int) error {
	l.mu.Lock()

	if l.poisoned != nil {
		err := l.poisoned
		l.mu.Unlock()
		return err
	}

	switch l.holder {
	case owner:
		l.depth += depth
		l.mu.Unlock()
		return nil
	case nil:
		l.holder = owner
		l.depth = depth
		l.mu.Unlock()
		return nil
	}

	w := &waiter{owner: owner, depth: depth, ready: make(chan error, 1)}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	start := time.Now()
	err := <-w.ready
	l.recorder.LockWait(time.Since(start))
	return err
}

// Release gives up one level of ownership. When the outermost level is
// released the lock passes to the next queued owner.
func (l *Lock) Release(owner *Owner) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned != nil {
		return l.poisoned
	}
	if l.holder != owner {
		return errors.NotOwner(errors.PhaseLock, owner.String())
	}

	l.depth--
	if l.depth == 0 {
		l.handoff()
	}
	return nil
}

// handoff passes the lock to the head of the queue. Callers hold l.mu.
func (l *Lock) handoff() {
	if len(l.queue) == 0 {
		l.holder = nil
		l.depth = 0
		return
	}

	w := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]

	l.holder = w.owner
	l.depth = w.depth
	w.ready <- nil
}

// With runs fn while holding the lock and releases it on every exit path.
// A panic in fn poisons the lock and is returned as the poison error.
func (l *Lock) With(owner *Owner, fn func() error) (err error) {
	if err := l.Acquire(owner); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = l.Poison(owner, fmt.Errorf("panic in %s: %v", owner, r))
			return
		}
		if rerr := l.Release(owner); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return fn()
}

// Poison marks the lock permanently unusable, fails every queued acquirer
// and returns the poison error. Poisoning an already poisoned lock returns
// the first poison error.
func (l *Lock) Poison(owner *Owner, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned != nil {
		return l.poisoned
	}

	perr := errors.Poisoned(cause)
	perr.Thread = owner.String()
	l.poisoned = perr

	for _, w := range l.queue {
		w.ready <- perr
	}
	l.queue = nil
	l.holder = nil
	l.depth = 0

	return perr
}

// Poisoned returns the poison error, or nil if the lock is healthy.
func (l *Lock) Poisoned() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poisoned
}

// Held reports whether owner currently holds the lock.
func (l *Lock) Held(owner *Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder == owner
}

// Depth returns the re-entrancy depth of owner, zero if it does not hold
// the lock.
func (l *Lock) Depth(owner *Owner) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != owner {
		return 0
	}
	return l.depth
}

// Queued returns the number of owners waiting for the lock.
func (l *Lock) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
