package thread

import (
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/boundary"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
)

// Mutex is a script-level mutual exclusion lock. Waiting for it releases
// the boundary lock. A thread that fails while holding it poisons it.
type Mutex struct {
	holder   *boundary.Owner
	queue    []*mutexWaiter
	mu       sync.Mutex
	poisoned bool
}

type mutexWaiter struct {
	owner *boundary.Owner
	ready chan struct{}
}

// tryLock takes the mutex for owner if it is free.
func (mx *Mutex) tryLock(owner *boundary.Owner) bool {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if mx.holder != nil {
		return false
	}
	mx.holder = owner
	return true
}

// unlock hands the mutex to the next waiter. poison marks it poisoned first.
func (mx *Mutex) unlock(owner *boundary.Owner, poison bool) error {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	if mx.holder != owner {
		return errors.NotOwner(errors.PhaseMutex, owner.String())
	}
	if poison {
		mx.poisoned = true
	}

	if len(mx.queue) == 0 {
		mx.holder = nil
		return nil
	}
	w := mx.queue[0]
	mx.queue[0] = nil
	mx.queue = mx.queue[1:]
	mx.holder = w.owner
	close(w.ready)
	return nil
}

// withdraw removes w from the queue. It returns false if the mutex was
// already handed to w.
func (mx *Mutex) withdraw(w *mutexWaiter) bool {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	for i, q := range mx.queue {
		if q == w {
			mx.queue = append(mx.queue[:i], mx.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Poisoned reports whether a holder failed while holding the mutex.
func (mx *Mutex) Poisoned() bool {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	return mx.poisoned
}

// thread.mutex() -> mutex
func (m *Module) newMutex(L *lua.LState) int {
	L.Push(m.newUserData(L, mutexTypeName, &Mutex{}))
	return 1
}

func checkMutex(L *lua.LState, n int) *Mutex {
	ud := L.CheckUserData(n)
	if mx, ok := ud.Value.(*Mutex); ok {
		return mx
	}
	L.ArgError(n, "mutex expected")
	return nil
}

func mutexMethods(m *Module) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"lock":     m.mutexLock,
		"try_lock": m.mutexTryLock,
		"unlock":   m.mutexUnlock,
		"is_poisoned": func(L *lua.LState) int {
			L.Push(lua.LBool(checkMutex(L, 1).Poisoned()))
			return 1
		},
	}
}

// mx:lock()
func (m *Module) mutexLock(L *lua.LState) int {
	mx := checkMutex(L, 1)
	owner := m.owner(L)

	mx.mu.Lock()
	switch mx.holder {
	case owner:
		mx.mu.Unlock()
		raise(L, errors.Deadlock(errors.PhaseMutex, owner.Name(), "mutex already held by caller"))
	case nil:
		mx.holder = owner
		mx.mu.Unlock()
		m.trackHeld(owner, mx)
		return 0
	}
	w := &mutexWaiter{owner: owner, ready: make(chan struct{})}
	mx.queue = append(mx.queue, w)
	mx.mu.Unlock()

	ctx := ctxOf(L)
	got := false
	m.block(L, metrics.SuspendMutex, func() {
		select {
		case <-w.ready:
			got = true
		case <-ctx.Done():
			if !mx.withdraw(w) {
				<-w.ready
				got = true
			}
		}
	})
	if !got {
		interrupted(L, "mutex lock")
	}
	m.trackHeld(owner, mx)
	return 0
}

// mx:try_lock() -> bool
func (m *Module) mutexTryLock(L *lua.LState) int {
	mx := checkMutex(L, 1)
	owner := m.owner(L)
	ok := mx.tryLock(owner)
	if ok {
		m.trackHeld(owner, mx)
	}
	L.Push(lua.LBool(ok))
	return 1
}

// mx:unlock()
func (m *Module) mutexUnlock(L *lua.LState) int {
	mx := checkMutex(L, 1)
	owner := m.owner(L)
	if err := mx.unlock(owner, false); err != nil {
		raise(L, err)
	}
	m.untrackHeld(owner, mx)
	return 0
}

func (m *Module) trackHeld(owner *boundary.Owner, mx *Mutex) {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	set, ok := m.held[owner]
	if !ok {
		set = make(map[*Mutex]struct{})
		m.held[owner] = set
	}
	set[mx] = struct{}{}
}

func (m *Module) untrackHeld(owner *boundary.Owner, mx *Mutex) {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	if set, ok := m.held[owner]; ok {
		delete(set, mx)
		if len(set) == 0 {
			delete(m.held, owner)
		}
	}
}

// releaseHeld unlocks every mutex owner still holds when its thread or
// host state ends, poisoning them if it failed.
func (m *Module) releaseHeld(owner *boundary.Owner, poison bool) {
	m.heldMu.Lock()
	set := m.held[owner]
	delete(m.held, owner)
	m.heldMu.Unlock()

	for mx := range set {
		_ = mx.unlock(owner, poison)
	}
}
