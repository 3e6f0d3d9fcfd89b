package thread

import (
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
	"github.com/wippyai/lua-threads/registry"
)

// CondVar is a condition variable with payload delivery. Waiters are woken
// in arrival order. A notification with no waiter queued is dropped.
type CondVar struct {
	waiters []*cvWaiter
	mu      sync.Mutex
	closed  bool
}

type cvWaiter struct {
	ch chan delivery
}

type delivery struct {
	ref       registry.Ref
	destroyed bool
}

// enqueue adds a waiter. It fails if the condition variable is closed.
func (cv *CondVar) enqueue() (*cvWaiter, bool) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.closed {
		return nil, false
	}
	w := &cvWaiter{ch: make(chan delivery, 1)}
	cv.waiters = append(cv.waiters, w)
	return w, true
}

// withdraw removes w from the queue. It returns false if a notifier already
// dequeued w, in which case a delivery is waiting on w.ch.
func (cv *CondVar) withdraw(w *cvWaiter) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for i, q := range cv.waiters {
		if q == w {
			cv.waiters = append(cv.waiters[:i], cv.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// notify delivers payload to at most n waiters (all of them if n < 0) and
// returns how many were woken. Each delivery gets its own reference.
func (cv *CondVar) notify(refs *registry.Registry, payload lua.LValue, n int) (int, error) {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	if cv.closed {
		return 0, errors.Destroyed(errors.PhaseCondVar, "condvar")
	}
	if n < 0 || n > len(cv.waiters) {
		n = len(cv.waiters)
	}

	for i := 0; i < n; i++ {
		ref, err := refs.Insert(registry.KindPayload, payload)
		if err != nil {
			return i, err
		}
		w := cv.waiters[0]
		cv.waiters[0] = nil
		cv.waiters = cv.waiters[1:]
		w.ch <- delivery{ref: ref}
	}
	return n, nil
}

// close wakes every queued waiter with a destroyed delivery and returns how
// many there were.
func (cv *CondVar) close() int {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.closed {
		return 0
	}
	cv.closed = true
	n := len(cv.waiters)
	for _, w := range cv.waiters {
		w.ch <- delivery{destroyed: true}
	}
	cv.waiters = nil
	return n
}

// Waiting returns the number of queued waiters.
func (cv *CondVar) Waiting() int {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return len(cv.waiters)
}

// thread.condvar() -> cv
func (m *Module) newCondVar(L *lua.LState) int {
	L.Push(m.newUserData(L, condVarTypeName, &CondVar{}))
	return 1
}

func checkCondVar(L *lua.LState, n int) *CondVar {
	ud := L.CheckUserData(n)
	if cv, ok := ud.Value.(*CondVar); ok {
		return cv
	}
	L.ArgError(n, "condvar expected")
	return nil
}

func condVarMethods(m *Module) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"wait":       m.cvWait,
		"notify_one": m.cvNotifyOne,
		"notify_all": m.cvNotifyAll,
		"waiting": func(L *lua.LState) int {
			L.Push(lua.LNumber(checkCondVar(L, 1).Waiting()))
			return 1
		},
		"close": m.cvClose,
	}
}

// cv:wait([timeout_ms]) -> payload, or nothing on timeout
func (m *Module) cvWait(L *lua.LState) int {
	cv := checkCondVar(L, 1)

	var timeout <-chan time.Time
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		d := time.Duration(float64(L.CheckNumber(2)) * float64(time.Millisecond))
		timer := time.NewTimer(max(d, 0))
		defer timer.Stop()
		timeout = timer.C
	}

	// Enqueue before the lock is released so that a notifier, which needs
	// the lock to run, always finds this waiter.
	w, ok := cv.enqueue()
	if !ok {
		raise(L, errors.Destroyed(errors.PhaseCondVar, "condvar"))
	}

	ctx := ctxOf(L)
	var d delivery
	got := false
	m.block(L, metrics.SuspendWait, func() {
		select {
		case d = <-w.ch:
			got = true
		case <-timeout:
		case <-ctx.Done():
		}
		if !got && !cv.withdraw(w) {
			d = <-w.ch
			got = true
		}
	})

	if !got {
		if ctx.Err() != nil {
			interrupted(L, "wait")
		}
		return 0
	}
	if d.destroyed {
		raise(L, errors.Destroyed(errors.PhaseCondVar, "condvar"))
	}

	v, err := m.sess.Refs().Take(d.ref)
	if err != nil {
		raise(L, err)
	}
	L.Push(v.(lua.LValue))
	return 1
}

// cv:notify_one(payload) -> number woken (0 or 1)
func (m *Module) cvNotifyOne(L *lua.LState) int {
	return m.cvNotify(L, 1)
}

// cv:notify_all(payload) -> number woken
func (m *Module) cvNotifyAll(L *lua.LState) int {
	return m.cvNotify(L, -1)
}

func (m *Module) cvNotify(L *lua.LState, n int) int {
	cv := checkCondVar(L, 1)
	woken, err := cv.notify(m.sess.Refs(), L.Get(2), n)
	if err != nil {
		raise(L, err)
	}
	L.Push(lua.LNumber(woken))
	return 1
}

// cv:close() -> number of abandoned waiters
func (m *Module) cvClose(L *lua.LState) int {
	n := checkCondVar(L, 1).close()
	if n > 0 {
		m.log.Warn("condvar closed with waiters queued",
			zap.Int("waiters", n),
			zap.Stringer("by", m.owner(L)))
	}
	L.Push(lua.LNumber(n))
	return 1
}
