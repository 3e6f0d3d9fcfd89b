package thread

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/boundary"
	"github.com/wippyai/lua-threads/metrics"
)

func (m *Module) setToken(owner *boundary.Owner, token chan struct{}) {
	m.tokenMu.Lock()
	m.tokens[owner] = token
	m.tokenMu.Unlock()
}

// parkToken returns the park token of L's execution context. Host contexts
// get one on first use; nothing can unpark them, so they only wake on
// timeout or cancellation.
func (m *Module) parkToken(L *lua.LState) chan struct{} {
	owner := m.sess.OwnerOf(L)
	if owner == nil {
		return make(chan struct{}, 1)
	}

	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	token, ok := m.tokens[owner]
	if !ok {
		token = make(chan struct{}, 1)
		m.tokens[owner] = token
	}
	return token
}

// thread.park([timeout_ms]) -> bool
//
// Consumes the caller's park token, waiting for h:unpark() if it is not
// available. Returns false when the timeout expires first.
func (m *Module) park(L *lua.LState) int {
	token := m.parkToken(L)

	select {
	case <-token:
		L.Push(lua.LTrue)
		return 1
	default:
	}

	var timeout <-chan time.Time
	if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
		d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Millisecond))
		timer := time.NewTimer(max(d, 0))
		defer timer.Stop()
		timeout = timer.C
	}

	ctx := ctxOf(L)
	unparked, expired := false, false
	m.block(L, metrics.SuspendPark, func() {
		select {
		case <-token:
			unparked = true
		case <-timeout:
			expired = true
		case <-ctx.Done():
		}
	})
	if !unparked && !expired {
		interrupted(L, "park")
	}

	L.Push(lua.LBool(unparked))
	return 1
}
