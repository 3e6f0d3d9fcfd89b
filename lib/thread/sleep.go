package thread

import (
	"context"
	"runtime"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/metrics"
)

// ctxOf returns the cancellation context of L. Sub-states inherit the
// session context, so it is done when the session closes.
func ctxOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// thread.sleep(ms)
func (m *Module) sleep(L *lua.LState) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Millisecond))
	if d < 0 {
		d = 0
	}

	ctx := ctxOf(L)
	timer := time.NewTimer(d)
	defer timer.Stop()

	woke := false
	m.block(L, metrics.SuspendSleep, func() {
		select {
		case <-timer.C:
			woke = true
		case <-ctx.Done():
		}
	})
	if !woke {
		interrupted(L, "sleep")
	}
	return 0
}

// thread.yield_now()
func (m *Module) yieldNow(L *lua.LState) int {
	m.block(L, metrics.SuspendYield, runtime.Gosched)
	return 0
}

// thread.id()
func (m *Module) id(L *lua.LState) int {
	L.Push(lua.LNumber(m.owner(L).ID()))
	return 1
}

// thread.name()
func (m *Module) name(L *lua.LState) int {
	L.Push(lua.LString(m.owner(L).Name()))
	return 1
}

// thread.running()
func (m *Module) runningCount(L *lua.LState) int {
	L.Push(lua.LNumber(m.Running()))
	return 1
}
