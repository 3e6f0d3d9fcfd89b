package thread

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
	"github.com/wippyai/lua-threads/registry"
)

// thread.spawn(f [, name]) -> handle
func (m *Module) spawn(L *lua.LState) int {
	fn := L.CheckFunction(1)
	name := L.OptString(2, "")

	if limit := m.opts.MaxThreads; limit > 0 && int(m.running.Load()) >= limit {
		raise(L, errors.Limit(errors.PhaseThread, "thread", limit))
	}

	owner := m.sess.NewOwner(name)

	fnRef, err := m.sess.Refs().Insert(registry.KindFunction, fn)
	if err != nil {
		raise(L, err)
	}

	st, err := m.sess.Open(owner)
	if err != nil {
		_ = m.sess.Refs().Release(fnRef)
		raise(L, err)
	}

	h := newHandle(owner)
	m.setToken(owner, h.token)
	m.running.Add(1)
	m.sess.Recorder().ThreadSpawned()

	if err := m.sess.Go(func() { m.run(st, h, fnRef) }); err != nil {
		m.running.Add(-1)
		m.sess.Recorder().ThreadFinished(true)
		m.sess.CloseState(st)
		_ = m.sess.Refs().Release(fnRef)
		raise(L, err)
	}

	m.log.Debug("thread spawned",
		zap.Uint64("id", owner.ID()),
		zap.String("name", owner.Name()))

	L.Push(m.newUserData(L, handleTypeName, h))
	return 1
}

// run is the body of a spawned thread's goroutine.
func (m *Module) run(st *engine.State, h *Handle, fnRef registry.Ref) {
	refs := m.sess.Refs()
	released := false
	failed := false
	var outRef registry.Ref

	err := m.sess.Exec(st.L, func(L *lua.LState) error {
		v, err := refs.GetTyped(fnRef, registry.KindFunction)
		if err != nil {
			return err
		}

		values, callErr := m.sess.CallFunction(L, v.(*lua.LFunction))
		failed = callErr != nil

		outRef, err = refs.Insert(registry.KindOutcome, &outcome{values: values, err: callErr})
		if err != nil {
			return err
		}

		released = true
		if err := refs.Release(fnRef); err != nil {
			return err
		}

		m.releaseHeld(h.owner, failed)

		if callErr != nil {
			m.log.Debug("thread failed",
				zap.Uint64("id", h.ID()),
				zap.String("name", h.Name()),
				zap.Error(callErr))
		}
		return nil
	})

	m.sess.CloseState(st)

	if err != nil {
		failed = true
		if !released {
			_ = refs.Release(fnRef)
		}
		if !outRef.IsZero() {
			_ = refs.Release(outRef)
			outRef = registry.Ref{}
		}
		m.releaseHeld(h.owner, true)
		m.log.Warn("thread terminated without a result",
			zap.Uint64("id", h.ID()),
			zap.String("name", h.Name()),
			zap.Error(err))
	}

	m.running.Add(-1)
	m.sess.Recorder().ThreadFinished(failed)
	h.finish(outRef, err)
}

// h:join() / thread.join(h) -> results...
func (m *Module) join(L *lua.LState) int {
	h := checkHandle(L, 1)

	if m.sess.OwnerOf(L) == h.owner {
		raise(L, errors.Deadlock(errors.PhaseThread, h.Name(), "thread cannot join itself"))
	}

	select {
	case <-h.done:
	default:
		ctx := ctxOf(L)
		finished := false
		m.block(L, metrics.SuspendJoin, func() {
			select {
			case <-h.done:
				finished = true
			case <-ctx.Done():
			}
		})
		if !finished {
			interrupted(L, "join")
		}
	}

	ref, err := h.claim()
	if err != nil {
		raise(L, err)
	}

	v, err := m.sess.Refs().Take(ref)
	if err != nil {
		raise(L, err)
	}
	out := v.(*outcome)

	if out.err != nil {
		if value, ok := engine.FailureValue(out.err); ok {
			L.Error(value, 0)
		}
		raise(L, out.err)
	}

	for _, value := range out.values {
		L.Push(value)
	}
	return len(out.values)
}

func checkHandle(L *lua.LState, n int) *Handle {
	ud := L.CheckUserData(n)
	if h, ok := ud.Value.(*Handle); ok {
		return h
	}
	L.ArgError(n, "thread handle expected")
	return nil
}

func handleMethods(m *Module) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"join": m.join,
		"status": func(L *lua.LState) int {
			L.Push(lua.LString(checkHandle(L, 1).Status().String()))
			return 1
		},
		"is_finished": func(L *lua.LState) int {
			L.Push(lua.LBool(checkHandle(L, 1).Status() != StatusRunning))
			return 1
		},
		"unpark": func(L *lua.LState) int {
			checkHandle(L, 1).Unpark()
			return 0
		},
	}
}

// handleIndex serves the name, id and handle fields and falls back to the
// method table held in the first upvalue.
func (m *Module) handleIndex(L *lua.LState) int {
	h := checkHandle(L, 1)
	switch key := L.CheckString(2); key {
	case "name":
		L.Push(lua.LString(h.Name()))
	case "id":
		L.Push(lua.LNumber(h.ID()))
	case "handle":
		// Opaque, stable for the handle's lifetime.
		L.Push(lua.LNumber(reflect.ValueOf(h).Pointer()))
	default:
		methods := L.Get(lua.UpvalueIndex(1)).(*lua.LTable)
		L.Push(methods.RawGetString(key))
	}
	return 1
}

func handleString(L *lua.LState) int {
	L.Push(lua.LString(checkHandle(L, 1).String()))
	return 1
}
