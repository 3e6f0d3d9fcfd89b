package engine

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/registry"
)

// Call invokes the function behind ref on L and returns every value it
// produced. The boundary lock is taken through the hooks for the duration
// of the call, re-entrantly if L's owner already holds it.
//
// A failure raised by the function comes back as an errors.ErrScriptFailure
// whose cause is the interpreter's *lua.ApiError, carrying the raised value
// unchanged.
func (s *Session) Call(L *lua.LState, ref registry.Ref, args ...lua.LValue) ([]lua.LValue, error) {
	var results []lua.LValue
	err := s.Exec(L, func(L *lua.LState) error {
		v, err := s.refs.GetTyped(ref, registry.KindFunction)
		if err != nil {
			return err
		}
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return errors.NotCallable(errors.PhaseCall, typeName(v))
		}

		results, err = s.CallFunction(L, fn, args...)
		return err
	})
	return results, err
}

// CallFunction calls fn on L in protected mode and collects all of its
// results. The caller must already hold the boundary lock for L.
func (s *Session) CallFunction(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	base := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...); err != nil {
		return nil, errors.ScriptFailure(s.threadName(L), err)
	}

	n := L.GetTop() - base
	results := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = L.Get(base + 1 + i)
	}
	L.SetTop(base)
	return results, nil
}

// FailureValue extracts the value a script raised from an error returned by
// Call or CallFunction. ok is false for errors that did not originate in
// script code.
func FailureValue(err error) (lua.LValue, bool) {
	for err != nil {
		if apiErr, ok := err.(*lua.ApiError); ok {
			return apiErr.Object, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func (s *Session) threadName(L *lua.LState) string {
	if owner := s.OwnerOf(L); owner != nil {
		return owner.Name()
	}
	return ""
}

func typeName(v any) string {
	if lv, ok := v.(lua.LValue); ok {
		return lv.Type().String()
	}
	return "host value"
}
