package engine

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/boundary"
	"github.com/wippyai/lua-threads/errors"
)

// Hooks are the interposition points the session calls at every boundary
// crossing and at sub-state lifecycle events. They are never reachable from
// scripts. Implementations must not call back into the interpreter and
// must tolerate being called while the boundary lock is held.
type Hooks interface {
	// Lock is called before any host code touches L.
	Lock(L *lua.LState) error
	// Unlock is called after the host is done with L.
	Unlock(L *lua.LState) error
	// StateOpen is called once for every state the session creates.
	StateOpen(L *lua.LState, owner *boundary.Owner)
	// StateClose is called when a state is discarded.
	StateClose(L *lua.LState)
}

// lockHooks delegates to the boundary lock and keeps the state table.
type lockHooks struct {
	lock   *boundary.Lock
	states *stateTable
}

func (h *lockHooks) Lock(L *lua.LState) error {
	info := h.states.lookup(L)
	if info == nil {
		return errors.NotFound(errors.PhaseHook, "state", L.String())
	}
	return info.lock.Acquire(info.owner)
}

func (h *lockHooks) Unlock(L *lua.LState) error {
	info := h.states.lookup(L)
	if info == nil {
		return errors.NotFound(errors.PhaseHook, "state", L.String())
	}
	return info.lock.Release(info.owner)
}

func (h *lockHooks) StateOpen(L *lua.LState, owner *boundary.Owner) {
	h.states.add(L, &stateInfo{
		owner:  owner,
		lock:   h.lock,
		opened: time.Now(),
	})
}

func (h *lockHooks) StateClose(L *lua.LState) {
	h.states.remove(L)
}
