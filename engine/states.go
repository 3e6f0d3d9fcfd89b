package engine

import (
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/boundary"
)

// stateInfo is the bookkeeping recorded when a state opens.
type stateInfo struct {
	opened time.Time
	owner  *boundary.Owner
	lock   *boundary.Lock
	failed bool
}

// stateTable maps interpreter states to their bookkeeping. It has its own
// mutex so that opening and closing states never waits on the boundary lock.
type stateTable struct {
	states map[*lua.LState]*stateInfo
	mu     sync.RWMutex
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[*lua.LState]*stateInfo)}
}

func (t *stateTable) add(L *lua.LState, info *stateInfo) {
	t.mu.Lock()
	t.states[L] = info
	t.mu.Unlock()
}

func (t *stateTable) remove(L *lua.LState) *stateInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.states[L]
	delete(t.states, L)
	return info
}

// lookup resolves L to the state that owns it. Coroutines are created by
// the interpreter itself and are never announced, so they resolve through
// the state that resumed them.
func (t *stateTable) lookup(L *lua.LState) *stateInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ; L != nil; L = L.Parent {
		if info, ok := t.states[L]; ok {
			return info
		}
	}
	return nil
}

// setFailed records the result of the latest outermost Exec on the state
// that owns L.
func (t *stateTable) setFailed(L *lua.LState, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ; L != nil; L = L.Parent {
		if info, ok := t.states[L]; ok {
			info.failed = failed
			return
		}
	}
}

// failed reports whether the latest Exec on L returned an error.
func (t *stateTable) failed(L *lua.LState) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if info, ok := t.states[L]; ok {
		return info.failed
	}
	return false
}

func (t *stateTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// snapshot returns the states currently open.
func (t *stateTable) snapshot() []*lua.LState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*lua.LState, 0, len(t.states))
	for L := range t.states {
		out = append(out, L)
	}
	return out
}
