package thread

import (
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/boundary"
	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
)

// ModuleName is the name the library is registered under.
const ModuleName = "thread"

const (
	handleTypeName  = "thread.handle"
	condVarTypeName = "thread.condvar"
	mutexTypeName   = "thread.mutex"
)

// Options configures the thread library.
type Options struct {
	// MaxThreads caps the number of threads running at once. 0 means unlimited.
	MaxThreads int
}

// Module is the script-facing thread library bound to one session.
type Module struct {
	sess    *engine.Session
	log     *zap.Logger
	table   *lua.LTable
	held    map[*boundary.Owner]map[*Mutex]struct{}
	tokens  map[*boundary.Owner]chan struct{}
	opts    Options
	running atomic.Int64
	heldMu  sync.Mutex
	tokenMu sync.Mutex
}

// New creates the thread library for sess. Mutexes still held when an
// execution context closes are released, and poisoned if its last Exec
// failed.
func New(sess *engine.Session, opts Options) *Module {
	m := &Module{
		sess:   sess,
		opts:   opts,
		log:    sess.Logger().Named(ModuleName),
		held:   make(map[*boundary.Owner]map[*Mutex]struct{}),
		tokens: make(map[*boundary.Owner]chan struct{}),
	}
	sess.OnStateClose(m.stateClosed)
	return m
}

// Open registers the library's types on L and returns the module table.
// It must run under the boundary lock, normally from engine.Session.Setup.
func (m *Module) Open(L *lua.LState) *lua.LTable {
	if m.table != nil {
		return m.table
	}

	m.registerType(L, handleTypeName, handleMethods(m), m.handleIndex, handleString)
	m.registerType(L, condVarTypeName, condVarMethods(m), nil, nil)
	m.registerType(L, mutexTypeName, mutexMethods(m), nil, nil)

	m.table = L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"spawn":     m.spawn,
		"join":      m.join,
		"sleep":     m.sleep,
		"condvar":   m.newCondVar,
		"mutex":     m.newMutex,
		"id":        m.id,
		"name":      m.name,
		"yield_now": m.yieldNow,
		"park":      m.park,
		"running":   m.runningCount,
	})
	return m.table
}

// Loader is an lua.LGFunction suitable for L.PreloadModule.
func (m *Module) Loader(L *lua.LState) int {
	L.Push(m.Open(L))
	return 1
}

// Running returns the number of threads that have not finished.
func (m *Module) Running() int {
	return int(m.running.Load())
}

func (m *Module) registerType(L *lua.LState, name string, methods map[string]lua.LGFunction, index lua.LGFunction, tostring lua.LGFunction) {
	mt := L.NewTypeMetatable(name)
	methodTable := L.SetFuncs(L.NewTable(), methods)
	if index != nil {
		L.SetField(mt, "__index", L.NewClosure(index, methodTable))
	} else {
		L.SetField(mt, "__index", methodTable)
	}
	if tostring != nil {
		L.SetField(mt, "__tostring", L.NewFunction(tostring))
	}
}

func (m *Module) newUserData(L *lua.LState, typeName string, value any) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = value
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

// stateClosed drops what an execution context left behind when its state
// closes.
func (m *Module) stateClosed(owner *boundary.Owner, failed bool) {
	m.releaseHeld(owner, failed)
	m.tokenMu.Lock()
	delete(m.tokens, owner)
	m.tokenMu.Unlock()
}

// owner resolves the execution context calling into the library.
func (m *Module) owner(L *lua.LState) *boundary.Owner {
	if o := m.sess.OwnerOf(L); o != nil {
		return o
	}
	return m.sess.MainOwner()
}

// raise converts err into a script error at the caller's position.
func raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}

// block suspends L's owner through the session guard. A poisoned lock is
// raised into the script; the caller's state unwinds without the lock.
func (m *Module) block(L *lua.LState, kind string, fn func()) {
	if err := m.sess.Block(L, kind, fn); err != nil {
		raise(L, err)
	}
}

func interrupted(L *lua.LState, what string) {
	raise(L, errors.New(errors.PhaseThread, errors.KindClosed).
		Detail("%s interrupted: %v", what, ctxOf(L).Err()).
		Build())
}
