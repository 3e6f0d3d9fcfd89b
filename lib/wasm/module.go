package wasm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
)

// ModuleName is the name the library is registered under.
const ModuleName = "wasm"

const instanceTypeName = "wasm.instance"

// Options configures the wasm library.
type Options struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Module is the script-facing wasm library bound to one session. Compiling
// and running WebAssembly does not touch the interpreter, so both happen
// with the boundary lock released.
type Module struct {
	sess      *engine.Session
	runtime   wazero.Runtime
	log       *zap.Logger
	table     *lua.LTable
	instances map[*Instance]struct{}
	seq       atomic.Uint64
	mu        sync.Mutex
	closed    bool
}

// New creates the wasm library and its wazero runtime.
func New(ctx context.Context, sess *engine.Session, opts Options) (*Module, error) {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(wazero.NewCompilationCache()).
		WithCloseOnContextDone(true)
	if opts.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.MemoryLimitPages)
	}

	return &Module{
		sess:      sess,
		runtime:   wazero.NewRuntimeWithConfig(ctx, cfg),
		log:       sess.Logger().Named(ModuleName),
		instances: make(map[*Instance]struct{}),
	}, nil
}

// Open registers the library's types on L and returns the module table.
func (m *Module) Open(L *lua.LState) *lua.LTable {
	if m.table != nil {
		return m.table
	}

	mt := L.NewTypeMetatable(instanceTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"call":        m.instanceCall,
		"exports":     m.instanceExports,
		"memory_size": m.instanceMemorySize,
		"close":       m.instanceClose,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkInstance(L, 1).String()))
		return 1
	}))

	m.table = L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"load":      m.load,
		"load_file": m.loadFile,
	})
	return m.table
}

// Loader is an lua.LGFunction suitable for L.PreloadModule.
func (m *Module) Loader(L *lua.LState) int {
	L.Push(m.Open(L))
	return 1
}

// Instantiate compiles and instantiates a core WebAssembly module.
func (m *Module) Instantiate(ctx context.Context, name string, wasmBytes []byte) (*Instance, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhaseWasm, "wasm runtime")
	}

	compiled, err := m.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWasm, errors.KindInvalidInput, err, "compile module")
	}

	if name == "" {
		name = fmt.Sprintf("module-%d", m.seq.Add(1))
	}

	mod, err := m.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(err)
	}

	inst := &Instance{
		name:     name,
		module:   mod,
		compiled: compiled,
		owner:    m,
	}

	m.mu.Lock()
	m.instances[inst] = struct{}{}
	m.mu.Unlock()

	m.log.Debug("module instantiated",
		zap.String("name", name),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return inst, nil
}

func (m *Module) forget(inst *Instance) {
	m.mu.Lock()
	delete(m.instances, inst)
	m.mu.Unlock()
}

// Close closes every live instance and the wazero runtime.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	live := make([]*Instance, 0, len(m.instances))
	for inst := range m.instances {
		live = append(live, inst)
	}
	m.mu.Unlock()

	for _, inst := range live {
		if err := inst.Close(ctx); err != nil {
			m.log.Warn("failed to close instance", zap.String("name", inst.name), zap.Error(err))
		}
	}
	return m.runtime.Close(ctx)
}

// wasm.load(bytes [, name]) -> instance
func (m *Module) load(L *lua.LState) int {
	wasmBytes := []byte(L.CheckString(1))
	name := L.OptString(2, "")
	return m.instantiate(L, name, wasmBytes)
}

// wasm.load_file(path [, name]) -> instance
func (m *Module) loadFile(L *lua.LState) int {
	path := L.CheckString(1)
	name := L.OptString(2, "")

	var wasmBytes []byte
	var err error
	m.block(L, func() { wasmBytes, err = os.ReadFile(path) })
	if err != nil {
		raise(L, errors.Wrap(errors.PhaseWasm, errors.KindNotFound, err, "read "+path))
	}
	return m.instantiate(L, name, wasmBytes)
}

func (m *Module) instantiate(L *lua.LState, name string, wasmBytes []byte) int {
	ctx := ctxOf(L)

	var inst *Instance
	var err error
	m.block(L, func() { inst, err = m.Instantiate(ctx, name, wasmBytes) })
	if err != nil {
		raise(L, err)
	}

	ud := L.NewUserData()
	ud.Value = inst
	L.SetMetatable(ud, L.GetTypeMetatable(instanceTypeName))
	L.Push(ud)
	return 1
}

func (m *Module) block(L *lua.LState, fn func()) {
	if err := m.sess.Block(L, metrics.SuspendWasm, fn); err != nil {
		raise(L, err)
	}
}

func ctxOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}
