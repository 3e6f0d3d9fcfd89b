package wasm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/errors"
)

// Instance is an instantiated core WebAssembly module. Calls are
// serialized per instance.
type Instance struct {
	module   api.Module
	compiled wazero.CompiledModule
	owner    *Module
	name     string
	mu       sync.Mutex
}

// Name returns the instance name.
func (i *Instance) Name() string {
	return i.name
}

// Exports returns the sorted names of the exported functions.
func (i *Instance) Exports() []string {
	defs := i.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes an exported function with raw wasm values.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.module == nil {
		return nil, errors.Closed(errors.PhaseWasm, "instance "+i.name)
	}

	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseWasm, "export", name)
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWasm, errors.KindScriptFailure, err, "call "+name)
	}
	return results, nil
}

// definition returns the signature of an exported function.
func (i *Instance) definition(name string) (api.FunctionDefinition, error) {
	def, ok := i.compiled.ExportedFunctions()[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseWasm, "export", name)
	}
	return def, nil
}

// MemorySize returns the size of the first exported memory in bytes, 0 if
// the module exports none.
func (i *Instance) MemorySize() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.module == nil {
		return 0
	}

	defs := i.compiled.ExportedMemories()
	if len(defs) == 0 {
		return 0
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	// api.Module.Memory may hold a typed nil, so go through the export.
	mem := i.module.ExportedMemory(names[0])
	if mem == nil {
		return 0
	}
	return mem.Size()
}

// Close releases the instance. Closing twice is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.module == nil {
		return nil
	}
	var firstErr error
	if err := i.module.Close(ctx); err != nil {
		firstErr = err
	}
	if err := i.compiled.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	i.module = nil
	i.owner.forget(i)
	return firstErr
}

func (i *Instance) String() string {
	return fmt.Sprintf("wasm.instance: %s", i.name)
}

func checkInstance(L *lua.LState, n int) *Instance {
	ud := L.CheckUserData(n)
	if inst, ok := ud.Value.(*Instance); ok {
		return inst
	}
	L.ArgError(n, "wasm instance expected")
	return nil
}

// inst:call(name, ...) -> results...
func (m *Module) instanceCall(L *lua.LState) int {
	inst := checkInstance(L, 1)
	name := L.CheckString(2)

	def, err := inst.definition(name)
	if err != nil {
		raise(L, err)
	}

	paramTypes := def.ParamTypes()
	if got := L.GetTop() - 2; got != len(paramTypes) {
		raise(L, errors.InvalidInput(errors.PhaseWasm,
			fmt.Sprintf("%s expects %d arguments, got %d", name, len(paramTypes), got)))
	}

	params := make([]uint64, len(paramTypes))
	for idx, vt := range paramTypes {
		params[idx] = encodeValue(vt, float64(L.CheckNumber(idx+3)))
	}

	ctx := ctxOf(L)
	var results []uint64
	m.block(L, func() { results, err = inst.Call(ctx, name, params...) })
	if err != nil {
		raise(L, err)
	}

	for idx, vt := range def.ResultTypes() {
		L.Push(lua.LNumber(decodeValue(vt, results[idx])))
	}
	return len(def.ResultTypes())
}

// inst:exports() -> {name, ...}
func (m *Module) instanceExports(L *lua.LState) int {
	inst := checkInstance(L, 1)
	tbl := L.NewTable()
	for _, name := range inst.Exports() {
		tbl.Append(lua.LString(name))
	}
	L.Push(tbl)
	return 1
}

// inst:memory_size() -> bytes
func (m *Module) instanceMemorySize(L *lua.LState) int {
	L.Push(lua.LNumber(checkInstance(L, 1).MemorySize()))
	return 1
}

// inst:close()
func (m *Module) instanceClose(L *lua.LState) int {
	inst := checkInstance(L, 1)
	if err := inst.Close(ctxOf(L)); err != nil {
		raise(L, err)
	}
	return 0
}

func encodeValue(vt api.ValueType, v float64) uint64 {
	switch vt {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(v))
	case api.ValueTypeI64:
		return api.EncodeI64(int64(v))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v))
	case api.ValueTypeF64:
		return api.EncodeF64(v)
	default:
		return uint64(v)
	}
}

func decodeValue(vt api.ValueType, raw uint64) float64 {
	switch vt {
	case api.ValueTypeI32:
		return float64(api.DecodeI32(raw))
	case api.ValueTypeI64:
		return float64(int64(raw))
	case api.ValueTypeF32:
		return float64(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return api.DecodeF64(raw)
	default:
		return float64(raw)
	}
}
