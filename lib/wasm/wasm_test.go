package wasm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
)

// (module (func (export "add") (param i32 i32) (result i32) local.get 0 local.get 1 i32.add))
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// (module (memory (export "mem") 1))
var memWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x07, 0x01, 0x03, 'm', 'e', 'm', 0x02, 0x00,
}

func newTestModule(t *testing.T) (*engine.Session, *Module) {
	t.Helper()
	ctx := context.Background()
	sess, err := engine.NewSession(ctx)
	require.NoError(t, err)

	mod, err := New(ctx, sess, Options{MemoryLimitPages: 16})
	require.NoError(t, err)

	require.NoError(t, sess.Setup(func(L *lua.LState) error {
		L.SetGlobal(ModuleName, mod.Open(L))
		L.SetGlobal("add_wasm", lua.LString(addWasm))
		return nil
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, mod.Close(ctx))
		assert.NoError(t, sess.Close(ctx))
	})
	return sess, mod
}

func runScript(t *testing.T, sess *engine.Session, script string) error {
	t.Helper()
	st, err := sess.Open(sess.MainOwner())
	require.NoError(t, err)
	defer sess.CloseState(st)

	return sess.Exec(st.L, func(L *lua.LState) error {
		return L.DoString(script)
	})
}

func TestInstantiate_Call(t *testing.T) {
	_, mod := newTestModule(t)
	ctx := context.Background()

	inst, err := mod.Instantiate(ctx, "", addWasm)
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, inst.Exports())
	assert.Equal(t, "module-1", inst.Name())

	results, err := inst.Call(ctx, "add", 2, 40)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, results)

	_, err = inst.Call(ctx, "sub", 1, 1)
	assert.Equal(t, errors.KindNotFound, err.(*errors.Error).Kind)

	require.NoError(t, inst.Close(ctx))
	require.NoError(t, inst.Close(ctx))

	_, err = inst.Call(ctx, "add", 1, 1)
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestInstantiate_InvalidBytes(t *testing.T) {
	_, mod := newTestModule(t)

	_, err := mod.Instantiate(context.Background(), "bad", []byte("not wasm"))
	require.Error(t, err)
	assert.Equal(t, errors.PhaseWasm, err.(*errors.Error).Phase)
}

func TestScript_LoadAndCall(t *testing.T) {
	sess, _ := newTestModule(t)

	err := runScript(t, sess, `
		local inst = wasm.load(add_wasm, "adder")
		assert(inst:call("add", 20, 22) == 42)
		assert(inst:call("add", -5, 3) == -2)
		local exports = inst:exports()
		assert(#exports == 1 and exports[1] == "add")
		assert(inst:memory_size() == 0)
		assert(tostring(inst) == "wasm.instance: adder")
		inst:close()
	`)
	require.NoError(t, err)
}

func TestMemorySize(t *testing.T) {
	ctx := context.Background()
	_, mod := newTestModule(t)

	noMem, err := mod.Instantiate(ctx, "adder", addWasm)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), noMem.MemorySize())

	withMem, err := mod.Instantiate(ctx, "memory", memWasm)
	require.NoError(t, err)
	assert.Equal(t, uint32(65536), withMem.MemorySize())

	require.NoError(t, withMem.Close(ctx))
	assert.Equal(t, uint32(0), withMem.MemorySize())
}

func TestScript_MemorySize(t *testing.T) {
	sess, _ := newTestModule(t)
	require.NoError(t, sess.Setup(func(L *lua.LState) error {
		L.SetGlobal("mem_wasm", lua.LString(memWasm))
		return nil
	}))

	err := runScript(t, sess, `
		local inst = wasm.load(mem_wasm, "memory")
		assert(inst:memory_size() == 65536, inst:memory_size())
		assert(#inst:exports() == 0)
		inst:close()
	`)
	require.NoError(t, err)
}

func TestScript_ArgumentCount(t *testing.T) {
	sess, _ := newTestModule(t)

	err := runScript(t, sess, `
		local inst = wasm.load(add_wasm)
		local ok, msg = pcall(inst.call, inst, "add", 1)
		assert(not ok)
		assert(string.find(msg, "expects 2 arguments, got 1", 1, true), msg)
		ok, msg = pcall(inst.call, inst, "missing")
		assert(not ok and string.find(msg, "not found", 1, true), msg)
	`)
	require.NoError(t, err)
}

func TestScript_LoadFile(t *testing.T) {
	sess, _ := newTestModule(t)

	path := filepath.Join(t.TempDir(), "add.wasm")
	require.NoError(t, os.WriteFile(path, addWasm, 0o600))

	require.NoError(t, sess.Setup(func(L *lua.LState) error {
		L.SetGlobal("add_path", lua.LString(path))
		return nil
	}))

	err := runScript(t, sess, `
		local inst = wasm.load_file(add_path)
		assert(inst:call("add", 1, 2) == 3)
		local ok = pcall(wasm.load_file, add_path .. ".missing")
		assert(not ok)
	`)
	require.NoError(t, err)
}

func TestClose_ClosesInstances(t *testing.T) {
	ctx := context.Background()
	sess, err := engine.NewSession(ctx)
	require.NoError(t, err)
	defer func() { _ = sess.Close(ctx) }()

	mod, err := New(ctx, sess, Options{})
	require.NoError(t, err)

	inst, err := mod.Instantiate(ctx, "a", addWasm)
	require.NoError(t, err)

	require.NoError(t, mod.Close(ctx))
	_, err = inst.Call(ctx, "add", 1, 1)
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = mod.Instantiate(ctx, "b", addWasm)
	assert.ErrorIs(t, err, errors.ErrClosed)
}
