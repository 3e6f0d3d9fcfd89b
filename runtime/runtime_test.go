package runtime

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/config"
	"github.com/wippyai/lua-threads/errors"
)

func newTestRuntime(t *testing.T, cfg *config.Config, opts ...Option) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out)}, opts...)

	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, rt.Close(ctx))
	})
	return rt, &out
}

func TestRuntime_ExecPrint(t *testing.T) {
	rt, out := newTestRuntime(t, nil)

	err := rt.Exec(context.Background(), "main", `
		print("a", 1, nil, true)
		local h = thread.spawn(function() print("from", thread.name()) end, "worker")
		h:join()
	`)
	require.NoError(t, err)
	assert.Equal(t, "a\t1\tnil\ttrue\nfrom\tworker\n", out.String())
}

func TestRuntime_Eval(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	ctx := context.Background()

	vals, err := rt.Eval(ctx, `1 + 2, "x", {1, 2}, {a = true}, nil`)
	require.NoError(t, err)
	assert.Equal(t, []any{3.0, "x", []any{1.0, 2.0}, map[string]any{"a": true}, nil}, vals)

	vals, err = rt.Eval(ctx, `local x = 20 return x + 1`)
	require.NoError(t, err)
	assert.Equal(t, []any{21.0}, vals)

	_, err = rt.Eval(ctx, `local = =`)
	require.Error(t, err)
	assert.Equal(t, errors.PhaseLoad, err.(*errors.Error).Phase)
}

func TestRuntime_ScriptFailure(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	err := rt.Exec(context.Background(), "main", `error({code = 7})`)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptFailure)

	v, ok := FailureValue(err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"code": 7.0}, ToGo(v))
}

func TestRuntime_ConcurrentHostCalls(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	ctx := context.Background()
	require.NoError(t, rt.Exec(ctx, "init", `counter = 0`))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rt.Exec(ctx, "inc", `
				thread.yield_now()
				counter = counter + 1
				assert(thread.id() == 0)
			`))
		}()
	}
	wg.Wait()

	vals, err := rt.Eval(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []any{16.0}, vals)
}

func TestRuntime_ExecCancelled(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rt.Exec(ctx, "sleepy", `thread.sleep(60 * 1000)`)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.Less(t, time.Since(start), 10*time.Second)

	// the runtime is still usable
	vals, err := rt.Eval(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, vals)
}

func TestRuntime_Call(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.Exec(ctx, "defs", `
		function divmod(a, b) return math.floor(a / b), a % b end
	`))

	vals, err := rt.Call(ctx, "divmod", 17, 5)
	require.NoError(t, err)
	assert.Equal(t, []any{3.0, 2.0}, vals)

	_, err = rt.Call(ctx, "missing")
	assert.Equal(t, errors.KindNotFound, err.(*errors.Error).Kind)
}

func TestRuntime_ExecFile(t *testing.T) {
	rt, out := newTestRuntime(t, nil)

	path := filepath.Join(t.TempDir(), "hello.lua")
	require.NoError(t, os.WriteFile(path, []byte(`print("hello")`), 0o600))

	require.NoError(t, rt.ExecFile(context.Background(), path))
	assert.Equal(t, "hello\n", out.String())

	err := rt.ExecFile(context.Background(), path+".missing")
	assert.Equal(t, errors.KindNotFound, err.(*errors.Error).Kind)
}

func TestRuntime_Require(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	err := rt.Exec(context.Background(), "req", `
		local t = require("thread")
		assert(t == thread)
		assert(require("wasm") == wasm)
	`)
	require.NoError(t, err)
}

func TestRuntime_WasmDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Wasm.Enabled = false
	rt, _ := newTestRuntime(t, cfg)

	vals, err := rt.Eval(context.Background(), "wasm == nil")
	require.NoError(t, err)
	assert.Equal(t, []any{true}, vals)
}

func TestRuntime_ThreadLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Threads.Max = 1
	rt, _ := newTestRuntime(t, cfg)

	err := rt.Exec(context.Background(), "limit", `
		local cv = thread.condvar()
		local h = thread.spawn(function() return cv:wait() end)
		local ok, msg = pcall(thread.spawn, function() end)
		assert(not ok and string.find(msg, "limit", 1, true), msg)
		while cv:waiting() == 0 do thread.yield_now() end
		cv:notify_one("go")
		assert(h:join() == "go")
	`)
	require.NoError(t, err)
}

func TestRuntime_Metrics(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	reg := prometheus.NewRegistry()
	rt, _ := newTestRuntime(t, cfg, WithPrometheus(reg))

	require.NoError(t, rt.Exec(context.Background(), "m", `
		thread.spawn(function() thread.sleep(1) end):join()
	`))

	var buf bytes.Buffer
	require.NoError(t, rt.WriteMetrics(&buf))
	text := buf.String()
	assert.Contains(t, text, "lthread_threads_spawned_total")
	assert.Contains(t, text, `kind="sleep"`)
	assert.Contains(t, text, rt.Session().ID())
}

func TestRuntime_MetricsDisabled(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)

	var buf bytes.Buffer
	require.NoError(t, rt.WriteMetrics(&buf))
	assert.Zero(t, buf.Len())
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Threads.Max = -1
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads.max")
}

func TestRuntime_Close(t *testing.T) {
	rt, err := New(context.Background(), nil, WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	require.NoError(t, rt.Exec(context.Background(), "bg", `
		thread.spawn(function() thread.sleep(3600 * 1000) end)
	`))
	assert.Equal(t, 1, rt.Threads())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))
	require.NoError(t, rt.Close(ctx))
	assert.Equal(t, 0, rt.Threads())

	err = rt.Exec(context.Background(), "late", `print(1)`)
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestCompile_Reuse(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	ctx := context.Background()

	proto, err := Compile("counter", `n = (n or 0) + 1 return n`)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		vals, err := rt.Run(ctx, proto)
		require.NoError(t, err)
		require.Len(t, vals, 1)
		assert.Equal(t, lua.LNumber(want), vals[0])
	}

	_, err = Compile("bad", "if then")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bad"))
}
