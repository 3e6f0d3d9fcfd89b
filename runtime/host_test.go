package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mathHost struct {
	slowCalls atomic.Int32
}

func (h *mathHost) Namespace() string { return "mathx" }

func (h *mathHost) BlockingFunctions() []string { return []string{"slow_double"} }

func (h *mathHost) Add(a, b int) int { return a + b }

func (h *mathHost) Greet(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name required")
	}
	return "hello " + name, nil
}

func (h *mathHost) Sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func (h *mathHost) Keys(m map[string]int) int { return len(m) }

func (h *mathHost) SlowDouble(ctx context.Context, n int) int {
	h.slowCalls.Add(1)
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
	}
	return n * 2
}

func TestHost_Register(t *testing.T) {
	host := &mathHost{}
	rt, _ := newTestRuntime(t, nil, WithHost(host))

	err := rt.Exec(context.Background(), "host", `
		assert(mathx.add(2, 3) == 5)
		assert(mathx.add("4", 1) == 5)
		assert(mathx.greet("lua") == "hello lua")
		local ok, msg = pcall(mathx.greet, "")
		assert(not ok and string.find(msg, "name required", 1, true), msg)
		assert(mathx.sum({1, 2, 3.5}) == 6.5)
		assert(mathx.keys({a = 1, b = 2}) == 2)
		assert(require("mathx") == mathx)
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{"mathx"}, rt.Hosts().Namespaces())
}

func TestHost_BlockingReleasesLock(t *testing.T) {
	host := &mathHost{}
	rt, _ := newTestRuntime(t, nil, WithHost(host))

	err := rt.Exec(context.Background(), "host", `
		local results = {}
		local handles = {}
		for i = 1, 4 do
			handles[i] = thread.spawn(function() return mathx.slow_double(i) end)
		end
		local total = 0
		for i = 1, 4 do
			total = total + handles[i]:join()
		end
		assert(total == 20, total)
	`)
	require.NoError(t, err)
	assert.Equal(t, int32(4), host.slowCalls.Load())
}

func TestHost_BadArgument(t *testing.T) {
	rt, _ := newTestRuntime(t, nil, WithHost(&mathHost{}))

	err := rt.Exec(context.Background(), "host", `
		local ok, msg = pcall(mathx.add, "x", 1)
		assert(not ok and string.find(msg, "bad argument", 1, true), msg)
		ok, msg = pcall(mathx.add)
		assert(not ok, "missing arguments must fail")
	`)
	require.NoError(t, err)
}

func TestRegisterFunc(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.RegisterFunc("strs", "repeat_n", func(s string, n int) string {
		out := ""
		for i := 0; i < n; i++ {
			out += s
		}
		return out
	}, false))

	vals, err := rt.Eval(ctx, `strs.repeat_n("ab", 3)`)
	require.NoError(t, err)
	assert.Equal(t, []any{"ababab"}, vals)

	assert.Error(t, rt.RegisterFunc("strs", "bad", 42, false))
	assert.Error(t, rt.RegisterFunc("", "x", func() {}, false))
	assert.Error(t, rt.RegisterFunc("strs", "variadic", func(xs ...int) {}, false))
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Add", "add"},
		{"SlowDouble", "slow_double"},
		{"GetHTTPURL", "get_httpurl"},
		{"ReadHTTPBody", "read_http_body"},
		{"ID", "id"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, toSnakeCase(tt.in))
		})
	}
}
