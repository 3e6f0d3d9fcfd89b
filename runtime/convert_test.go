package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.NoError(t, L.DoString(`
		seq = {1, "two", false}
		rec = {name = "x", nested = {1, 2}}
		mixed = {1, 2, k = "v"}
		cyclic = {}
		cyclic.self = cyclic
	`))

	assert.Nil(t, ToGo(lua.LNil))
	assert.Equal(t, true, ToGo(lua.LTrue))
	assert.Equal(t, 1.5, ToGo(lua.LNumber(1.5)))
	assert.Equal(t, []any{1.0, "two", false}, ToGo(L.GetGlobal("seq")))
	assert.Equal(t, map[string]any{"name": "x", "nested": []any{1.0, 2.0}}, ToGo(L.GetGlobal("rec")))
	assert.Equal(t, map[string]any{"1": 1.0, "2": 2.0, "k": "v"}, ToGo(L.GetGlobal("mixed")))
	assert.Equal(t, map[string]any{"self": nil}, ToGo(L.GetGlobal("cyclic")))

	ud := L.NewUserData()
	ud.Value = 42
	assert.Equal(t, 42, ToGo(ud))
}

func TestToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	assert.Equal(t, lua.LNil, ToLua(L, nil))
	assert.Equal(t, lua.LNumber(7), ToLua(L, int8(7)))
	assert.Equal(t, lua.LNumber(7), ToLua(L, uint64(7)))
	assert.Equal(t, lua.LString("s"), ToLua(L, "s"))
	assert.Equal(t, lua.LString("raw"), ToLua(L, []byte("raw")))
	assert.Equal(t, lua.LString("bad"), ToLua(L, errors.New("bad")))

	tbl, ok := ToLua(L, []int{1, 2, 3}).(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, 3, tbl.Len())

	m, ok := ToLua(L, map[string]any{"a": 1, "b": []string{"x"}}).(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LNumber(1), m.RawGetString("a"))

	type point struct{ X, Y int }
	ud, ok := ToLua(L, point{1, 2}).(*lua.LUserData)
	require.True(t, ok)
	assert.Equal(t, point{1, 2}, ud.Value)

	var nilMap map[string]int
	assert.Equal(t, lua.LNil, ToLua(L, nilMap))
}

func TestRoundTrip_ThroughScript(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("input", ToLua(L, map[string]any{"xs": []float64{1, 2, 3}}))
	require.NoError(t, L.DoString(`
		local s = 0
		for _, x in ipairs(input.xs) do s = s + x end
		result = {sum = s}
	`))
	assert.Equal(t, map[string]any{"sum": 6.0}, ToGo(L.GetGlobal("result")))
}
