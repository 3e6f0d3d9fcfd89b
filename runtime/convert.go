package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/spf13/cast"
	lua "github.com/yuin/gopher-lua"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	luaValueType = reflect.TypeOf((*lua.LValue)(nil)).Elem()
	luaStateType = reflect.TypeOf((*lua.LState)(nil))
)

// ToGo converts a script value to a plain Go value: nil, bool, float64,
// string, []any for sequences and map[string]any for other tables.
// Userdata yields its Go value; functions and coroutines are returned as is.
// Cyclic table references convert to nil.
func ToGo(v lua.LValue) any {
	return toGo(v, make(map[*lua.LTable]bool))
}

func toGo(v lua.LValue, seen map[*lua.LTable]bool) any {
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LUserData:
		return lv.Value
	case *lua.LTable:
		if seen[lv] {
			return nil
		}
		seen[lv] = true
		defer delete(seen, lv)

		if n := lv.Len(); n > 0 && countKeys(lv) == n {
			out := make([]any, n)
			for i := 1; i <= n; i++ {
				out[i-1] = toGo(lv.RawGetInt(i), seen)
			}
			return out
		}
		out := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			out[k.String()] = toGo(val, seen)
		})
		return out
	default:
		return v
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// ToLua converts a Go value to a script value. Slices and arrays become
// sequences, maps become tables keyed by the converted keys, functions of
// type lua.LGFunction become script functions and anything else is wrapped
// in userdata.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(x)
	case error:
		return lua.LString(x.Error())
	case lua.LGFunction:
		return L.NewFunction(x)
	case func(*lua.LState) int:
		return L.NewFunction(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return lua.LNil
		}
		tbl := L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			tbl.RawSetInt(i+1, ToLua(L, rv.Index(i).Interface()))
		}
		return tbl
	case reflect.Map:
		if rv.IsNil() {
			return lua.LNil
		}
		tbl := L.CreateTable(0, rv.Len())
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			tbl.RawSet(ToLua(L, k.Interface()), ToLua(L, rv.MapIndex(k).Interface()))
		}
		return tbl
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
	}

	ud := L.NewUserData()
	ud.Value = v
	return ud
}

// fromLua converts a script value to Go type t. Scalars are coerced with
// cast, so "42" satisfies an int parameter.
func fromLua(v lua.LValue, t reflect.Type) (reflect.Value, error) {
	if t == luaValueType {
		rv := reflect.New(t).Elem()
		rv.Set(reflect.ValueOf(v))
		return rv, nil
	}
	if rt := reflect.TypeOf(v); rt.AssignableTo(t) && t.Kind() != reflect.Interface {
		return reflect.ValueOf(v), nil
	}

	if t.Kind() == reflect.Interface {
		g := ToGo(v)
		if g == nil {
			return reflect.Zero(t), nil
		}
		gv := reflect.ValueOf(g)
		if !gv.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("%s not assignable to %s", gv.Type(), t)
		}
		return gv, nil
	}

	if v == lua.LNil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%s expected, got nil", t)
	}

	if ud, ok := v.(*lua.LUserData); ok {
		if gv := reflect.ValueOf(ud.Value); ud.Value != nil && gv.Type().AssignableTo(t) {
			return gv, nil
		}
		return reflect.Value{}, fmt.Errorf("%s expected, got userdata", t)
	}

	g := ToGo(v)
	var (
		out any
		err error
	)
	switch t.Kind() {
	case reflect.Bool:
		out = lua.LVAsBool(v)
	case reflect.String:
		out, err = cast.ToStringE(g)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out, err = cast.ToInt64E(g)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out, err = cast.ToUint64E(g)
	case reflect.Float32, reflect.Float64:
		out, err = cast.ToFloat64E(g)
	case reflect.Slice:
		return sliceFromLua(v, t)
	case reflect.Map:
		return mapFromLua(v, t)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported parameter type %s", t)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(out).Convert(t), nil
}

func sliceFromLua(v lua.LValue, t reflect.Type) (reflect.Value, error) {
	if s, ok := v.(lua.LString); ok && t.Elem().Kind() == reflect.Uint8 {
		return reflect.ValueOf([]byte(s)).Convert(t), nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%s expected, got %s", t, v.Type())
	}
	n := tbl.Len()
	out := reflect.MakeSlice(t, n, n)
	for i := 1; i <= n; i++ {
		ev, err := fromLua(tbl.RawGetInt(i), t.Elem())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i - 1).Set(ev)
	}
	return out, nil
}

func mapFromLua(v lua.LValue, t reflect.Type) (reflect.Value, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%s expected, got %s", t, v.Type())
	}
	out := reflect.MakeMap(t)
	var firstErr error
	tbl.ForEach(func(k, val lua.LValue) {
		if firstErr != nil {
			return
		}
		kv, err := fromLua(k, t.Key())
		if err != nil {
			firstErr = fmt.Errorf("key %s: %w", k, err)
			return
		}
		vv, err := fromLua(val, t.Elem())
		if err != nil {
			firstErr = fmt.Errorf("field %s: %w", k, err)
			return
		}
		out.SetMapIndex(kv, vv)
	})
	if firstErr != nil {
		return reflect.Value{}, firstErr
	}
	return out, nil
}
