package runtime

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace and BlockingFunctions) are
// registered as functions of the module named by Namespace.
type Host interface {
	// Namespace returns the module name scripts use (e.g. "fs").
	Namespace() string
}

// BlockingHost extends Host with functions that block. Those run with the
// boundary lock released so other threads keep going.
type BlockingHost interface {
	Host
	BlockingFunctions() []string
}

// ExplicitRegistrar allows hosts to provide exact function names when the
// automatic PascalCase to snake_case conversion doesn't fit.
type ExplicitRegistrar interface {
	Register() map[string]any
}

type HostFunc struct {
	Handler  any
	Blocking bool
}

// HostRegistry maps module names to Go functions exposed to scripts.
type HostRegistry struct {
	funcs map[string]map[string]*HostFunc
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]*HostFunc),
	}
}

// RegisterHost records all functions of h under its namespace.
func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHook, "namespace cannot be empty")
	}

	blocking := make(map[string]bool)
	if bh, ok := h.(BlockingHost); ok {
		for _, name := range bh.BlockingFunctions() {
			blocking[name] = true
		}
	}

	funcs := make(map[string]any)
	if er, ok := h.(ExplicitRegistrar); ok {
		funcs = er.Register()
	} else {
		rv := reflect.ValueOf(h)
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			method := rt.Method(i)
			switch method.Name {
			case "Namespace", "BlockingFunctions":
				continue
			}
			funcs[toSnakeCase(method.Name)] = rv.Method(i).Interface()
		}
	}

	for name, fn := range funcs {
		if err := checkHandler(name, fn); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[ns] == nil {
		r.funcs[ns] = make(map[string]*HostFunc)
	}
	for name, fn := range funcs {
		r.funcs[ns][name] = &HostFunc{Handler: fn, Blocking: blocking[name]}
	}
	return nil
}

// RegisterFunc records a single function under namespace.
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any, blocking bool) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHook, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHook, "function name cannot be empty")
	}
	if err := checkHandler(name, fn); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]*HostFunc)
	}
	r.funcs[namespace][name] = &HostFunc{Handler: fn, Blocking: blocking}
	return nil
}

// Namespaces returns the registered module names, sorted.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for ns := range r.funcs {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Bind builds the module table for namespace on L.
func (r *HostRegistry) Bind(L *lua.LState, sess *engine.Session, namespace string) (*lua.LTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	funcs, ok := r.funcs[namespace]
	if !ok {
		return nil, errors.NotFound(errors.PhaseHook, "host module", namespace)
	}

	tbl := L.NewTable()
	for name, hf := range funcs {
		tbl.RawSetString(name, L.NewFunction(wrapHostFunc(sess, name, hf)))
	}
	return tbl, nil
}

func checkHandler(name string, fn any) error {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return errors.New(errors.PhaseHook, errors.KindTypeMismatch).
			Value(fn).
			Detail("handler %s must be a function, got %T", name, fn).
			Build()
	}
	if rv.Type().IsVariadic() {
		return errors.InvalidInput(errors.PhaseHook, fmt.Sprintf("handler %s: variadic functions are not supported", name))
	}
	return nil
}

// wrapHostFunc adapts a Go function to a script function. A leading
// context.Context parameter receives the calling state's context, a
// *lua.LState parameter receives the caller itself. A trailing error result
// is raised in the script when non-nil.
func wrapHostFunc(sess *engine.Session, name string, hf *HostFunc) lua.LGFunction {
	fv := reflect.ValueOf(hf.Handler)
	ft := fv.Type()

	return func(L *lua.LState) int {
		in := make([]reflect.Value, 0, ft.NumIn())
		arg := 1
		for i := 0; i < ft.NumIn(); i++ {
			pt := ft.In(i)
			switch {
			case pt == contextType:
				in = append(in, reflect.ValueOf(ctxOf(L)))
				continue
			case pt == luaStateType:
				in = append(in, reflect.ValueOf(L))
				continue
			}
			v, err := fromLua(L.Get(arg), pt)
			if err != nil {
				L.ArgError(arg, err.Error())
			}
			in = append(in, v)
			arg++
		}

		var out []reflect.Value
		if hf.Blocking {
			if err := sess.Block(L, metrics.SuspendHost, func() { out = fv.Call(in) }); err != nil {
				L.RaiseError("%s", err.Error())
			}
		} else {
			out = fv.Call(in)
		}

		n := 0
		for i, o := range out {
			if i == len(out)-1 && ft.Out(i) == errorType {
				if !o.IsNil() {
					L.RaiseError("%s: %s", name, o.Interface().(error).Error())
				}
				continue
			}
			L.Push(ToLua(L, o.Interface()))
			n++
		}
		return n
	}
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: ReadHTTPBody -> read_http_body
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
