package runtime

import (
	"context"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
)

// Compile parses src into a function prototype that can be run any number
// of times with Run. name is used in error messages.
func Compile(name, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(stringReader(src), name)
	if err != nil {
		return nil, errors.Load("parse "+name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, errors.Load("compile "+name, err)
	}
	return proto, nil
}

// Exec runs src as the main execution context. ctx cancellation interrupts
// the chunk and wakes any suspended call it is blocked in.
func (r *Runtime) Exec(ctx context.Context, name, src string) error {
	proto, err := Compile(name, src)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx, proto)
	return err
}

// ExecFile runs the script at path.
func (r *Runtime) ExecFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "read "+path)
	}
	return r.Exec(ctx, filepath.Base(path), string(data))
}

// Eval runs src and returns its results converted to Go values.
// A bare expression is accepted as well as a chunk with a return statement.
func (r *Runtime) Eval(ctx context.Context, src string) ([]any, error) {
	proto, err := Compile("eval", "return "+src)
	if err != nil {
		if proto, err = Compile("eval", src); err != nil {
			return nil, err
		}
	}

	values, err := r.Run(ctx, proto)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(values))
	for i, v := range values {
		out[i] = ToGo(v)
	}
	return out, nil
}

// Run executes a compiled chunk on a fresh sub-state and returns its results.
func (r *Runtime) Run(ctx context.Context, proto *lua.FunctionProto) ([]lua.LValue, error) {
	var results []lua.LValue
	err := r.withState(ctx, func(L *lua.LState) error {
		fn := L.NewFunctionFromProto(proto)
		var err error
		results, err = r.sess.CallFunction(L, fn)
		return err
	})
	return results, err
}

// Call invokes the global function name with Go arguments and returns the
// results converted to Go values.
func (r *Runtime) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	var out []any
	err := r.withState(ctx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			return errors.NotFound(errors.PhaseCall, "function", name)
		}

		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = ToLua(L, a)
		}

		values, err := r.sess.CallFunction(L, fn, largs...)
		if err != nil {
			return err
		}
		out = make([]any, len(values))
		for i, v := range values {
			out[i] = ToGo(v)
		}
		return nil
	})
	return out, err
}

// withState opens a sub-state owned by a new main context, ties its
// lifetime to ctx and runs fn under the boundary lock.
func (r *Runtime) withState(ctx context.Context, fn func(L *lua.LState) error) error {
	st, err := r.sess.Open(r.sess.MainOwner())
	if err != nil {
		return err
	}
	defer r.sess.CloseState(st)

	stop := context.AfterFunc(ctx, st.Cancel)
	defer stop()

	if err := r.sess.Exec(st.L, fn); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Wrap(errors.PhaseCall, errors.KindClosed, err, "call interrupted: "+cerr.Error())
		}
		return err
	}
	return nil
}

// FailureValue returns the value a script raised, if err carries one.
func FailureValue(err error) (lua.LValue, bool) {
	return engine.FailureValue(err)
}
