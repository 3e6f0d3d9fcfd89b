// Package engine owns the shared interpreter and every crossing into it.
//
// A Session holds one gopher-lua interpreter, the boundary lock that
// serializes access to it, and the value reference registry. Goroutines
// never share an interpreter stack: each one opens its own sub-state, which
// shares globals with the root state, and enters it through Exec.
//
// # Execution Contexts
//
//	sess, err := engine.NewSession(ctx)
//	defer sess.Close(ctx)
//
//	st, err := sess.Open(sess.MainOwner())
//	defer sess.CloseState(st)
//
//	err = sess.Exec(st.L, func(L *lua.LState) error {
//		return L.DoString(`x = 1`)
//	})
//
// # Lifecycle Hooks
//
// The session calls its Hooks at fixed points:
//
//	Lock / Unlock        around every Exec, Call and Setup
//	StateOpen            for the root state and every Open
//	StateClose           for every CloseState and at Close
//
// The default hooks delegate to the boundary lock and maintain a table from
// state to owner. Coroutines are resolved through the state that resumed
// them. Config.WrapHooks can decorate them.
//
// # Suspension
//
// Host functions that wait call Block, which releases the lock for the
// duration of the wait and re-acquires it at the same depth. The session
// context is cancelled on Close, so waits should also select on it.
//
// # Calls
//
// Call invokes a function registered in the registry and returns every
// result it produced. Script failures are returned as
// errors.ErrScriptFailure; FailureValue recovers the raised value.
package engine
