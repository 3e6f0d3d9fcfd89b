// Package runtime provides the high-level API for running scripts that
// share one interpreter across goroutines.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	err = rt.Exec(ctx, "main", `
//	    local h = thread.spawn(function(a, b) return a + b end, "adder")
//	    print(h:join())
//	`)
//
// # Evaluating Expressions
//
// Eval returns results converted to Go values:
//
//	vals, err := rt.Eval(ctx, "1 + 2, {1, 2}, {a = true}")
//	// vals == []any{3.0, []any{1.0, 2.0}, map[string]any{"a": true}}
//
// Empty tables convert to an empty map.
//
// # Host Functions
//
// Register Go functions as script modules:
//
//	rt.RegisterFunc("os2", "getenv", os.Getenv, false)
//
//	// Or implement the Host interface for a full module. Method names are
//	// converted from PascalCase to snake_case (ReadFile -> read_file).
//	rt.RegisterHost(myHost)
//
// Hosts implementing BlockingHost name the functions that block; those run
// with the boundary lock released.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Every Exec, Eval and Call runs on a
// fresh sub-state; the boundary lock serializes interpreter access. Threads
// spawned by a script outlive the call that spawned them and are stopped by
// Close.
//
// # Cancellation
//
// Cancelling the context passed to Exec interrupts that call, including any
// sleep, join or wait it is suspended in.
package runtime
