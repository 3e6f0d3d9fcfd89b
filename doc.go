// Package luathreads runs Lua threads on native goroutines that share one
// gopher-lua interpreter.
//
// A boundary lock, in the manner of a global interpreter lock, serializes
// access to the interpreter. Blocking calls (sleep, join, condition variable
// waits, WebAssembly calls, blocking host functions) release it so other
// threads keep running.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	luathreads/
//	├── runtime/         High-level API: New, Exec, Eval, Call, host modules
//	├── engine/          Session: shared interpreter, sub-states, lifecycle hooks
//	├── boundary/        Boundary lock and blocking-call guard
//	├── registry/        Generation-checked value reference registry
//	├── lib/thread/      Script library: spawn, join, sleep, condvar, mutex
//	├── lib/wasm/        Script library: core WebAssembly modules via wazero
//	├── metrics/         Prometheus recorder
//	├── config/          YAML, .env and environment configuration
//	├── errors/          Structured error types
//	└── cmd/run/         Command line runner and interactive prompt
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	err = rt.Exec(ctx, "main", `
//	    local cv = thread.condvar()
//	    local h = thread.spawn(function() return cv:wait() end)
//	    while cv:waiting() == 0 do thread.yield_now() end
//	    cv:notify_one("hello")
//	    print(h:join())
//	`)
package luathreads
