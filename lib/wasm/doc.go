// Package wasm exposes core WebAssembly modules to scripts through wazero.
//
//	local inst = wasm.load(bytes, "adder")
//	print(inst:call("add", 1, 2))
//	inst:close()
//
// Compilation and calls run with the boundary lock released, so other
// threads keep running while a module executes. Numbers are converted by
// the export's declared parameter and result types.
package wasm
