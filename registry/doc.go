// Package registry provides the value reference registry shared by every
// execution context of a session.
//
// A value (a closure to run on another goroutine, the outcome of a finished
// thread, a condition variable payload) is registered once and handed around
// as a Ref. The receiving side takes it back out:
//
//	reg := registry.New(0)
//
//	ref, err := reg.Insert(registry.KindFunction, fn)
//
//	// on another goroutine
//	v, err := reg.Take(ref) // get + release
//
// # Generations
//
// Every slot carries a generation that is bumped on release. A Ref remembers
// the generation it was issued with, so using a released Ref fails with
// errors.ErrStaleReference even after its slot has been reused, and releasing
// the same Ref twice fails with errors.ErrDoubleRelease.
//
// # Observers
//
// Observers see every insert and release together with the live count:
//
//	reg.Subscribe(recorder)
//
// The registry is synchronized by its own mutex. It can be used while the
// boundary lock is held or not held.
package registry
