// Package boundary provides the lock that admits one execution context at a
// time into a shared interpreter, and the guard that drops it around calls
// that suspend.
//
// Every goroutine that touches the interpreter carries an *Owner:
//
//	lock := boundary.New(nil)
//	owner := boundary.NewOwner(1, "worker")
//
//	err := lock.With(owner, func() error {
//		// interpreter calls
//		return nil
//	})
//
// Operations that park the goroutine (sleep, join, condition wait) go
// through Block, which releases the lock for the duration of the wait and
// takes it back, at the same re-entrancy depth, before returning:
//
//	ch := register()
//	err := lock.Block(owner, func() { <-ch })
//
// The lock is poisoned when a panic escapes With. Poisoning is final.
package boundary
