package boundary

// Block runs a suspending operation with the lock released.
//
// If owner holds the lock, every level of its ownership is given up before
// fn runs and restored before Block returns, also when fn panics. Anything
// fn needs to be woken by (a channel, a queue slot) must be registered
// before Block is called; a notifier can only run once the lock has been
// handed over, so it always finds the waiter.
//
// If owner does not hold the lock, fn simply runs. A non-nil error means the
// lock was poisoned while owner was suspended; owner does not hold the lock
// and must not touch the interpreter again.
func (l *Lock) Block(owner *Owner, fn func()) (err error) {
	depth := l.suspend(owner)
	if depth == 0 {
		fn()
		return nil
	}

	defer func() {
		if rerr := l.acquire(owner, depth); rerr != nil && err == nil {
			err = rerr
		}
	}()

	fn()
	return nil
}

// suspend fully releases owner's hold and returns the depth it had.
func (l *Lock) suspend(owner *Owner) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned != nil || l.holder != owner {
		return 0
	}

	depth := l.depth
	l.handoff()
	return depth
}
