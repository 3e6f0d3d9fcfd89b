package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/boundary"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/metrics"
	"github.com/wippyai/lua-threads/registry"
)

// MainThreadName names execution contexts started by the host.
const MainThreadName = "main"

// Session owns one interpreter shared by any number of goroutines.
//
// The root state is only used for setup. Every goroutine that wants to run
// interpreted code opens its own sub-state with Open, which shares globals
// with the root but has its own stack, and enters it through Exec.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	root      *lua.LState
	rootOwner *boundary.Owner
	lock      *boundary.Lock
	refs      *registry.Registry
	states    *stateTable
	hooks     Hooks
	recorder  metrics.Recorder
	log       *zap.Logger
	opened    time.Time
	id        string
	wg        sync.WaitGroup
	nextID    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	onClose   []func(owner *boundary.Owner, failed bool)
	onCloseMu sync.Mutex
}

// State is a sub-state handed to one execution context.
type State struct {
	L      *lua.LState
	Owner  *boundary.Owner
	cancel context.CancelFunc
}

// Cancel cancels the state's context. Running code stops at its next
// instruction and suspended operations wake with an error.
func (st *State) Cancel() {
	if st.cancel != nil {
		st.cancel()
	}
}

// NewSession creates a session with default configuration
func NewSession(ctx context.Context) (*Session, error) {
	return NewSessionWithConfig(ctx, nil)
}

// NewSessionWithConfig creates a session with custom configuration
func NewSessionWithConfig(ctx context.Context, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.CallStackSize < 0 || cfg.RegistrySize < 0 || cfg.MaxRefs < 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "sizes must not be negative")
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}

	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	id := cfg.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	sctx, cancel := context.WithCancel(ctx)

	s := &Session{
		ctx:       sctx,
		cancel:    cancel,
		opened:    time.Now(),
		id:        id,
		lock:      boundary.New(recorder),
		refs:      registry.New(cfg.MaxRefs),
		states:    newStateTable(),
		recorder:  recorder,
		log:       log.Named("session").With(zap.String("session", id)),
		rootOwner: boundary.NewOwner(0, MainThreadName),
	}

	var hooks Hooks = &lockHooks{lock: s.lock, states: s.states}
	if cfg.WrapHooks != nil {
		hooks = cfg.WrapHooks(hooks)
	}
	s.hooks = hooks

	s.refs.Subscribe(registryObserver{s.recorder})

	s.root = lua.NewState(lua.Options{
		CallStackSize: cfg.CallStackSize,
		RegistrySize:  cfg.RegistrySize,
		SkipOpenLibs:  cfg.SkipOpenLibs,
	})
	s.root.SetContext(sctx)
	s.hooks.StateOpen(s.root, s.rootOwner)

	s.log.Debug("session opened")
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Lock returns the boundary lock guarding the interpreter.
func (s *Session) Lock() *boundary.Lock {
	return s.lock
}

// Refs returns the session's value reference registry.
func (s *Session) Refs() *registry.Registry {
	return s.refs
}

// Recorder returns the session's metrics recorder.
func (s *Session) Recorder() metrics.Recorder {
	return s.recorder
}

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger {
	return s.log
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// NewOwner returns an owner token with a fresh id. An empty name becomes
// "thread-<id>".
func (s *Session) NewOwner(name string) *boundary.Owner {
	id := s.nextID.Add(1)
	if name == "" {
		name = fmt.Sprintf("thread-%d", id)
	}
	return boundary.NewOwner(id, name)
}

// MainOwner returns a new owner for a host-initiated execution context.
// All such owners share id 0 and the name "main".
func (s *Session) MainOwner() *boundary.Owner {
	return boundary.NewOwner(0, MainThreadName)
}

// Setup runs fn against the root state. It is meant for registering
// globals and modules before any execution context starts.
func (s *Session) Setup(fn func(L *lua.LState) error) error {
	if s.closed.Load() {
		return errors.Closed(errors.PhaseCall, "session")
	}
	return s.Exec(s.root, fn)
}

// Open creates a sub-state for owner and announces it through the hooks.
// The state must be released with CloseState.
func (s *Session) Open(owner *boundary.Owner) (*State, error) {
	if s.closed.Load() {
		return nil, errors.Closed(errors.PhaseCall, "session")
	}

	L, cancel := s.root.NewThread()
	s.hooks.StateOpen(L, owner)

	return &State{L: L, Owner: owner, cancel: cancel}, nil
}

// CloseState discards a sub-state. It does not need the boundary lock and
// may be called while holding it.
func (s *Session) CloseState(st *State) {
	s.closeState(st.L, st.Owner)
	st.Cancel()
}

// OnStateClose registers fn to run each time a state closes. fn receives
// the state's owner and whether the latest Exec on the state failed.
// Libraries use it to release what an execution context left behind.
// fn may run with or without the boundary lock held.
func (s *Session) OnStateClose(fn func(owner *boundary.Owner, failed bool)) {
	s.onCloseMu.Lock()
	s.onClose = append(s.onClose, fn)
	s.onCloseMu.Unlock()
}

func (s *Session) closeState(L *lua.LState, owner *boundary.Owner) {
	failed := s.states.failed(L)
	s.hooks.StateClose(L)

	s.onCloseMu.Lock()
	listeners := slices.Clone(s.onClose)
	s.onCloseMu.Unlock()

	if owner == nil {
		return
	}
	for _, fn := range listeners {
		fn(owner, failed)
	}
}

// OwnerOf resolves the owner of L, following coroutines to the state that
// resumed them. It returns nil for states the session does not know.
func (s *Session) OwnerOf(L *lua.LState) *boundary.Owner {
	info := s.states.lookup(L)
	if info == nil {
		return nil
	}
	return info.owner
}

// Exec runs fn with the boundary lock held on behalf of L's owner, going
// through the lock and unlock hooks. Exec is re-entrant for the same owner.
// A panic escaping fn poisons the lock and is returned as the poison error.
// Whether the outermost call failed is reported to OnStateClose listeners.
func (s *Session) Exec(L *lua.LState, fn func(L *lua.LState) error) (err error) {
	if err := s.hooks.Lock(L); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			owner := s.OwnerOf(L)
			s.states.setFailed(L, true)
			err = s.lock.Poison(owner, fmt.Errorf("%v", r))
			s.log.Error("interpreter holder terminated abnormally",
				zap.Stringer("owner", owner),
				zap.Any("panic", r))
			return
		}
		// Nested calls exit first, so the outermost result is the one kept.
		s.states.setFailed(L, err != nil)
		if uerr := s.hooks.Unlock(L); uerr != nil && err == nil {
			err = uerr
		}
	}()

	return fn(L)
}

// Block runs a suspending operation for L's owner with the boundary lock
// released, and takes the lock back before returning. kind labels the
// suspension in metrics.
func (s *Session) Block(L *lua.LState, kind string, fn func()) error {
	owner := s.OwnerOf(L)
	if owner == nil {
		fn()
		return nil
	}
	s.recorder.Suspension(kind)
	if err := s.lock.Block(owner, fn); err != nil {
		s.log.Error("boundary lock poisoned while suspended",
			zap.Stringer("owner", owner),
			zap.String("kind", kind),
			zap.Error(err))
		return err
	}
	return nil
}

// Go runs fn on a new goroutine tracked by the session. Close waits for
// tracked goroutines.
func (s *Session) Go(fn func()) error {
	if s.closed.Load() {
		return errors.Closed(errors.PhaseThread, "session")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return nil
}

// Close cancels the session context, waits for tracked goroutines until ctx
// is done, then releases the registry and the root state.
//
// The teardown runs while holding the boundary lock, so it waits for a host
// Exec that is still inside the interpreter. If ctx ends first Close returns
// a deadlock error and the teardown runs once the lock is released.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Wrap(errors.PhaseThread, errors.KindDeadlock, ctx.Err(),
				"threads still running at close")
			s.log.Warn("closing session with threads still running")
			return
		}

		acquired := make(chan error, 1)
		go func() { acquired <- s.lock.Acquire(s.rootOwner) }()

		select {
		case aerr := <-acquired:
			s.teardown(aerr == nil)
		case <-ctx.Done():
			err = errors.Wrap(errors.PhaseCall, errors.KindDeadlock, ctx.Err(),
				"interpreter still held at close")
			s.log.Warn("closing session while the interpreter is held")
			go func() { s.teardown(<-acquired == nil) }()
		}
	})
	return err
}

// teardown releases everything the session owns. locked is set when the
// caller holds the boundary lock for the root owner; a poisoned lock is
// torn down without it.
func (s *Session) teardown(locked bool) {
	if locked {
		defer func() { _ = s.lock.Release(s.rootOwner) }()
	}

	s.refs.Each(func(ref registry.Ref, kind registry.Kind, _ any) bool {
		s.log.Debug("reference leaked",
			zap.Stringer("ref", ref),
			zap.Stringer("kind", kind))
		return true
	})
	if leaked := s.refs.Close(); leaked > 0 {
		s.log.Debug("released leaked references", zap.Int("count", leaked))
	}

	for _, L := range s.states.snapshot() {
		s.closeState(L, s.OwnerOf(L))
	}
	s.root.Close()

	s.log.Debug("session closed", zap.Duration("uptime", time.Since(s.opened)))
}

// registryObserver forwards the live reference count to the recorder.
type registryObserver struct {
	recorder metrics.Recorder
}

func (o registryObserver) OnRegistryEvent(e registry.Event) {
	o.recorder.RegistrySize(e.Live)
}
