package runtime

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/config"
	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/errors"
	"github.com/wippyai/lua-threads/lib/thread"
	"github.com/wippyai/lua-threads/lib/wasm"
	"github.com/wippyai/lua-threads/metrics"
)

// Runtime is a ready-to-use interpreter session with the thread library
// (and optionally the wasm library) installed. It is safe for concurrent
// use: every call runs on its own sub-state.
type Runtime struct {
	sess     *engine.Session
	threads  *thread.Module
	wasm     *wasm.Module
	hosts    *HostRegistry
	cfg      *config.Config
	metrics  *metrics.Prometheus
	log      *zap.Logger
	out      io.Writer
	closeMu  sync.Mutex
	closeErr error
	closed   bool
}

type options struct {
	out      io.Writer
	logger   *zap.Logger
	registry *prometheus.Registry
	hosts    []Host
}

// Option configures a Runtime.
type Option func(*options)

// WithOutput sends print output to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithLogger sets the logger used by the session and libraries.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPrometheus registers session metrics on reg. Metrics are only
// recorded when enabled in the configuration.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithHost installs h as a module before any script runs.
func WithHost(h Host) Option {
	return func(o *options) { o.hosts = append(o.hosts, h) }
}

// New creates a runtime. A nil cfg uses config.Default().
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = engine.Logger()
	}

	id := uuid.Must(uuid.NewV7()).String()

	var recorder metrics.Recorder
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		reg := o.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		prom = metrics.NewPrometheus(reg, id)
		recorder = prom
	}

	sess, err := engine.NewSessionWithConfig(ctx, &engine.Config{
		ID:            id,
		Logger:        log,
		Recorder:      recorder,
		CallStackSize: cfg.Interpreter.CallStackSize,
		RegistrySize:  cfg.Interpreter.RegistrySize,
		MaxRefs:       cfg.Interpreter.MaxRefs,
	})
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		sess:    sess,
		threads: thread.New(sess, thread.Options{MaxThreads: cfg.Threads.Max}),
		hosts:   NewHostRegistry(),
		cfg:     cfg,
		metrics: prom,
		log:     log.Named("runtime"),
		out:     o.out,
	}

	if cfg.Wasm.Enabled {
		r.wasm, err = wasm.New(ctx, sess, wasm.Options{MemoryLimitPages: cfg.Wasm.MemoryPages})
		if err != nil {
			_ = sess.Close(ctx)
			return nil, errors.Wrap(errors.PhaseWasm, errors.KindInstantiation, err, "create wasm runtime")
		}
	}

	err = sess.Setup(func(L *lua.LState) error {
		install(L, thread.ModuleName, r.threads.Open(L), r.threads.Loader)
		if r.wasm != nil {
			install(L, wasm.ModuleName, r.wasm.Open(L), r.wasm.Loader)
		}
		L.SetGlobal("print", L.NewFunction(r.print))
		return nil
	})
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	for _, h := range o.hosts {
		if err := r.RegisterHost(h); err != nil {
			_ = r.Close(ctx)
			return nil, err
		}
	}

	r.log.Debug("runtime ready",
		zap.String("session", id),
		zap.Bool("wasm", r.wasm != nil),
		zap.Bool("metrics", prom != nil))
	return r, nil
}

func install(L *lua.LState, name string, tbl *lua.LTable, loader lua.LGFunction) {
	L.SetGlobal(name, tbl)
	L.PreloadModule(name, loader)
}

// Session returns the underlying session.
func (r *Runtime) Session() *engine.Session {
	return r.sess
}

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Threads returns the number of spawned threads still running.
func (r *Runtime) Threads() int {
	return r.threads.Running()
}

// WriteMetrics writes the session metrics in Prometheus text format.
// It writes nothing when metrics are disabled.
func (r *Runtime) WriteMetrics(w io.Writer) error {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.WriteText(w)
}

// Close stops the runtime. Sleeping and waiting threads are woken with an
// error; Close waits for running threads until ctx is done.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return r.closeErr
	}
	r.closed = true

	err := r.sess.Close(ctx)
	if r.wasm != nil {
		if werr := r.wasm.Close(context.WithoutCancel(ctx)); werr != nil && err == nil {
			err = werr
		}
	}
	r.closeErr = err
	return err
}

// RegisterHost exposes h to scripts as a global module and as a
// preloadable module under h.Namespace().
func (r *Runtime) RegisterHost(h Host) error {
	if err := r.hosts.RegisterHost(h); err != nil {
		return err
	}
	return r.bindHost(h.Namespace())
}

// RegisterFunc exposes a single Go function as namespace.name. Blocking
// functions run with the boundary lock released.
func (r *Runtime) RegisterFunc(namespace, name string, fn any, blocking bool) error {
	if err := r.hosts.RegisterFunc(namespace, name, fn, blocking); err != nil {
		return err
	}
	return r.bindHost(namespace)
}

// Hosts returns the host function registry.
func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

func (r *Runtime) bindHost(namespace string) error {
	return r.sess.Setup(func(L *lua.LState) error {
		tbl, err := r.hosts.Bind(L, r.sess, namespace)
		if err != nil {
			return err
		}
		install(L, namespace, tbl, func(L *lua.LState) int {
			L.Push(tbl)
			return 1
		})
		return nil
	})
}

func ctxOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
