// Package metrics records session level counters: time spent waiting for the
// boundary lock, suspensions through the blocking-call guard, thread
// lifecycle and the number of live registry references.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Suspension kinds reported through Recorder.Suspension.
const (
	SuspendJoin  = "join"
	SuspendSleep = "sleep"
	SuspendWait  = "wait"
	SuspendMutex = "mutex"
	SuspendPark  = "park"
	SuspendYield = "yield"
	SuspendWasm  = "wasm"
	SuspendHost  = "host"
)

// Recorder receives session events. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	LockWait(d time.Duration)
	Suspension(kind string)
	ThreadSpawned()
	ThreadFinished(failed bool)
	RegistrySize(n int)
}

// Nop returns a Recorder that discards everything.
func Nop() Recorder {
	return nop{}
}

type nop struct{}

func (nop) LockWait(time.Duration) {}
func (nop) Suspension(string)      {}
func (nop) ThreadSpawned()         {}
func (nop) ThreadFinished(bool)    {}
func (nop) RegistrySize(int)       {}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	gatherer prometheus.Gatherer

	lockWait       prometheus.Histogram
	suspensions    *prometheus.CounterVec
	threadsSpawned prometheus.Counter
	threadsDone    *prometheus.CounterVec
	threadsRunning prometheus.Gauge
	registryLive   prometheus.Gauge
}

// NewPrometheus registers the session collectors on reg. Every collector
// carries a constant session label.
func NewPrometheus(reg *prometheus.Registry, session string) *Prometheus {
	f := promauto.With(reg)
	labels := prometheus.Labels{"session": session}

	return &Prometheus{
		gatherer: reg,
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "lthread_lock_wait_seconds",
			Help:        "Time spent queued for the boundary lock",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		suspensions: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "lthread_suspensions_total",
			Help:        "Blocking calls that released the boundary lock",
			ConstLabels: labels,
		}, []string{"kind"}),
		threadsSpawned: f.NewCounter(prometheus.CounterOpts{
			Name:        "lthread_threads_spawned_total",
			Help:        "Script threads started",
			ConstLabels: labels,
		}),
		threadsDone: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "lthread_threads_finished_total",
			Help:        "Script threads finished, by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		threadsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name:        "lthread_threads_running",
			Help:        "Script threads currently running",
			ConstLabels: labels,
		}),
		registryLive: f.NewGauge(prometheus.GaugeOpts{
			Name:        "lthread_registry_live_refs",
			Help:        "Live value references",
			ConstLabels: labels,
		}),
	}
}

func (p *Prometheus) LockWait(d time.Duration) {
	p.lockWait.Observe(d.Seconds())
}

func (p *Prometheus) Suspension(kind string) {
	p.suspensions.WithLabelValues(kind).Inc()
}

func (p *Prometheus) ThreadSpawned() {
	p.threadsSpawned.Inc()
	p.threadsRunning.Inc()
}

func (p *Prometheus) ThreadFinished(failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	p.threadsDone.WithLabelValues(outcome).Inc()
	p.threadsRunning.Dec()
}

func (p *Prometheus) RegistrySize(n int) {
	p.registryLive.Set(float64(n))
}

// WriteText writes every gathered metric family in the text exposition format.
func (p *Prometheus) WriteText(w io.Writer) error {
	families, err := p.gatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
