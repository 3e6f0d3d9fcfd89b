package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "s1")

	p.ThreadSpawned()
	p.ThreadSpawned()
	p.ThreadFinished(false)
	p.ThreadFinished(true)
	p.ThreadSpawned()

	assert.Equal(t, 3.0, testutil.ToFloat64(p.threadsSpawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.threadsDone.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.threadsDone.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.threadsRunning))

	p.Suspension(SuspendJoin)
	p.Suspension(SuspendWait)
	p.Suspension(SuspendWait)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.suspensions.WithLabelValues(SuspendWait)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.suspensions.WithLabelValues(SuspendJoin)))

	p.RegistrySize(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(p.registryLive))
}

func TestPrometheus_LockWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "s1")

	p.LockWait(time.Millisecond)
	p.LockWait(2 * time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "lthread_lock_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrometheus_WriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "abc")
	p.ThreadSpawned()

	var buf bytes.Buffer
	require.NoError(t, p.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "lthread_threads_spawned_total")
	assert.Contains(t, out, `session="abc"`)
}

func TestNop(t *testing.T) {
	r := Nop()
	r.LockWait(time.Second)
	r.Suspension(SuspendSleep)
	r.ThreadSpawned()
	r.ThreadFinished(true)
	r.RegistrySize(3)
}
