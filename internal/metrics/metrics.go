// Package metrics exposes download counters in the Prometheus text format.
package metrics

import (
	"io"
	"math"
	"sync/atomic"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/fentz26/fetchpool/internal/download"
)

// Metrics holds the fetchpool metric set.
type Metrics struct {
	set *vm.Set

	started   *vm.Counter
	succeeded *vm.Counter
	failed    *vm.Counter
	bytes     *vm.Counter

	free    atomic.Int64
	working atomic.Int64
	waiting atomic.Int64
	speed   atomic.Uint64
}

// New registers all metrics in a fresh set.
func New() *Metrics {
	m := &Metrics{set: vm.NewSet()}
	m.started = m.set.NewCounter("fetchpool_downloads_started_total")
	m.succeeded = m.set.NewCounter("fetchpool_downloads_succeeded_total")
	m.failed = m.set.NewCounter("fetchpool_downloads_failed_total")
	m.bytes = m.set.NewCounter("fetchpool_downloaded_bytes_total")

	m.set.NewGauge("fetchpool_agents_free", func() float64 { return float64(m.free.Load()) })
	m.set.NewGauge("fetchpool_agents_working", func() float64 { return float64(m.working.Load()) })
	m.set.NewGauge("fetchpool_tasks_waiting", func() float64 { return float64(m.waiting.Load()) })
	m.set.NewGauge("fetchpool_speed_bytes_per_second", func() float64 {
		return math.Float64frombits(m.speed.Load())
	})
	return m
}

// Handlers returns manager handlers that count download events.
func (m *Metrics) Handlers() download.Handlers {
	return download.Handlers{
		Start:   func(download.Progress) { m.started.Inc() },
		Update:  func(_ download.Progress, delta int64) { m.bytes.Add(int(delta)) },
		Success: func(download.Progress, int64) { m.succeeded.Inc() },
		Failure: func(download.Progress, string) { m.failed.Inc() },
	}
}

// Observe copies the manager gauges. Call it on the goroutine that owns mgr.
func (m *Metrics) Observe(mgr *download.Manager) {
	m.free.Store(int64(mgr.FreeAgentCount()))
	m.working.Store(int64(mgr.WorkingAgentCount()))
	m.waiting.Store(int64(mgr.WaitingTaskCount()))
	m.speed.Store(math.Float64bits(mgr.CurrentSpeed()))
}

// WritePrometheus writes all metrics to w.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
