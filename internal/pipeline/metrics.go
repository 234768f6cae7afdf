package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/studytrack/internal/remote"
)

// Write and sync results, used as the "result" label.
const (
	resultPersisted    = "persisted"
	resultQueued       = "queued"
	resultEnqueueError = "enqueue_error"
	resultSynced       = "synced"
	resultFailed       = "failed"
)

// Metrics counts pipeline outcomes per category. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	writes *prometheus.CounterVec
	syncs  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg. Registering on a
// registry that already holds them reuses the existing collectors, so every
// session in one process feeds the same series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studytrack_pipeline_writes_total",
			Help: "Writes handled by the resilient pipeline by category and result.",
		}, []string{"category", "result"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studytrack_pipeline_sync_attempts_total",
			Help: "Fallback entries retried during sync by category and result.",
		}, []string{"category", "result"}),
	}
	if reg != nil {
		m.writes = register(reg, m.writes)
		m.syncs = register(reg, m.syncs)
	}
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) write(table remote.Table, result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(string(table), result).Inc()
}

func (m *Metrics) sync(table remote.Table, result string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(string(table), result).Inc()
}
