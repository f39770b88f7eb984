package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vaultscope"

// Chunk outcome labels.
const (
	StatusOK      = "ok"
	StatusRetried = "retried"
	StatusFailed  = "failed"
)

// Metrics holds the collectors shared by the executor, the aggregation loop and
// the classifier. A nil *Metrics is valid and records nothing.
type Metrics struct {
	chunks        *prometheus.CounterVec
	calls         *prometheus.CounterVec
	chunkDuration prometheus.Histogram
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	classified    *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "multicall",
			Name:      "chunks_total",
			Help:      "Aggregate calls sent, by outcome.",
		}, []string{"status"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "multicall",
			Name:      "calls_total",
			Help:      "Individual calls executed inside aggregate calls, by outcome.",
		}, []string{"status"}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "multicall",
			Name:      "chunk_duration_seconds",
			Help:      "Latency of one aggregate call including its retry.",
			Buckets:   prometheus.DefBuckets,
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "cycles_total",
			Help:      "Completed fetch cycles, by outcome.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one fetch cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "classified_total",
			Help:      "Classified transactions, by action and sub-action.",
		}, []string{"action", "sub_action"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.chunks, m.calls, m.chunkDuration, m.cycles, m.cycleDuration, m.classified} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

// ObserveChunk records one aggregate call.
func (m *Metrics) ObserveChunk(status string, succeeded, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(status).Inc()
	m.calls.WithLabelValues(StatusOK).Add(float64(succeeded))
	m.calls.WithLabelValues(StatusFailed).Add(float64(failed))
	m.chunkDuration.Observe(took.Seconds())
}

// ObserveCycle records one aggregation cycle.
func (m *Metrics) ObserveCycle(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

// IncClassified records one classified transaction.
func (m *Metrics) IncClassified(action, subAction string) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(action, subAction).Inc()
}
