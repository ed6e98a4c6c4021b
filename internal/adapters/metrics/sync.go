// Package metrics exports sync orchestrator counters to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsamuelsen/quotekeeper/internal/app"
)

const namespace = "quotekeeper"

// Outcome labels for cycles that did not produce a merge outcome.
const (
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// SyncMetrics implements app.SyncMetrics with Prometheus collectors.
type SyncMetrics struct {
	cycles  *prometheus.CounterVec
	records *prometheus.CounterVec
	stored  prometheus.Gauge
	elapsed *prometheus.HistogramVec
}

// NewSyncMetrics creates the collectors and registers them with reg.
func NewSyncMetrics(reg prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records added or replaced by sync cycles.",
		}, []string{"kind"}),
		stored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records",
			Help:      "Quotes currently held in memory.",
		}),
		elapsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of completed sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{m.cycles, m.records, m.stored, m.elapsed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordSync implements app.SyncMetrics.
func (m *SyncMetrics) RecordSync(_ context.Context, result app.SyncResult, storeSize int) {
	m.stored.Set(float64(storeSize))

	switch {
	case result.Skipped:
		m.cycles.WithLabelValues(string(result.Trigger), OutcomeSkipped).Inc()
		return
	case result.Failed:
		m.cycles.WithLabelValues(string(result.Trigger), OutcomeFailed).Inc()
		return
	}

	m.cycles.WithLabelValues(string(result.Trigger), result.Outcome.Kind.String()).Inc()
	m.records.WithLabelValues("added").Add(float64(result.Outcome.Added))
	m.records.WithLabelValues("replaced").Add(float64(result.Outcome.Replaced))
	m.elapsed.WithLabelValues(string(result.Mode)).Observe(result.Duration.Seconds())
}
