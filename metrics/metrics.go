// Package metrics exposes harness counters in the Prometheus text format.
// A run writes them to a textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "allocbench"

// Trial outcomes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics owns a private registry. All methods are no-ops on a nil
// receiver so callers can leave metrics disabled.
type Metrics struct {
	Registry *prometheus.Registry

	// TrialsTotal counts trials by allocator, benchmark and status.
	TrialsTotal *prometheus.CounterVec
	// TrialSeconds measures wall time of one trial including any server.
	TrialSeconds *prometheus.HistogramVec
	// BuildsTotal counts build attempts by allocator and status.
	BuildsTotal *prometheus.CounterVec
	// AttributeValue holds the latest reduced value per attribute.
	AttributeValue *prometheus.GaugeVec
}

// New registers the harness metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Benchmark trials by allocator, benchmark and status",
		}, []string{"allocator", "benchmark", "status"}),
		TrialSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "Wall time of a single benchmark trial",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"allocator", "benchmark"}),
		BuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Allocator build attempts by status",
		}, []string{"allocator", "status"}),
		AttributeValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attribute_value",
			Help:      "Latest reduced benchmark attribute",
		}, []string{"allocator", "benchmark", "attribute"}),
	}
}

// ObserveTrial records one trial.
func (m *Metrics) ObserveTrial(allocator, benchmark string, d time.Duration, err error) {
	if m == nil {
		return
	}

	m.TrialsTotal.WithLabelValues(allocator, benchmark, status(err)).Inc()
	m.TrialSeconds.WithLabelValues(allocator, benchmark).Observe(d.Seconds())
}

// ObserveBuild records one build attempt.
func (m *Metrics) ObserveBuild(allocator string, err error) {
	if m == nil {
		return
	}

	m.BuildsTotal.WithLabelValues(allocator, status(err)).Inc()
}

// SetAttribute stores a reduced attribute value.
func (m *Metrics) SetAttribute(allocator, benchmark, attribute string, v float64) {
	if m == nil {
		return
	}

	m.AttributeValue.WithLabelValues(allocator, benchmark, attribute).Set(v)
}

// WriteFile writes the registry in text exposition format to path.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	return nil
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}

	return StatusSuccess
}
