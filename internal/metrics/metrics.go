// Package metrics instruments heightmap batch runs with Prometheus collectors.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "heightmapgen"

// Site outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	SitesTotal     *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	FetchBytes     *prometheus.CounterVec
	Warnings       *prometheus.CounterVec
	FilledSamples  prometheus.Counter
	LastRunSeconds prometheus.Gauge
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SitesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "sites_total",
			Help:      "Sites processed, by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each per-site pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Per-site failures, by stage and error kind",
		}, []string{"stage", "kind"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time to obtain a raw DEM, by source",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		FetchBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Raw DEM bytes obtained, by source",
		}, []string{"source"}),
		Warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "warnings_total",
			Help:      "Non-fatal data warnings, by kind",
		}, []string{"kind"}),
		FilledSamples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "filled_samples_total",
			Help:      "No-data samples replaced before transforming",
		}),
		LastRunSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last batch run",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSite counts a finished site.
func (m *Metrics) ObserveSite(outcome string) {
	if m == nil {
		return
	}
	m.SitesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveStageError counts a failed stage.
func (m *Metrics) ObserveStageError(stage, kind string) {
	if m == nil {
		return
	}
	m.StageErrors.WithLabelValues(stage, kind).Inc()
}

// ObserveFetch records a raw DEM fetch.
func (m *Metrics) ObserveFetch(source string, bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
	m.FetchBytes.WithLabelValues(source).Add(float64(bytes))
}

// ObserveWarning counts a data warning.
func (m *Metrics) ObserveWarning(kind string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(kind).Inc()
}

// ObserveFilled counts replaced no-data samples.
func (m *Metrics) ObserveFilled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilledSamples.Add(float64(n))
}

// ObserveRun records the batch wall time.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.LastRunSeconds.Set(d.Seconds())
}

// WriteTextfile writes all collectors in the Prometheus text format, for
// pickup by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
