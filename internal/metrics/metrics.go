// Package metrics records run counters in a Prometheus registry and writes
// them to a node exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"covid-alerts/internal/monitor"
)

const namespace = "covidalerts"

// Recorder holds the metrics of one run.
type Recorder struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	skippedRows   *prometheus.CounterVec
	lastRun       *prometheus.GaugeVec
	runDuration   *prometheus.GaugeVec
	attention     prometheus.Gauge
}

// NewRecorder creates a Recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Number of series evaluated by status",
			},
			[]string{"domain", "status"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Number of alerts raised by metric and severity",
			},
			[]string{"domain", "metric", "severity"},
		),
		fetchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Number of entities that could not be fetched",
			},
			[]string{"domain"},
		),
		skippedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_config_rows_total",
				Help:      "Number of malformed configuration rows skipped",
			},
			[]string{"domain"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
			[]string{"domain"},
		),
		runDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of the last run",
			},
			[]string{"domain"},
		),
		attention: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "trust_attention",
				Help:      "1 when a trust reported a recent death in the last run",
			},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record adds the results of report to the counters.
func (r *Recorder) Record(report *monitor.Report) {
	domain := string(report.Domain)

	for _, ev := range report.Evaluations {
		r.evaluations.WithLabelValues(domain, string(ev.Status)).Inc()
		for _, a := range ev.Alerts {
			r.alerts.WithLabelValues(domain, string(a.Metric), a.Severity.String()).Inc()
		}
	}
	r.fetchFailures.WithLabelValues(domain).Add(float64(len(report.Failures)))
	r.skippedRows.WithLabelValues(domain).Add(float64(len(report.Skipped)))

	if !report.FinishedAt.IsZero() {
		r.lastRun.WithLabelValues(domain).Set(float64(report.FinishedAt.Unix()))
	}
	r.runDuration.WithLabelValues(domain).Set(report.Duration().Seconds())

	if report.Domain == monitor.DomainTrusts {
		if report.Attention {
			r.attention.Set(1)
		} else {
			r.attention.Set(0)
		}
	}
}

// WriteTextfile writes the registry to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
