package autoupdate

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewMetricsRegistry returns a registry holding the gauges of one run.
func NewMetricsRegistry(s *Summary) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	apps := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bucketkit_apps",
			Help: "Number of apps per update outcome in the last run",
		},
		[]string{"outcome"},
	)
	counts := s.Counts()
	for _, o := range ValidOutcomes() {
		apps.WithLabelValues(string(o)).Set(float64(counts[o]))
	}

	factory.NewGauge(prometheus.GaugeOpts{
		Name: "bucketkit_last_run_timestamp_seconds",
		Help: "Unix time the last run finished",
	}).Set(float64(s.FinishedAt.Unix()))

	factory.NewGauge(prometheus.GaugeOpts{
		Name: "bucketkit_run_duration_seconds",
		Help: "Duration of the last run in seconds",
	}).Set(s.FinishedAt.Sub(s.StartedAt).Seconds())

	failed := 0.0
	if s.Failures() > 0 {
		failed = 1
	}
	factory.NewGauge(prometheus.GaugeOpts{
		Name: "bucketkit_last_run_failed",
		Help: "1 if any app failed in the last run",
	}).Set(failed)

	return reg
}

// WriteMetrics writes the run gauges to path in the node_exporter textfile format.
func WriteMetrics(path string, s *Summary) error {
	if err := prometheus.WriteToTextfile(path, NewMetricsRegistry(s)); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
