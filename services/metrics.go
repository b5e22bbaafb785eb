// services/metrics.go
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the sync pipeline's Prometheus instruments.
type Metrics struct {
	files         *prometheus.CounterVec
	rowsLoaded    *prometheus.CounterVec
	batchFailures *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	runDuration   *prometheus.HistogramVec
	runsInFlight  prometheus.Gauge
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playsync_files_total",
			Help: "Files seen by sync runs, by outcome",
		}, []string{"outcome"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playsync_rows_loaded_total",
			Help: "Rows sent to destination tables",
		}, []string{"table"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playsync_batch_failures_total",
			Help: "Bulk insert batches that failed",
		}, []string{"table"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playsync_batch_insert_duration_seconds",
			Help:    "Time spent in one bulk insert",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playsync_run_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playsync_runs_in_flight",
			Help: "Sync runs currently executing",
		}),
	}
	reg.MustRegister(m.files, m.rowsLoaded, m.batchFailures, m.batchDuration, m.runDuration, m.runsInFlight)
	return m
}
