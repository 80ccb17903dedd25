// Package metrics exposes Prometheus instrumentation for data protection
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the engines report to. All methods must be safe to call
// concurrently.
type Recorder interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	ObserveBackup(backupType string, sizeBytes int64, records int)
	ObserveRestore(collection string, applied, failed int)
	ObserveSweep(sweep string, affected int)
	ObserveMigration(status string)
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Prometheus implements Recorder.
type Prometheus struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	backupBytes       *prometheus.HistogramVec
	backupRecords     *prometheus.GaugeVec
	restoredRecords   *prometheus.CounterVec
	sweptRecords      *prometheus.CounterVec
	migrationsTotal   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewPrometheus registers the collectors with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataguard_operations_total",
			Help: "Data protection operations by outcome",
		}, []string{"operation", "status"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataguard_operation_duration_seconds",
			Help:    "Duration of data protection operations",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"operation"}),
		backupBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataguard_backup_size_bytes",
			Help:    "Encoded snapshot payload size",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"type"}),
		backupRecords: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dataguard_last_backup_records",
			Help: "Records captured by the most recent backup of each type",
		}, []string{"type"}),
		restoredRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataguard_restored_records_total",
			Help: "Records replayed by restores",
		}, []string{"collection", "result"}),
		sweptRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataguard_retention_affected_total",
			Help: "Rows moved or deleted by retention sweeps",
		}, []string{"sweep"}),
		migrationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataguard_migrations_total",
			Help: "Migrations by final status",
		}, []string{"status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataguard_http_requests_total",
			Help: "Admin API requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataguard_http_request_duration_seconds",
			Help:    "Admin API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (p *Prometheus) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.operationsTotal.WithLabelValues(operation, status).Inc()
	p.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveBackup(backupType string, sizeBytes int64, records int) {
	p.backupBytes.WithLabelValues(backupType).Observe(float64(sizeBytes))
	p.backupRecords.WithLabelValues(backupType).Set(float64(records))
}

func (p *Prometheus) ObserveRestore(collection string, applied, failed int) {
	p.restoredRecords.WithLabelValues(collection, "applied").Add(float64(applied))
	if failed > 0 {
		p.restoredRecords.WithLabelValues(collection, "failed").Add(float64(failed))
	}
}

func (p *Prometheus) ObserveSweep(sweep string, affected int) {
	p.sweptRecords.WithLabelValues(sweep).Add(float64(affected))
}

func (p *Prometheus) ObserveMigration(status string) {
	p.migrationsTotal.WithLabelValues(status).Inc()
}

func (p *Prometheus) ObserveHTTP(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, statusBucket(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type noop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return noop{} }

func (noop) ObserveOperation(string, time.Duration, error) {}
func (noop) ObserveBackup(string, int64, int) {}
func (noop) ObserveRestore(string, int, int) {}
func (noop) ObserveSweep(string, int) {}
func (noop) ObserveMigration(string) {}
func (noop) ObserveHTTP(string, string, int, time.Duration) {}
