package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus collectors of a migration run.
type Store struct {
	Registry *prometheus.Registry // custom registry, not the global one

	MigrationRunning     prometheus.Gauge
	PlannedStepsTotal    *prometheus.CounterVec
	FindingsTotal        *prometheus.CounterVec
	StatementsApplied    prometheus.Counter
	StepsApplied         prometheus.Counter
	ApplyDuration        prometheus.Histogram
	StatementDuration    *prometheus.HistogramVec
	MigrationErrorsTotal *prometheus.CounterVec
	DBConnections        *prometheus.GaugeVec
}

// NewMetricsStore creates and registers the collectors.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Store{
		Registry: registry,
		MigrationRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dbmigrate_up",
			Help: "Indicates if a migration is currently running (1 = running, 0 = idle).",
		}),
		PlannedStepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbmigrate_planned_steps_total",
			Help: "Total number of planned migration steps, labeled by step kind.",
		}, []string{"kind"}),
		FindingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbmigrate_destructive_findings_total",
			Help: "Total number of destructive change findings, labeled by severity (warning, unexecutable).",
		}, []string{"severity"}),
		StatementsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbmigrate_statements_applied_total",
			Help: "Total number of DDL statements executed successfully.",
		}),
		StepsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbmigrate_steps_applied_total",
			Help: "Total number of migration steps applied successfully.",
		}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbmigrate_apply_duration_seconds",
			Help:    "Duration of applying a whole migration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 15), // 50ms to ~14min
		}),
		StatementDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbmigrate_statement_duration_seconds",
			Help:    "Duration of individual DDL statements, labeled by step kind and status.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"kind", "status"}),
		MigrationErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbmigrate_errors_total",
			Help: "Total number of errors, labeled by type (plan, render, check, apply, connection).",
		}, []string{"type"}),
		DBConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbmigrate_db_connections_open",
			Help: "Open connections in the target database pool.",
		}, []string{"db_alias"}),
	}
}

// ObserveDBStats records the open connections reported by a pool.
func (s *Store) ObserveDBStats(alias string, openConnections int) {
	s.DBConnections.WithLabelValues(alias).Set(float64(openConnections))
}
