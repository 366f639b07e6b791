package main

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	clonesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaproxy_clones_total",
			Help: "Clone operations by source engine and outcome.",
		},
		[]string{"engine", "result"},
	)

	cloneDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schemaproxy_clone_duration_seconds",
			Help:    "Wall time of clone operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	tablesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaproxy_tables_created_total",
			Help: "Tables created in destination databases.",
		},
		[]string{"engine"},
	)

	sourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaproxy_source_errors_total",
			Help: "Source connection and introspection failures by reason.",
		},
		[]string{"engine", "reason"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaproxy_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schemaproxy_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		clonesTotal,
		cloneDurationSeconds,
		tablesCreatedTotal,
		sourceErrorsTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

// cloneResult maps a clone error onto the result label.
func cloneResult(err error) string {
	var (
		invalidID *InvalidIdentifierError
		sourceErr *SourceConnectionError
		conflict  *DestinationConflictError
		tableErr  *TableCreationError
		destIOErr *DestinationIOError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &invalidID):
		return "invalid_identifier"
	case errors.As(err, &sourceErr):
		return "source_error"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &tableErr):
		return "table_error"
	case errors.As(err, &destIOErr):
		return "io_error"
	case errors.Is(err, ErrClonerClosed):
		return "closed"
	default:
		return "error"
	}
}

func observeClone(engine Engine, err error, elapsed time.Duration) {
	clonesTotal.WithLabelValues(string(engine), cloneResult(err)).Inc()
	cloneDurationSeconds.WithLabelValues(string(engine)).Observe(elapsed.Seconds())
}
