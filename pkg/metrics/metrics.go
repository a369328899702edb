// Package metrics exposes Prometheus metrics for the event sink.
//
// # Basic Usage
//
//	// Count rows written by an insert
//	metrics.RowsSent.WithLabelValues("course_blocks").Add(float64(len(rows)))
//
//	// Time a ClickHouse request
//	timer := metrics.NewTimer()
//	resp, err := client.Send(ctx, req)
//	metrics.RequestLatency.WithLabelValues("insert").Observe(timer.Stop().Seconds())
//
// All metrics are registered with the default registry on package init and are
// served by the worker through promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsSent counts rows submitted to ClickHouse inserts.
	// Labels: table
	RowsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_rows_sent_total",
			Help: "Total number of rows submitted to ClickHouse",
		},
		[]string{"table"},
	)

	// Requests counts ClickHouse requests by kind and outcome.
	// Labels: kind (insert/select/delete), status (HTTP status code or "error")
	//
	// Example:
	//	metrics.Requests.WithLabelValues("insert", "200").Inc()
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_clickhouse_requests_total",
			Help: "Total number of requests sent to ClickHouse",
		},
		[]string{"kind", "status"},
	)

	// RequestLatency tracks ClickHouse request latency in seconds.
	// Labels: kind
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_sink_clickhouse_request_duration_seconds",
			Help:    "Latency of ClickHouse requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	// RowCountMismatches counts inserts where ClickHouse reported a different
	// number of written rows than were sent.
	RowCountMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_row_count_mismatches_total",
			Help: "Inserts whose written row count differed from the rows sent",
		},
		[]string{"table"},
	)

	// RecordsSubmitted counts records marked for export by bulk dumps.
	// Labels: sink
	RecordsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_records_submitted_total",
			Help: "Records marked for export",
		},
		[]string{"sink"},
	)

	// RecordsSkipped counts records the sync policy decided not to export.
	// Labels: sink
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_records_skipped_total",
			Help: "Records skipped by the sync policy",
		},
		[]string{"sink"},
	)

	// DumpFailures counts dumps aborted by an error.
	// Labels: sink
	DumpFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_dump_failures_total",
			Help: "Dumps aborted by an error",
		},
		[]string{"sink"},
	)

	// WorkerTasks counts tasks handled by the worker.
	// Labels: task, status (success/failure/skipped)
	WorkerTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_sink_worker_tasks_total",
			Help: "Tasks handled by the worker",
		},
		[]string{"task", "status"},
	)
)

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer started. It can be called more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
