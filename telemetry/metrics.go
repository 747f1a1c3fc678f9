// Package telemetry wires the Worker's progress events and the
// admission API into Prometheus metrics and OpenTelemetry tracing. Neither
// is part of the Workflow Execution Core: a node runs correctly with
// telemetry disabled.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node-level Prometheus collectors. A nil *Metrics is
// valid and every method becomes a no-op, so callers don't need to branch
// on whether telemetry is enabled.
type Metrics struct {
	registry *prometheus.Registry
	server   *http.Server

	tasksDispatched  *prometheus.CounterVec
	tasksFailed      *prometheus.CounterVec
	receiptsReplayed prometheus.Counter
	batchesProcessed prometheus.Counter
	batchDuration    prometheus.Histogram
	workflowsActive  prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors against their own
// registry (not the global default), so multiple Metrics instances never
// collide in tests.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tasksDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homestar",
			Name:      "tasks_dispatched_total",
			Help:      "Tasks whose receipt was produced, by ability.",
		}, []string{"ability"}),
		tasksFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homestar",
			Name:      "tasks_failed_total",
			Help:      "Tasks that failed with an infrastructure error, by ability.",
		}, []string{"ability"}),
		receiptsReplayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "homestar",
			Name:      "receipts_replayed_total",
			Help:      "Receipts adopted from the local store or a peer instead of freshly executed.",
		}),
		batchesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "homestar",
			Name:      "batches_processed_total",
			Help:      "Schedule batches that finished running.",
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homestar",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock time to run one schedule batch to completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		workflowsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "homestar",
			Name:      "workflows_active",
			Help:      "Workflows currently being driven by a Worker.",
		}),
	}
}

// Serve starts a Prometheus scrape endpoint at addr ("/metrics") and
// returns immediately; call Shutdown to stop it. A nil *Metrics or an
// empty addr is a no-op.
func (m *Metrics) Serve(addr string) error {
	if m == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- m.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("telemetry: serve metrics: %w", err)
		}
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// Shutdown stops the metrics HTTP server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// WorkflowStarted records that a Worker began driving a workflow.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsActive.Inc()
}

// WorkflowFinished records that a Worker finished driving a workflow
// (successfully or not).
func (m *Metrics) WorkflowFinished() {
	if m == nil {
		return
	}
	m.workflowsActive.Dec()
}

// TaskResolved records a task receipt, distinguishing fresh execution from
// replay (local or peer memoization).
func (m *Metrics) TaskResolved(ability string, replayed bool) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(ability).Inc()
	if replayed {
		m.receiptsReplayed.Inc()
	}
}

// TaskFailed records a task that failed with an infrastructure error
// (distinct from an Err(...) receipt, which is a successful dispatch).
func (m *Metrics) TaskFailed(ability string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(ability).Inc()
}

// BatchProcessed records that one schedule batch ran to completion
// in d.
func (m *Metrics) BatchProcessed(d time.Duration) {
	if m == nil {
		return
	}
	m.batchesProcessed.Inc()
	m.batchDuration.Observe(d.Seconds())
}
