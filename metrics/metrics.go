// Package metrics exposes prometheus instrumentation for the dispatch
// service and the standalone metrics HTTP server consumed by httpserver.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// DispatchesTotal counts dispatch attempts by final task status.
	DispatchesTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_tasks_total",
		Help: "Dispatch attempts by resulting task status.",
	}, []string{"status"})

	// LockAcquisitionsTotal counts per-device lock acquisition outcomes.
	LockAcquisitionsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_lock_acquisitions_total",
		Help: "Per-device lock acquisition outcomes.",
	}, []string{"outcome"})

	// TasksConsumedTotal counts queue consumptions that returned a task.
	TasksConsumedTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "dispatch_tasks_consumed_total",
		Help: "Queue consumptions that returned a task id.",
	})

	// QueueDepth tracks the pending task count per device queue. It is
	// refreshed from the store length after every enqueue and consume.
	QueueDepth = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Pending task count per device queue.",
	}, []string{"device"})

	// StatusReportsTotal counts persisted status reports by resolved code.
	StatusReportsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_status_reports_total",
		Help: "Persisted device status reports by resolved code.",
	}, []string{"code"})
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// MetricsServer serves the prometheus registry on its own listener so
// scrape traffic never shares a port with the API.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving /metrics until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
