// Package metrics exposes node Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the node's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paralink",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paralink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paralink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	pqlExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paralink",
			Subsystem: "pql",
			Name:      "executions_total",
			Help:      "Total number of PQL document executions.",
		},
		[]string{"status"},
	)

	pqlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paralink",
			Subsystem: "pql",
			Name:      "execution_duration_seconds",
			Help:      "Duration of PQL document executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"status"},
	)

	pipelineRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paralink",
			Subsystem: "pql",
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of single source pipelines.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"status"},
	)

	executorTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paralink",
			Subsystem: "executor",
			Name:      "tasks_total",
			Help:      "Executor task outcomes per chain.",
		},
		[]string{"chain", "outcome"},
	)

	executorAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paralink",
			Subsystem: "executor",
			Name:      "attempts_total",
			Help:      "Executor attempts per chain, including retries.",
		},
		[]string{"chain"},
	)

	collectorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paralink",
			Subsystem: "collector",
			Name:      "request_events_total",
			Help:      "Request events dispatched by chain listeners.",
		},
		[]string{"chain"},
	)

	collectorListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paralink",
			Subsystem: "collector",
			Name:      "active_listeners",
			Help:      "Number of running chain listener tasks.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		pqlExecutions,
		pqlDuration,
		pipelineRuns,
		executorTasks,
		executorAttempts,
		collectorEvents,
		collectorListeners,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// pathFor maps a request onto a bounded label; nil uses the first path segment.
func InstrumentHandler(next http.Handler, pathFor func(*http.Request) string) http.Handler {
	if pathFor == nil {
		pathFor = func(r *http.Request) string { return canonicalPath(r.URL.Path) }
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := pathFor(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordExecution records a PQL document execution.
func RecordExecution(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	pqlExecutions.WithLabelValues(status).Inc()
	pqlDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPipeline records one source pipeline run.
func RecordPipeline(status string, duration time.Duration) {
	pipelineRuns.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordExecutorAttempt counts one fetch/execute/fulfill attempt.
func RecordExecutorAttempt(chain string) {
	executorAttempts.WithLabelValues(chainLabel(chain)).Inc()
}

// RecordExecutorOutcome counts a finished executor task. Outcomes are
// fulfilled, expired, rejected or cancelled.
func RecordExecutorOutcome(chain, outcome string) {
	executorTasks.WithLabelValues(chainLabel(chain), outcome).Inc()
}

// RecordRequestEvent counts a dispatched Request event.
func RecordRequestEvent(chain string) {
	collectorEvents.WithLabelValues(chainLabel(chain)).Inc()
}

// ListenerStarted and ListenerStopped track running listener tasks.
func ListenerStarted() { collectorListeners.Inc() }
func ListenerStopped() { collectorListeners.Dec() }

func chainLabel(chain string) string {
	if chain == "" {
		return "unknown"
	}
	return chain
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "admin" && len(parts) > 2 {
		return "/admin/" + parts[1]
	}
	return "/" + parts[0]
}
