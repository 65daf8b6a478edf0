package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/schedule-engine/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schedule_engine"

var (
	// Dispatcher metrics

	DispatchLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_lag_seconds",
		Help:      "Time from a task's next execution time to the dispatcher starting it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	DispatchCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_cycle_duration_seconds",
		Help:      "Time taken to list and hand out one batch of due tasks.",
		Buckets:   prometheus.DefBuckets,
	})

	TasksDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_dispatched_total",
		Help:      "Total tasks handed to the worker pool.",
	})

	LeaseContentionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_contention_total",
		Help:      "Due tasks skipped because another dispatcher held the lease.",
	})

	MisfiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "misfires_total",
		Help:      "Runs recorded as skipped because they were older than the misfire grace.",
	})

	// Execution metrics

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Duration of task side effects.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Total executions recorded, by outcome.",
	}, []string{"outcome"})

	TasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_in_flight",
		Help:      "Number of tasks currently being executed.",
	})

	TaskTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Task status changes, by resulting status.",
	}, []string{"status"})

	VersionConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "version_conflicts_total",
		Help:      "Optimistic concurrency conflicts, by entity.",
	}, []string{"entity"})

	// Reaper metrics

	ReaperActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_actions_total",
		Help:      "Stale rows handled by the reaper.",
	}, []string{"action"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Dispatcher lifecycle

	DispatcherStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatcher_start_time_seconds",
		Help:      "Unix timestamp when the dispatcher started.",
	})

	DispatcherShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatcher_shutdowns_total",
		Help:      "Number of times the dispatcher has shut down.",
	})

	// Conflict metrics

	ConflictChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflict_checks_total",
		Help:      "Conflict detections, by result.",
	}, []string{"result"})

	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Conflict resolutions, by strategy and whether state changed.",
	}, []string{"strategy", "applied"})

	// Gateway metrics

	ProducerEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "producer_events_total",
		Help:      "Recurrence events received from producers, by type and result.",
	}, []string{"type", "result"})

	PublishedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "published_events_total",
		Help:      "Events sent to producers, by kind and result.",
	}, []string{"kind", "result"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "class"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests, by route template and status code.",
	}, []string{"method", "route", "code"})

	HTTPRequestsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served, by route template.",
	}, []string{"route"})
)

func Register() {
	prometheus.MustRegister(
		DispatchLag,
		DispatchCycleDuration,
		TasksDispatchedTotal,
		LeaseContentionTotal,
		MisfiresTotal,
		ExecutionDuration,
		ExecutionsTotal,
		TasksInFlight,
		TaskTransitionsTotal,
		VersionConflictsTotal,
		ReaperActionsTotal,
		ReaperCycleDuration,
		DispatcherStartTime,
		DispatcherShutdownsTotal,
		ConflictChecksTotal,
		ResolutionsTotal,
		ProducerEventsTotal,
		PublishedEventsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
	)
}

// NewServer serves /metrics plus liveness and readiness probes backed by checker.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
