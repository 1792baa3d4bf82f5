package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP API requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signcast_api_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signcast_api_request_duration_seconds",
		Help:    "API request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight API requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signcast_api_active_connections",
		Help: "Number of in-flight API requests",
	})

	// EnginesActive gauges engines currently RUNNING or PAUSED.
	EnginesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signcast_engines_active",
		Help: "Display slots with an engine in RUNNING or PAUSED state",
	})

	// EngineTransitionsTotal counts engine state transitions by type.
	EngineTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signcast_engine_transitions_total",
		Help: "Engine lifecycle transitions",
	}, []string{"type"})

	// EngineEventsDropped counts lifecycle events dropped because a
	// listener queue was full.
	EngineEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signcast_engine_events_dropped_total",
		Help: "Engine events dropped due to full dispatch queue",
	})

	// ExecutionsTotal counts action executions by outcome.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signcast_executions_total",
		Help: "Action execution attempts by result",
	}, []string{"result"})

	// ExecutionsSuperseded counts executions stopped by the supersede policy.
	ExecutionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signcast_executions_superseded_total",
		Help: "Executions stopped because a newer execution took the slot",
	})

	// ScheduleTicksTotal counts schedule runner ticks.
	ScheduleTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signcast_schedule_ticks_total",
		Help: "Schedule runner ticks",
	})

	// ScheduleTriggersTotal counts execute/stop calls issued by the runner.
	ScheduleTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signcast_schedule_triggers_total",
		Help: "Schedule boundary triggers by kind (execute or stop)",
	}, []string{"kind"})

	// ScheduleErrorsTotal counts runner errors by stage.
	ScheduleErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signcast_schedule_errors_total",
		Help: "Schedule runner errors",
	}, []string{"stage"})

	// LeaderElectionStatus gauges whether this instance holds the lease.
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signcast_leader_election_status",
		Help: "1 when this instance is the schedule-runner leader",
	}, []string{"instance"})

	// LeaderElectionChanges counts leadership transitions.
	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signcast_leader_election_changes_total",
		Help: "Leadership acquisitions and losses",
	}, []string{"instance", "change"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
