// Package metrics exposes Prometheus counters, gauges, and histograms
// for the orchestrator core (spec section 6 leaves metrics fields
// unspecified beyond "the core emits them"); this package picks the
// concrete instrumentation surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Matcher metrics (spec section 4.1).
	MatcherOffersProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_matcher_offers_processed_total",
			Help: "Total number of resource offers processed by the matcher",
		},
	)

	MatcherTasksLaunched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_matcher_tasks_launched_total",
			Help: "Total number of tasks launched by the matcher",
		},
	)

	MatcherNoMatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_matcher_no_match_total",
			Help: "Total number of offers that failed to match any pending launch, by reason",
		},
		[]string{"reason"},
	)

	MatcherMatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helmsman_matcher_match_duration_seconds",
			Help:    "Time taken to evaluate a single offer against pending demand",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tracker / instance metrics (spec section 4.2).
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helmsman_instances_total",
			Help: "Total number of tracked instances by condition",
		},
		[]string{"condition"},
	)

	TrackerUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_tracker_updates_total",
			Help: "Total number of tracker update effects, by effect kind",
		},
		[]string{"effect"},
	)

	// Health & readiness metrics (spec section 4.4).
	HealthCheckOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_health_check_outcomes_total",
			Help: "Total number of health check executions, by protocol and outcome",
		},
		[]string{"protocol", "outcome"},
	)

	UnhealthyKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_unhealthy_kills_total",
			Help: "Total number of instances killed for failing consecutive health checks",
		},
	)

	// Launch Queue metrics (spec section 4.5).
	LaunchQueuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_launch_queue_pending",
			Help: "Sum of pending launch demand across every run-spec",
		},
	)

	LaunchQueueBackoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helmsman_launch_queue_backoff_seconds",
			Help: "Current backoff delay per run-spec",
		},
		[]string{"run_spec"},
	)

	LaunchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_launch_failures_total",
			Help: "Total number of recorded launch failures",
		},
	)

	// Deployment Planner/Executor metrics (spec section 4.7).
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_deployments_total",
			Help: "Total number of deployments, by outcome",
		},
		[]string{"outcome"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helmsman_deployment_duration_seconds",
			Help:    "Deployment duration in seconds, start to success or failure",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	DeploymentStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_deployment_steps_total",
			Help: "Total number of deployment steps executed, by outcome",
		},
		[]string{"outcome"},
	)

	RestartsCapacityBubbleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_restart_capacity_bubble_total",
			Help: "Total number of rolling restarts that hit the degenerate minHealthy==maxCapacity window",
		},
	)

	// Cluster / leader election metrics.
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_raft_is_leader",
			Help: "Whether this node currently holds Raft leadership (1) or not (0)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helmsman_raft_apply_duration_seconds",
			Help:    "Time taken for a Raft Apply to commit",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		MatcherOffersProcessed,
		MatcherTasksLaunched,
		MatcherNoMatchTotal,
		MatcherMatchDuration,
		InstancesTotal,
		TrackerUpdatesTotal,
		HealthCheckOutcomesTotal,
		UnhealthyKillsTotal,
		LaunchQueuePending,
		LaunchQueueBackoffSeconds,
		LaunchFailuresTotal,
		DeploymentsTotal,
		DeploymentDuration,
		DeploymentStepsTotal,
		RestartsCapacityBubbleTotal,
		RaftIsLeader,
		RaftApplyDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration against one or more
// histograms, matching the teacher's timer-at-call-site convention.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
