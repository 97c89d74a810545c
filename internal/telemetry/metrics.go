package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var ExecutionsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "executions",
		Name:      "claimed_total",
		Help:      "Total number of executions claimed by an executor, by claim path.",
	},
	[]string{"path"}, // "queued" or "recovered"
)

var ExecutionsFinalizedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "executions",
		Name:      "finalized_total",
		Help:      "Total number of executions finalized, by final state.",
	},
	[]string{"state"},
)

var SlotsInUse = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "dispatch",
		Subsystem: "executor",
		Name:      "slots_in_use",
		Help:      "Number of executor slots currently bound to an execution.",
	},
)

var LeaseRenewalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "executor",
		Name:      "lease_renewals_total",
		Help:      "Total number of lease renewal attempts, by outcome.",
	},
	[]string{"outcome"}, // "ok" or "lost"
)

var RetriesScheduledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "retry_scheduler",
		Name:      "scheduled_total",
		Help:      "Total number of executions reset to CREATED for retry.",
	},
)

var DeploymentsByStatusTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "status_updater",
		Name:      "deployment_transitions_total",
		Help:      "Total number of deployment status transitions applied, by new status.",
	},
	[]string{"status"},
)

var HealthChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "health_monitor",
		Name:      "checks_total",
		Help:      "Total number of health probes executed, by probe type and result.",
	},
	[]string{"type", "result"},
)

var RestartsRequestedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "health_monitor",
		Name:      "restarts_requested_total",
		Help:      "Total number of restart requests issued to the runtime agent.",
	},
)

var NodesSelectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "nodes",
		Name:      "selected_total",
		Help:      "Total number of successful node selections by the orchestrator.",
	},
)

var NoCapacityTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "nodes",
		Name:      "no_capacity_total",
		Help:      "Total number of orchestration failures due to no suitable node.",
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "dispatch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns every dispatch-specific collector, for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ExecutionsClaimedTotal,
		ExecutionsFinalizedTotal,
		SlotsInUse,
		LeaseRenewalsTotal,
		RetriesScheduledTotal,
		DeploymentsByStatusTotal,
		HealthChecksTotal,
		RestartsRequestedTotal,
		NodesSelectedTotal,
		NoCapacityTotal,
		HTTPRequestDuration,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors plus any additional service-specific collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
