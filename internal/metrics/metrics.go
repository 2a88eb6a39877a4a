// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthChecks counts health cycles by verdict: healthy, stopped, frozen, error.
	HealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomon_health_checks_total",
		Help: "Health check cycles by verdict.",
	}, []string{"verdict"})

	// RecoveryStages counts recovery stage attempts by stage and outcome.
	RecoveryStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomon_recovery_stage_attempts_total",
		Help: "Recovery stage attempts by stage and outcome.",
	}, []string{"stage", "outcome"})

	// Commands counts remote commands by normalized name.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomon_commands_total",
		Help: "Remote commands received by normalized name.",
	}, []string{"command"})

	// CommandFailures counts command handlers that returned an error or panicked.
	CommandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomon_command_failures_total",
		Help: "Remote command handler failures by normalized name.",
	}, []string{"command"})

	// SinkPublishes counts publish attempts by sink, payload kind and result.
	SinkPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fandomon_sink_publishes_total",
		Help: "Publish attempts by sink, payload and result.",
	}, []string{"sink", "payload", "result"})

	// UnsentEvents is the backlog size after the last sync.
	UnsentEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fandomon_unsent_events",
		Help: "Events still awaiting delivery after the last sync.",
	})

	// SchedulerDegraded is 1 while any line runs on inexact timers.
	SchedulerDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fandomon_scheduler_degraded",
		Help: "1 when exact alarms are denied and a line fell back to inexact timers.",
	})

	// TargetForeground is 1 when the last cycle saw the target in the foreground.
	TargetForeground = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fandomon_target_foreground",
		Help: "1 when the monitored app was in the foreground at the last check.",
	})
)

// BoolGauge converts b to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
