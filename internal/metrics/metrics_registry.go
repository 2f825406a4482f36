package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_events_processed_total",
	Help: "Gateway events handed to the detection pipeline",
}, []string{"kind"})

var EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_events_skipped_total",
	Help: "Events dropped before rate tracking, by reason",
}, []string{"reason"})

var ActionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_actions_recorded_total",
	Help: "Actions recorded in the rate tracker",
}, []string{"action"})

var LimitsExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_limits_exceeded_total",
	Help: "Recorded actions that exceeded the configured maximum",
}, []string{"action"})

var Attributions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_attributions_total",
	Help: "Audit trail attribution attempts, by result",
}, []string{"result"})

var QuarantineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_quarantine_transitions_total",
	Help: "Quarantine state machine transitions, by outcome",
}, []string{"transition", "outcome"})

var SelfHealRemovals = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nukeguard_self_heal_removals_total",
	Help: "Roles revoked from restricted principals after an external grant",
})

var ControlCommands = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nukeguard_control_commands_total",
	Help: "Notice control commands executed",
}, []string{"action", "result"})

var TrackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "nukeguard_rate_tracker_keys",
	Help: "Keys currently held by the rate tracker",
})

var SweepRemoved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nukeguard_rate_tracker_swept_keys_total",
	Help: "Keys removed by the sweeper",
})

var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "nukeguard_rate_tracker_sweep_seconds",
	Help:    "Duration of one sweep pass",
	Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
})

var HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "nukeguard_event_duration_seconds",
	Help: "Time spent handling one event",
}, []string{"kind"})
