package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_events_ingested_total",
			Help: "Total number of events ingested",
		},
		[]string{"origin"}, // organic or simulation
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_rule_evaluations_total",
			Help: "Total number of rule evaluations by outcome",
		},
		[]string{"outcome"}, // matched, unmatched, shadow, invalid
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	EventsCorrelated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vanguard_events_correlated_total",
			Help: "Total number of events attached to existing alerts",
		},
	)

	CorrelationConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vanguard_correlation_conflicts_total",
			Help: "Total number of lost attach races surfaced as conflicts",
		},
	)

	SimulationEventsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vanguard_simulation_events_generated_total",
			Help: "Total number of synthetic events generated by simulations",
		},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vanguard_event_processing_duration_seconds",
			Help:    "Time taken to evaluate and correlate an event",
			Buckets: prometheus.DefBuckets,
		},
	)
)
