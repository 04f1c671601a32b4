// Package service composes the engines into the event processing
// pipeline: detection, correlation, rule feedback and simulation
// back-references, in that order.
package service

import (
	"context"
	"fmt"

	"vanguard/core"
	"vanguard/correlate"

	"go.uber.org/zap"
)

// Detector evaluates rules against one event. Implemented by
// detect.Engine.
type Detector interface {
	Evaluate(ctx context.Context, ev *core.Event) ([]core.MatchResult, error)
	RecordMatch(ruleID, eventID string, createdAlert bool)
}

// Correlator routes an evaluated event into the alert pipeline.
// Implemented by correlate.Engine.
type Correlator interface {
	Ingest(ctx context.Context, ev *core.Event, matches []core.MatchResult) (*correlate.AlertDecision, error)
}

// AlertAssociator links alerts back to the simulation that caused them.
// Implemented by simulate.Engine; may be nil when simulations are off.
type AlertAssociator interface {
	AssociateAlert(ctx context.Context, simulationID, alertID string) error
}

// Pipeline is the full ingestion path for one event.
type Pipeline struct {
	detector    Detector
	correlator  Correlator
	simulations AlertAssociator
	logger      *zap.SugaredLogger
}

// NewPipeline creates the event pipeline. simulations may be nil.
func NewPipeline(detector Detector, correlator Correlator, simulations AlertAssociator, logger *zap.SugaredLogger) *Pipeline {
	if detector == nil {
		panic("detector is required")
	}
	if correlator == nil {
		panic("correlator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Pipeline{
		detector:    detector,
		correlator:  correlator,
		simulations: simulations,
		logger:      logger,
	}
}

// Process runs one event through detection and correlation, records rule
// feedback and, for synthetic events, the simulation back-reference.
func (p *Pipeline) Process(ctx context.Context, ev *core.Event) (*correlate.AlertDecision, error) {
	matches, err := p.detector.Evaluate(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("detection failed for event %s: %w", ev.ID, err)
	}

	decision, err := p.correlator.Ingest(ctx, ev, matches)
	if err != nil {
		return nil, fmt.Errorf("correlation failed for event %s: %w", ev.ID, err)
	}

	if decision.Outcome != correlate.DecisionDiscarded {
		p.detector.RecordMatch(decision.RuleID, ev.ID, decision.Outcome == correlate.DecisionCreated)

		if ev.SimulationID != "" && p.simulations != nil {
			// Back-reference only; the alert stays independently mutable.
			if err := p.simulations.AssociateAlert(ctx, ev.SimulationID, decision.AlertID); err != nil {
				p.logger.Warnw("Failed to associate alert with simulation",
					"simulation_id", ev.SimulationID,
					"alert_id", decision.AlertID,
					"error", err)
			}
		}
	}
	return decision, nil
}
