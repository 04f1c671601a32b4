package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SimulationStatus is the lifecycle state of an attack simulation.
type SimulationStatus string

const (
	SimulationStatusScheduled SimulationStatus = "scheduled"
	SimulationStatusRunning   SimulationStatus = "running"
	SimulationStatusCompleted SimulationStatus = "completed"
	SimulationStatusStopped   SimulationStatus = "stopped"
	SimulationStatusFailed    SimulationStatus = "failed"
)

// IsValid reports whether s is a known simulation status.
func (s SimulationStatus) IsValid() bool {
	switch s {
	case SimulationStatusScheduled, SimulationStatusRunning,
		SimulationStatusCompleted, SimulationStatusStopped, SimulationStatusFailed:
		return true
	}
	return false
}

func (s SimulationStatus) String() string {
	return string(s)
}

// IsTerminal reports whether s has no outgoing transitions.
func (s SimulationStatus) IsTerminal() bool {
	switch s {
	case SimulationStatusCompleted, SimulationStatusStopped, SimulationStatusFailed:
		return true
	}
	return false
}

// validSimulationTransitions: scheduled → running via explicit start;
// running → stopped | completed | failed. Terminal states have no edges.
var validSimulationTransitions = map[SimulationStatus][]SimulationStatus{
	SimulationStatusScheduled: {SimulationStatusRunning},
	SimulationStatusRunning:   {SimulationStatusStopped, SimulationStatusCompleted, SimulationStatusFailed},
	SimulationStatusCompleted: {},
	SimulationStatusStopped:   {},
	SimulationStatusFailed:    {},
}

// CanTransitionSimulation checks a simulation status edge.
func CanTransitionSimulation(from, to SimulationStatus) bool {
	if !to.IsValid() {
		return false
	}
	for _, s := range validSimulationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResultKeyFailureReason is the reserved results key recording why a run
// transitioned to failed.
const ResultKeyFailureReason = "failure_reason"

// Well-known result metric keys finalized by the simulation engine.
const (
	ResultKeyEventsGenerated = "events_generated"
	ResultKeyAlertsTriggered = "alerts_triggered"
	ResultKeyDetectionRate   = "detection_rate"
)

// EventTemplate describes one synthetic event of a scenario.
type EventTemplate struct {
	Type     string                 `json:"type" bson:"type" yaml:"type" validate:"required"`
	Source   string                 `json:"source,omitempty" bson:"source,omitempty" yaml:"source,omitempty"`
	Severity Severity               `json:"severity" bson:"severity" yaml:"severity"`
	Fields   map[string]interface{} `json:"fields,omitempty" bson:"fields,omitempty" yaml:"fields,omitempty"`
	Tags     []string               `json:"tags,omitempty" bson:"tags,omitempty" yaml:"tags,omitempty"`

	// CorrelationKey overrides the per-asset key when set, letting a
	// scenario drive several templates into one incident.
	CorrelationKey string `json:"correlation_key,omitempty" bson:"correlation_key,omitempty" yaml:"correlation_key,omitempty"`

	// ExpectsDetection marks templates that enabled rules should catch.
	// The detection rate denominator counts only these.
	ExpectsDetection bool `json:"expects_detection" bson:"expects_detection" yaml:"expects_detection"`
}

// Scenario is an ordered sequence of event templates aimed at a set of
// target assets.
type Scenario struct {
	Type         string          `json:"type,omitempty" bson:"type,omitempty" yaml:"type,omitempty"`
	Intensity    string          `json:"intensity,omitempty" bson:"intensity,omitempty" yaml:"intensity,omitempty"`
	TargetAssets []string        `json:"target_assets,omitempty" bson:"target_assets,omitempty" yaml:"target_assets,omitempty"`
	Templates    []EventTemplate `json:"templates" bson:"templates" yaml:"templates" validate:"required,min=1,dive"`
}

// Simulation drives synthetic events through the live detection path to
// measure coverage. Results and alert associations may be written in any
// state, including terminal, to allow late scoring.
type Simulation struct {
	ID          string           `json:"id" bson:"_id"`
	Name        string           `json:"name" bson:"name" validate:"required"`
	Description string           `json:"description,omitempty" bson:"description,omitempty"`
	Scenario    Scenario         `json:"scenario" bson:"scenario"`
	Status      SimulationStatus `json:"status" bson:"status"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty" bson:"scheduled_at,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty" bson:"started_at,omitempty"`
	EndedAt     *time.Time       `json:"ended_at,omitempty" bson:"ended_at,omitempty"`

	// Results holds numeric run metrics plus the reserved failure_reason
	// string when the run failed.
	Results  map[string]interface{} `json:"results,omitempty" bson:"results,omitempty"`
	EventIDs []string               `json:"event_ids,omitempty" bson:"event_ids,omitempty"`
	AlertIDs []string               `json:"alert_ids,omitempty" bson:"alert_ids,omitempty"`
	Tags     []string               `json:"tags,omitempty" bson:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewSimulation creates a scheduled simulation with a generated UUID.
func NewSimulation(name string, scenario Scenario) *Simulation {
	now := time.Now().UTC()
	return &Simulation{
		ID:        uuid.New().String(),
		Name:      name,
		Scenario:  scenario,
		Status:    SimulationStatusScheduled,
		Results:   make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransitionTo checks a status edge without executing it.
func (s *Simulation) CanTransitionTo(newStatus SimulationStatus) bool {
	return CanTransitionSimulation(s.Status, newStatus)
}

// TransitionTo validates and executes a simulation status transition.
func (s *Simulation) TransitionTo(newStatus SimulationStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: unknown simulation status %q", ErrInvalidTransition, newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: simulation %s → %s", ErrInvalidTransition, s.Status, newStatus)
	}
	s.Status = newStatus
	return nil
}
