package core

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
	AlertStatusClosed        AlertStatus = "closed"
)

// IsValid reports whether s is a known alert status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusInvestigating, AlertStatusResolved,
		AlertStatusFalsePositive, AlertStatusClosed:
		return true
	}
	return false
}

func (s AlertStatus) String() string {
	return string(s)
}

// Alert aggregates one or more correlated events. EventIDs is append-only
// and never empty after creation. Severity is derived as the max of the
// constituent event severities unless SeverityOverride is set; a downgrade
// without the override flag is rejected so signal is never silently lost.
type Alert struct {
	ID               string      `json:"id" bson:"_id"`
	Status           AlertStatus `json:"status" bson:"status"`
	Severity         Severity    `json:"severity" bson:"severity"`
	SeverityOverride bool        `json:"severity_override" bson:"severity_override"`
	Assignee         *string     `json:"assignee,omitempty" bson:"assignee,omitempty"`
	RuleID           string      `json:"rule_id,omitempty" bson:"rule_id,omitempty"`
	CorrelationKey   string      `json:"correlation_key,omitempty" bson:"correlation_key,omitempty"`
	EventIDs         []string    `json:"event_ids" bson:"event_ids"`
	Tags             []string    `json:"tags,omitempty" bson:"tags,omitempty"`
	SimulationID     string      `json:"simulation_id,omitempty" bson:"simulation_id,omitempty"`

	// Version guards optimistic concurrency on attach-or-create. Every
	// store mutation of the event list increments it.
	Version int64 `json:"version" bson:"version"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewAlertFromEvent creates an open alert seeded with the given event.
func NewAlertFromEvent(ev *Event, ruleID string) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:             uuid.New().String(),
		Status:         AlertStatusOpen,
		Severity:       ev.Severity,
		RuleID:         ruleID,
		CorrelationKey: ev.CorrelationKey,
		EventIDs:       []string{ev.ID},
		SimulationID:   ev.SimulationID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the alert is in its final state.
func (a *Alert) IsTerminal() bool {
	return a.Status == AlertStatusClosed
}

// DerivedSeverity computes the alert severity from constituent event
// severities. Callers pass the severities of all referenced events; the
// result is their max unless the override flag pins the current value.
func (a *Alert) DerivedSeverity(eventSeverities []Severity) Severity {
	if a.SeverityOverride {
		return a.Severity
	}
	return MaxSeverity(eventSeverities)
}
