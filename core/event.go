package core

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable security observation. Events are never deleted;
// the only permitted amendment after creation is a one-time severity
// correction, tracked by SeverityAmended.
type Event struct {
	ID             string                 `json:"id" bson:"_id"`
	Timestamp      time.Time              `json:"timestamp" bson:"timestamp"`
	Source         string                 `json:"source" bson:"source"`
	Type           string                 `json:"type" bson:"type"`
	Severity       Severity               `json:"severity" bson:"severity"`
	RawData        string                 `json:"raw_data,omitempty" bson:"raw_data,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty" bson:"fields,omitempty"`
	Tags           []string               `json:"tags,omitempty" bson:"tags,omitempty"`
	CorrelationKey string                 `json:"correlation_key,omitempty" bson:"correlation_key,omitempty"`

	// SimulationID marks synthetic events generated by a simulation run.
	// Empty for organic traffic.
	SimulationID string `json:"simulation_id,omitempty" bson:"simulation_id,omitempty"`

	SeverityAmended bool      `json:"severity_amended" bson:"severity_amended"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// NewEvent creates an Event with a generated UUID and UTC timestamps.
func NewEvent() *Event {
	now := time.Now().UTC()
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: now,
		Severity:  SeverityInfo,
		Fields:    make(map[string]interface{}),
		CreatedAt: now,
	}
}

// Field returns the named structured field, falling back to the event's
// own attributes for the well-known names source, type and severity.
func (e *Event) Field(name string) (interface{}, bool) {
	switch name {
	case "source":
		return e.Source, true
	case "type":
		return e.Type, true
	case "severity":
		return string(e.Severity), true
	case "correlation_key":
		return e.CorrelationKey, true
	}
	if e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[name]
	return v, ok
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	return HasTag(e.Tags, tag)
}
