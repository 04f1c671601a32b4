package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleStatus is the lifecycle state of a detection rule.
type RuleStatus string

const (
	RuleStatusEnabled  RuleStatus = "enabled"
	RuleStatusDisabled RuleStatus = "disabled"

	// RuleStatusTesting evaluates the rule but its matches are shadow
	// matches: recorded for metrics, never creating or attaching alerts.
	RuleStatusTesting RuleStatus = "testing"
)

// IsValid reports whether s is a known rule status.
func (s RuleStatus) IsValid() bool {
	switch s {
	case RuleStatusEnabled, RuleStatusDisabled, RuleStatusTesting:
		return true
	}
	return false
}

func (s RuleStatus) String() string {
	return string(s)
}

// validRuleTransitions: enabled ↔ disabled, enabled/disabled → testing,
// testing → enabled (manual promotion only). No automatic promotion, and
// no testing → disabled edge: a rule under test is promoted before it can
// be disabled.
var validRuleTransitions = map[RuleStatus][]RuleStatus{
	RuleStatusEnabled:  {RuleStatusDisabled, RuleStatusTesting},
	RuleStatusDisabled: {RuleStatusEnabled, RuleStatusTesting},
	RuleStatusTesting:  {RuleStatusEnabled},
}

// DetectionRule matches events via its structured predicate. Name is
// unique across rules. Performance metrics are tracked in the detect
// registry and persisted to the rule_performance store, not on the
// document itself.
type DetectionRule struct {
	ID          string     `json:"id" bson:"_id"`
	Name        string     `json:"name" bson:"name" validate:"required"`
	Description string     `json:"description,omitempty" bson:"description,omitempty"`
	Status      RuleStatus `json:"status" bson:"status"`
	Source      string     `json:"source,omitempty" bson:"source,omitempty"`
	Category    string     `json:"category,omitempty" bson:"category,omitempty"`
	Severity    Severity   `json:"severity" bson:"severity"`
	Predicate   Predicate  `json:"predicate" bson:"predicate" validate:"required"`
	Tags        []string   `json:"tags,omitempty" bson:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
}

// NewDetectionRule creates a disabled rule with a generated UUID. Rules
// are enabled explicitly once their predicate has been reviewed.
func NewDetectionRule(name string) *DetectionRule {
	now := time.Now().UTC()
	return &DetectionRule{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    RuleStatusDisabled,
		Severity:  SeverityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the rule participates in evaluation. Both
// enabled and testing rules evaluate; only enabled matches reach the
// correlation engine.
func (r *DetectionRule) IsActive() bool {
	return r.Status == RuleStatusEnabled || r.Status == RuleStatusTesting
}

// CanTransitionTo checks a status edge without executing it.
func (r *DetectionRule) CanTransitionTo(newStatus RuleStatus) bool {
	if !newStatus.IsValid() {
		return false
	}
	for _, s := range validRuleTransitions[r.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo validates and executes a rule status transition.
func (r *DetectionRule) TransitionTo(newStatus RuleStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: unknown rule status %q", ErrInvalidTransition, newStatus)
	}
	if !r.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: rule %s → %s", ErrInvalidTransition, r.Status, newStatus)
	}
	r.Status = newStatus
	return nil
}

// MatchResult is the outcome of evaluating one rule against one event.
type MatchResult struct {
	RuleID  string `json:"rule_id"`
	Matched bool   `json:"matched"`

	// Shadow marks matches from rules in testing status. Shadow matches
	// count in metrics but never create or attach alerts.
	Shadow bool `json:"shadow"`

	// Confidence is 1.0 for a clean match, 0 otherwise. Reserved for
	// future probabilistic matchers.
	Confidence float64 `json:"confidence"`

	// Latency is the wall-clock evaluation time for this rule.
	Latency time.Duration `json:"latency"`

	// Err carries the isolated failure for malformed predicates.
	Err error `json:"-"`
}
