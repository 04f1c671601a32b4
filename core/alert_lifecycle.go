package core

import "fmt"

// validAlertTransitions defines the allowed alert status edges:
// open → investigating, investigating → resolved | false_positive | open
// (reopen), resolved/false_positive → closed. Closed is terminal.
var validAlertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:          {AlertStatusInvestigating},
	AlertStatusInvestigating: {AlertStatusResolved, AlertStatusFalsePositive, AlertStatusOpen},
	AlertStatusResolved:      {AlertStatusClosed},
	AlertStatusFalsePositive: {AlertStatusClosed},
	AlertStatusClosed:        {},
}

// CanTransitionTo checks whether the alert may move to newStatus without
// executing the transition.
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	if !newStatus.IsValid() {
		return false
	}
	for _, s := range validAlertTransitions[a.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo validates and executes an alert status transition.
// Violations return ErrInvalidTransition.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: unknown alert status %q", ErrInvalidTransition, newStatus)
	}
	if !a.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: alert %s → %s", ErrInvalidTransition, a.Status, newStatus)
	}
	a.Status = newStatus
	return nil
}

// AllowedTransitions returns a copy of the valid next statuses.
func (a *Alert) AllowedTransitions() []AlertStatus {
	allowed := validAlertTransitions[a.Status]
	out := make([]AlertStatus, len(allowed))
	copy(out, allowed)
	return out
}
