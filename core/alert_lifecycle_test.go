package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertTransitions_AllEdges(t *testing.T) {
	edges := []struct {
		from, to AlertStatus
	}{
		{AlertStatusOpen, AlertStatusInvestigating},
		{AlertStatusInvestigating, AlertStatusResolved},
		{AlertStatusInvestigating, AlertStatusFalsePositive},
		{AlertStatusInvestigating, AlertStatusOpen},
		{AlertStatusResolved, AlertStatusClosed},
		{AlertStatusFalsePositive, AlertStatusClosed},
	}

	for _, e := range edges {
		t.Run(string(e.from)+"_to_"+string(e.to), func(t *testing.T) {
			a := &Alert{Status: e.from}
			err := a.TransitionTo(e.to)
			require.NoError(t, err)
			assert.Equal(t, e.to, a.Status)
		})
	}
}

func TestAlertTransitions_AllNonEdgesFail(t *testing.T) {
	all := []AlertStatus{
		AlertStatusOpen, AlertStatusInvestigating, AlertStatusResolved,
		AlertStatusFalsePositive, AlertStatusClosed,
	}

	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			a := &Alert{Status: from}
			if a.CanTransitionTo(to) {
				continue
			}
			err := a.TransitionTo(to)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s → %s must fail", from, to)
			assert.Equal(t, from, a.Status, "failed transition must not mutate status")
		}
	}
}

func TestAlertTransitions_ClosedIsTerminal(t *testing.T) {
	a := &Alert{Status: AlertStatusClosed}
	assert.True(t, a.IsTerminal())
	assert.Empty(t, a.AllowedTransitions())
}

func TestAlertTransitions_UnknownStatus(t *testing.T) {
	a := &Alert{Status: AlertStatusOpen}
	err := a.TransitionTo(AlertStatus("escalated"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestAlertDerivedSeverity(t *testing.T) {
	a := &Alert{Severity: SeverityMedium}

	// Max wins regardless of insertion order.
	assert.Equal(t, SeverityHigh, a.DerivedSeverity([]Severity{SeverityLow, SeverityHigh, SeverityMedium}))
	assert.Equal(t, SeverityHigh, a.DerivedSeverity([]Severity{SeverityHigh, SeverityMedium, SeverityLow}))
	assert.Equal(t, SeverityCritical, a.DerivedSeverity([]Severity{SeverityInfo, SeverityCritical}))

	// Override pins the current value even below the derived max.
	a.SeverityOverride = true
	a.Severity = SeverityLow
	assert.Equal(t, SeverityLow, a.DerivedSeverity([]Severity{SeverityCritical}))
}

func TestNewAlertFromEvent(t *testing.T) {
	ev := NewEvent()
	ev.Severity = SeverityHigh
	ev.CorrelationKey = "10.0.0.7"

	a := NewAlertFromEvent(ev, "rule-1")
	require.NotEmpty(t, a.ID)
	assert.Equal(t, AlertStatusOpen, a.Status)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, "10.0.0.7", a.CorrelationKey)
	assert.Equal(t, []string{ev.ID}, a.EventIDs)
	assert.EqualValues(t, 1, a.Version)
	assert.NotEmpty(t, a.EventIDs, "alert event list is never empty after creation")
}
