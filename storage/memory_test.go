package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"vanguard/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendEvent_VersionGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	alert := &core.Alert{ID: "a1", Status: core.AlertStatusOpen, Severity: core.SeverityLow, Version: 1}
	require.NoError(t, store.InsertAlert(ctx, alert))

	require.NoError(t, store.AppendEvent(ctx, "a1", "e1", core.SeverityMedium, 1))

	// Stale version loses.
	err := store.AppendEvent(ctx, "a1", "e2", core.SeverityHigh, 1)
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := store.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, []string{"e1"}, got.EventIDs)
	assert.Equal(t, core.SeverityMedium, got.Severity)
}

func TestMemoryStore_AppendEvent_ConcurrentExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	alert := &core.Alert{ID: "a1", Status: core.AlertStatusOpen, Version: 1}
	require.NoError(t, store.InsertAlert(ctx, alert))

	const writers = 32
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.AppendEvent(ctx, "a1", "e", core.SeverityLow, 1)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_FindOpenByKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now().UTC()

	insert := func(id string, status core.AlertStatus, updated time.Time) {
		require.NoError(t, store.InsertAlert(ctx, &core.Alert{
			ID:             id,
			Status:         status,
			CorrelationKey: "host-1",
			Version:        1,
			UpdatedAt:      updated,
		}))
	}

	insert("b-older", core.AlertStatusOpen, base.Add(-30*time.Second))
	insert("c-newest", core.AlertStatusOpen, base)
	insert("d-closed", core.AlertStatusClosed, base)
	insert("e-stale", core.AlertStatusOpen, base.Add(-5*time.Minute))

	got, err := store.FindOpenByKey(ctx, "host-1", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "c-newest", got.ID)

	// Exact timestamp tie goes to the lower id.
	insert("a-tied", core.AlertStatusOpen, base)
	got, err = store.FindOpenByKey(ctx, "host-1", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "a-tied", got.ID)

	_, err = store.FindOpenByKey(ctx, "host-2", base.Add(-time.Minute))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStore_Tags_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.InsertAlert(ctx, &core.Alert{ID: "a1", Status: core.AlertStatusOpen, Version: 1}))

	require.NoError(t, store.AddTag(ctx, "a1", "phishing"))
	require.NoError(t, store.AddTag(ctx, "a1", "phishing"))
	got, _ := store.GetAlert(ctx, "a1")
	assert.Equal(t, []string{"phishing"}, got.Tags)

	require.NoError(t, store.RemoveTag(ctx, "a1", "phishing"))
	require.NoError(t, store.RemoveTag(ctx, "a1", "phishing"))
	got, _ = store.GetAlert(ctx, "a1")
	assert.Empty(t, got.Tags)
}

func TestMemoryStore_GetActiveRules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, r := range []*core.DetectionRule{
		{ID: "r1", Name: "enabled", Status: core.RuleStatusEnabled},
		{ID: "r2", Name: "testing", Status: core.RuleStatusTesting},
		{ID: "r3", Name: "disabled", Status: core.RuleStatusDisabled},
	} {
		require.NoError(t, store.InsertRule(ctx, r))
	}

	rules, err := store.GetActiveRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	for _, r := range rules {
		assert.True(t, r.IsActive())
	}
}

func TestMemoryStore_InsertRule_DuplicateName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.InsertRule(ctx, &core.DetectionRule{ID: "r1", Name: "brute force"}))
	err := store.InsertRule(ctx, &core.DetectionRule{ID: "r2", Name: "brute force"})
	assert.ErrorIs(t, err, core.ErrInvalidRule)
}

func TestMemoryStore_RuleCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.InsertRule(ctx, &core.DetectionRule{ID: "r1", Name: "x", Status: core.RuleStatusDisabled}))

	require.NoError(t, store.CompareAndSwapStatus(ctx, "r1", core.RuleStatusDisabled, core.RuleStatusEnabled))

	err := store.CompareAndSwapStatus(ctx, "r1", core.RuleStatusDisabled, core.RuleStatusTesting)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	err = store.CompareAndSwapStatus(ctx, "missing", core.RuleStatusDisabled, core.RuleStatusEnabled)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStore_SimulationCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sim := core.NewSimulation("credential stuffing drill", core.Scenario{
		Templates: []core.EventTemplate{{Type: "auth.failure"}},
	})
	require.NoError(t, store.InsertSimulation(ctx, sim))

	require.NoError(t, store.CompareAndSwapSimulationStatus(ctx, sim.ID, core.SimulationStatusScheduled, core.SimulationStatusRunning))
	got, err := store.GetSimulation(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SimulationStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	// Concurrent stop and complete: only one CAS can win.
	err1 := store.CompareAndSwapSimulationStatus(ctx, sim.ID, core.SimulationStatusRunning, core.SimulationStatusStopped)
	err2 := store.CompareAndSwapSimulationStatus(ctx, sim.ID, core.SimulationStatusRunning, core.SimulationStatusCompleted)
	require.NoError(t, err1)
	assert.ErrorIs(t, err2, core.ErrInvalidTransition)

	got, err = store.GetSimulation(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SimulationStatusStopped, got.Status)
	assert.NotNil(t, got.EndedAt)
}

func TestMemoryStore_SimulationResultsAndRefs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sim := core.NewSimulation("drill", core.Scenario{Templates: []core.EventTemplate{{Type: "t"}}})
	require.NoError(t, store.InsertSimulation(ctx, sim))
	require.NoError(t, store.CompareAndSwapSimulationStatus(ctx, sim.ID, core.SimulationStatusScheduled, core.SimulationStatusRunning))
	require.NoError(t, store.CompareAndSwapSimulationStatus(ctx, sim.ID, core.SimulationStatusRunning, core.SimulationStatusCompleted))

	// Late scoring is allowed in terminal states.
	require.NoError(t, store.SetResult(ctx, sim.ID, core.ResultKeyDetectionRate, 0.75))
	require.NoError(t, store.AppendAlertRef(ctx, sim.ID, "alert-1"))
	require.NoError(t, store.AppendAlertRef(ctx, sim.ID, "alert-1"))

	got, err := store.GetSimulation(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Results[core.ResultKeyDetectionRate])
	assert.Equal(t, []string{"alert-1"}, got.AlertIDs)
}

func TestMemoryStore_ListDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := core.NewSimulation("due", core.Scenario{Templates: []core.EventTemplate{{Type: "t"}}})
	due.ScheduledAt = &past
	notYet := core.NewSimulation("not yet", core.Scenario{Templates: []core.EventTemplate{{Type: "t"}}})
	notYet.ScheduledAt = &future
	unscheduled := core.NewSimulation("manual", core.Scenario{Templates: []core.EventTemplate{{Type: "t"}}})

	for _, s := range []*core.Simulation{due, notYet, unscheduled} {
		require.NoError(t, store.InsertSimulation(ctx, s))
	}

	got, err := store.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestMemoryStore_AmendSeverity_OnlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := core.NewEvent()
	ev.Source = "sensor"
	ev.Type = "process_start"
	ev.Severity = core.SeverityInfo
	require.NoError(t, store.InsertEvent(ctx, ev))

	require.NoError(t, store.AmendSeverity(ctx, ev.ID, core.SeverityCritical))

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SeverityCritical, got.Severity)
	assert.True(t, got.SeverityAmended)

	err = store.AmendSeverity(ctx, ev.ID, core.SeverityLow)
	assert.ErrorIs(t, err, core.ErrConflict)

	err = store.AmendSeverity(ctx, "missing", core.SeverityLow)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
