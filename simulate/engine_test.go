package simulate

import (
	"context"
	"testing"
	"time"

	"vanguard/core"
	"vanguard/correlate"
	"vanguard/detect"
	"vanguard/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testHarness wires a simulation engine onto real detection and
// correlation engines over the in-memory store.
type testHarness struct {
	store  *storage.MemoryStore
	engine *Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := storage.NewMemoryStore()

	patterns, err := detect.NewPatternCache(64, 100*time.Millisecond)
	require.NoError(t, err)
	detector := detect.NewEngine(store, patterns, detect.NewRegistry(), logger)
	correlator := correlate.NewEngine(store, store, correlate.NewKeyLocks(16), nil, 60*time.Second, 3, logger)

	return &testHarness{
		store:  store,
		engine: NewEngine(store, detector, correlator, logger),
	}
}

func (h *testHarness) addRule(t *testing.T, name, eventType string, status core.RuleStatus) *core.DetectionRule {
	t.Helper()
	rule := core.NewDetectionRule(name)
	rule.Status = status
	rule.Predicate = core.Predicate{Kind: core.PredicateEquals, Field: "type", Value: eventType}
	require.NoError(t, h.store.InsertRule(context.Background(), rule))
	return rule
}

func drillScenario(expects bool) core.Scenario {
	return core.Scenario{
		Type:      "credential_stuffing",
		Intensity: IntensityHigh,
		Templates: []core.EventTemplate{
			{Type: "auth.failure", Severity: core.SeverityMedium, ExpectsDetection: expects},
			{Type: "auth.failure", Severity: core.SeverityHigh, ExpectsDetection: expects},
		},
	}
}

func waitForStatus(t *testing.T, h *testHarness, id string, want core.SimulationStatus) *core.Simulation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sim, err := h.store.GetSimulation(context.Background(), id)
		require.NoError(t, err)
		if sim.Status == want {
			return sim
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("simulation %s never reached status %s", id, want)
	return nil
}

func TestEngine_Create_InvalidScenario(t *testing.T) {
	h := newTestHarness(t)

	sim := core.NewSimulation("empty drill", core.Scenario{})
	err := h.engine.Create(context.Background(), sim)
	assert.Error(t, err)
}

func TestEngine_StartRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.addRule(t, "auth failures", "auth.failure", core.RuleStatusEnabled)

	sim := core.NewSimulation("credential stuffing drill", drillScenario(true))
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))

	done := waitForStatus(t, h, sim.ID, core.SimulationStatusCompleted)
	h.engine.Wait()

	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.EndedAt)
	assert.Len(t, done.EventIDs, 2)
	assert.Equal(t, float64(2), done.Results[core.ResultKeyEventsGenerated])
	assert.Equal(t, float64(1), done.Results[core.ResultKeyDetectionRate])

	// Both events share the per-simulation correlation key, so one alert
	// carries the whole drill.
	require.Len(t, done.AlertIDs, 1)
	alert, err := h.store.GetAlert(ctx, done.AlertIDs[0])
	require.NoError(t, err)
	assert.Equal(t, sim.ID, alert.SimulationID)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
}

func TestEngine_DetectionRate_NoCoverage(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	// No rules at all: every event is discarded.

	sim := core.NewSimulation("uncovered drill", drillScenario(true))
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))

	done := waitForStatus(t, h, sim.ID, core.SimulationStatusCompleted)
	h.engine.Wait()

	assert.Equal(t, float64(0), done.Results[core.ResultKeyDetectionRate])
	assert.Empty(t, done.AlertIDs)
	// Events are still persisted and referenced.
	assert.Len(t, done.EventIDs, 2)
}

func TestEngine_ShadowRulesDoNotCountAsDetection(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.addRule(t, "auth failures", "auth.failure", core.RuleStatusTesting)

	sim := core.NewSimulation("shadow drill", drillScenario(true))
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))

	done := waitForStatus(t, h, sim.ID, core.SimulationStatusCompleted)
	h.engine.Wait()

	assert.Equal(t, float64(0), done.Results[core.ResultKeyDetectionRate])
	assert.Empty(t, done.AlertIDs)
}

func TestEngine_StartTwiceFails(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	sim := core.NewSimulation("drill", core.Scenario{
		Intensity: IntensityLow,
		Templates: manyTemplates(50),
	})
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))
	defer h.engine.StopAll()

	err := h.engine.Start(ctx, sim.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestEngine_StopPreservesPartialResults(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	// Low intensity paces one event per second, so the run is still in
	// flight when we stop it.
	sim := core.NewSimulation("long drill", core.Scenario{
		Intensity: IntensityLow,
		Templates: manyTemplates(100),
	})
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.engine.Stop(ctx, sim.ID))
	h.engine.Wait()

	got, err := h.store.GetSimulation(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SimulationStatusStopped, got.Status)
	// Partial counts survive; no detection rate for an unfinished run.
	assert.Contains(t, got.Results, core.ResultKeyEventsGenerated)
	assert.NotContains(t, got.Results, core.ResultKeyDetectionRate)
}

func TestEngine_StopCompletedFails(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	sim := core.NewSimulation("quick drill", drillScenario(false))
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))
	waitForStatus(t, h, sim.ID, core.SimulationStatusCompleted)
	h.engine.Wait()

	err := h.engine.Stop(ctx, sim.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestEngine_StopScheduledFails(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	sim := core.NewSimulation("not started", drillScenario(false))
	require.NoError(t, h.engine.Create(ctx, sim))

	err := h.engine.Stop(ctx, sim.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestEngine_MalformedTemplateFailsRun(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	// The scenario validates at creation; corrupt it afterwards the way a
	// concurrent edit would, so generation hits the bad template.
	sim := core.NewSimulation("broken drill", core.Scenario{
		Intensity: IntensityHigh,
		Templates: []core.EventTemplate{
			{Type: "auth.failure"},
			{Type: "auth.failure", Severity: core.Severity("catastrophic")},
		},
	})
	require.NoError(t, h.store.InsertSimulation(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))

	done := waitForStatus(t, h, sim.ID, core.SimulationStatusFailed)
	h.engine.Wait()

	reason, ok := done.Results[core.ResultKeyFailureReason].(string)
	require.True(t, ok)
	assert.Contains(t, reason, "severity")
	// The event generated before the failure stands; no rollback.
	assert.Len(t, done.EventIDs, 1)
}

func TestEngine_LateScoringInTerminalState(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	sim := core.NewSimulation("drill", drillScenario(false))
	require.NoError(t, h.engine.Create(ctx, sim))
	require.NoError(t, h.engine.Start(ctx, sim.ID))
	waitForStatus(t, h, sim.ID, core.SimulationStatusCompleted)
	h.engine.Wait()

	require.NoError(t, h.engine.RecordResult(ctx, sim.ID, "analyst_score", 0.9))
	require.NoError(t, h.engine.AssociateAlert(ctx, sim.ID, "alert-late"))

	got, err := h.store.GetSimulation(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Results["analyst_score"])
	assert.Contains(t, got.AlertIDs, "alert-late")
}

func TestEngine_Scheduler_StartsDueSimulations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t)
	h.addRule(t, "auth failures", "auth.failure", core.RuleStatusEnabled)

	sim := core.NewSimulation("scheduled drill", drillScenario(true))
	past := time.Now().UTC().Add(-time.Minute)
	sim.ScheduledAt = &past
	require.NoError(t, h.engine.Create(ctx, sim))

	go h.engine.RunScheduler(ctx, 20*time.Millisecond)

	waitForStatus(t, h, sim.ID, core.SimulationStatusCompleted)
	h.engine.Wait()
}

func manyTemplates(n int) []core.EventTemplate {
	tpls := make([]core.EventTemplate, n)
	for i := range tpls {
		tpls[i] = core.EventTemplate{Type: "auth.failure", Severity: core.SeverityLow}
	}
	return tpls
}
