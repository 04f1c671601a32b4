package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vanguard/core"
	"vanguard/correlate"
	"vanguard/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SimulationStore provides simulation persistence.
// Implemented by storage.SimulationStorage and storage.MemoryStore.
type SimulationStore interface {
	GetSimulation(ctx context.Context, simulationID string) (*core.Simulation, error)
	InsertSimulation(ctx context.Context, sim *core.Simulation) error
	ListDue(ctx context.Context, now time.Time) ([]*core.Simulation, error)

	// CompareAndSwapSimulationStatus transitions guarded by the expected
	// current status, failing with core.ErrInvalidTransition when another
	// writer moved the status first.
	CompareAndSwapSimulationStatus(ctx context.Context, simulationID string, from, to core.SimulationStatus) error

	AppendEventRef(ctx context.Context, simulationID, eventID string) error
	AppendAlertRef(ctx context.Context, simulationID, alertID string) error
	SetResult(ctx context.Context, simulationID, key string, value interface{}) error
}

// Detector evaluates rules against one event.
// Implemented by detect.Engine.
type Detector interface {
	Evaluate(ctx context.Context, ev *core.Event) ([]core.MatchResult, error)
}

// Correlator routes an evaluated event into the alert pipeline.
// Implemented by correlate.Engine.
type Correlator interface {
	Ingest(ctx context.Context, ev *core.Event, matches []core.MatchResult) (*correlate.AlertDecision, error)
}

// finalizeTimeout bounds the result writes a runner performs after its
// own context is gone.
const finalizeTimeout = 10 * time.Second

// Engine drives the simulation lifecycle: scheduled simulations start
// into a paced runner goroutine, which generates synthetic events
// through the live detection path and finalizes results on completion.
type Engine struct {
	store      SimulationStore
	detector   Detector
	correlator Correlator
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	runners map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a simulation engine.
func NewEngine(store SimulationStore, detector Detector, correlator Correlator, logger *zap.SugaredLogger) *Engine {
	if store == nil {
		panic("simulation store is required")
	}
	if detector == nil {
		panic("detector is required")
	}
	if correlator == nil {
		panic("correlator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Engine{
		store:      store,
		detector:   detector,
		correlator: correlator,
		logger:     logger,
		runners:    make(map[string]context.CancelFunc),
	}
}

// Create validates and stores a new simulation in scheduled status.
func (e *Engine) Create(ctx context.Context, sim *core.Simulation) error {
	if sim.Name == "" {
		return fmt.Errorf("simulation name is required")
	}
	if err := ValidateScenario(&sim.Scenario); err != nil {
		return err
	}
	if err := e.store.InsertSimulation(ctx, sim); err != nil {
		return fmt.Errorf("failed to create simulation: %w", err)
	}
	e.logger.Infow("Created simulation", "simulation_id", sim.ID, "name", sim.Name)
	return nil
}

// Get retrieves one simulation.
func (e *Engine) Get(ctx context.Context, simulationID string) (*core.Simulation, error) {
	return e.store.GetSimulation(ctx, simulationID)
}

// Start transitions a simulation scheduled → running and launches its
// runner. Any other current status fails with core.ErrInvalidTransition;
// the status CAS guarantees at most one runner per simulation even under
// concurrent start requests.
func (e *Engine) Start(ctx context.Context, simulationID string) error {
	sim, err := e.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return fmt.Errorf("failed to load simulation: %w", err)
	}

	if err := e.store.CompareAndSwapSimulationStatus(ctx, simulationID, core.SimulationStatusScheduled, core.SimulationStatusRunning); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.runners[simulationID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx, sim)

	e.logger.Infow("Started simulation", "simulation_id", simulationID, "name", sim.Name)
	return nil
}

// Stop transitions running → stopped and halts event generation. Results
// collected so far are preserved. Stopping a simulation that is not
// running fails with core.ErrInvalidTransition.
func (e *Engine) Stop(ctx context.Context, simulationID string) error {
	if err := e.store.CompareAndSwapSimulationStatus(ctx, simulationID, core.SimulationStatusRunning, core.SimulationStatusStopped); err != nil {
		return err
	}
	e.cancelRunner(simulationID)
	e.logger.Infow("Stopped simulation", "simulation_id", simulationID)
	return nil
}

// RecordResult writes one result metric. Permitted in any status,
// including terminal, so asynchronous scoring can land late.
func (e *Engine) RecordResult(ctx context.Context, simulationID, key string, value float64) error {
	return e.store.SetResult(ctx, simulationID, key, value)
}

// AssociateAlert links an alert to the simulation. Permitted in any
// status, including terminal.
func (e *Engine) AssociateAlert(ctx context.Context, simulationID, alertID string) error {
	return e.store.AppendAlertRef(ctx, simulationID, alertID)
}

// RunScheduler blocks, starting due scheduled simulations every interval
// until the context is canceled.
func (e *Engine) RunScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.startDue(ctx)
		}
	}
}

func (e *Engine) startDue(ctx context.Context) {
	due, err := e.store.ListDue(ctx, time.Now().UTC())
	if err != nil {
		e.logger.Errorf("Failed to list due simulations: %v", err)
		return
	}
	for _, sim := range due {
		if err := e.Start(ctx, sim.ID); err != nil {
			// A concurrent scheduler may have won the start CAS.
			if errors.Is(err, core.ErrInvalidTransition) {
				continue
			}
			e.logger.Errorf("Failed to start due simulation %s: %v", sim.ID, err)
		}
	}
}

// Wait blocks until every runner has exited. Used during shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// StopAll cancels every local runner without changing stored status.
func (e *Engine) StopAll() {
	e.mu.Lock()
	for _, cancel := range e.runners {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) cancelRunner(simulationID string) {
	e.mu.Lock()
	cancel, ok := e.runners[simulationID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) removeRunner(simulationID string) {
	e.mu.Lock()
	if cancel, ok := e.runners[simulationID]; ok {
		cancel()
		delete(e.runners, simulationID)
	}
	e.mu.Unlock()
}

// runProgress accumulates counters for one run. detected counts only
// the events annotated as expecting detection, which is the detection
// rate numerator; alerted counts every event that produced or joined an
// alert.
type runProgress struct {
	generated int
	expected  int
	detected  int
	alerted   int
}

// run is the runner goroutine: it materializes every template against
// every target asset at the scenario's pace, feeding each event through
// detection and correlation. It owns the terminal transition unless a
// stop got there first.
func (e *Engine) run(ctx context.Context, sim *core.Simulation) {
	defer e.wg.Done()
	defer e.removeRunner(sim.ID)

	limiter := rate.NewLimiter(intensityLimit(sim.Scenario.Intensity), 1)
	progress := &runProgress{}

	assets := sim.Scenario.TargetAssets
	if len(assets) == 0 {
		assets = []string{""}
	}

	for _, tpl := range sim.Scenario.Templates {
		for _, asset := range assets {
			if err := limiter.Wait(ctx); err != nil {
				// Canceled by stop: status already flipped, keep partials.
				e.writeResults(sim.ID, progress, false)
				return
			}

			ev, err := e.materialize(sim, tpl, asset)
			if err != nil {
				e.fail(sim.ID, progress, err)
				return
			}
			if err := e.processEvent(ctx, sim.ID, tpl, ev, progress); err != nil {
				if ctx.Err() != nil {
					e.writeResults(sim.ID, progress, false)
					return
				}
				e.fail(sim.ID, progress, err)
				return
			}
		}
	}

	e.complete(sim.ID, progress)
}

func (e *Engine) materialize(sim *core.Simulation, tpl core.EventTemplate, asset string) (*core.Event, error) {
	if tpl.Type == "" {
		return nil, fmt.Errorf("template has no event type")
	}
	severity := tpl.Severity
	if severity == "" {
		severity = core.SeverityInfo
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("template has unknown severity %q", tpl.Severity)
	}

	ev := core.NewEvent()
	ev.Type = tpl.Type
	ev.Source = tpl.Source
	if ev.Source == "" {
		ev.Source = "simulation"
	}
	ev.Severity = severity
	ev.Tags = append([]string(nil), tpl.Tags...)
	ev.SimulationID = sim.ID
	for k, v := range tpl.Fields {
		ev.Fields[k] = v
	}
	if asset != "" {
		ev.Fields["target_asset"] = asset
	}

	switch {
	case tpl.CorrelationKey != "":
		ev.CorrelationKey = tpl.CorrelationKey
	case asset != "":
		ev.CorrelationKey = fmt.Sprintf("sim:%s:%s", sim.ID, asset)
	default:
		ev.CorrelationKey = "sim:" + sim.ID
	}
	return ev, nil
}

func (e *Engine) processEvent(ctx context.Context, simulationID string, tpl core.EventTemplate, ev *core.Event, progress *runProgress) error {
	matches, err := e.detector.Evaluate(ctx, ev)
	if err != nil {
		return fmt.Errorf("rule evaluation failed: %w", err)
	}

	decision, err := e.correlator.Ingest(ctx, ev, matches)
	if err != nil {
		return fmt.Errorf("event ingestion failed: %w", err)
	}

	progress.generated++
	metrics.SimulationEventsGenerated.Inc()
	if tpl.ExpectsDetection {
		progress.expected++
	}

	if err := e.store.AppendEventRef(ctx, simulationID, ev.ID); err != nil {
		return fmt.Errorf("failed to record event reference: %w", err)
	}
	if decision.Outcome != correlate.DecisionDiscarded {
		progress.alerted++
		if tpl.ExpectsDetection {
			progress.detected++
		}
		if err := e.store.AppendAlertRef(ctx, simulationID, decision.AlertID); err != nil {
			return fmt.Errorf("failed to record alert reference: %w", err)
		}
	}
	return nil
}

// complete finalizes the run: results first, then the terminal CAS. A
// stop that raced us wins; the results stand either way.
func (e *Engine) complete(simulationID string, progress *runProgress) {
	e.writeResults(simulationID, progress, true)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	err := e.store.CompareAndSwapSimulationStatus(ctx, simulationID, core.SimulationStatusRunning, core.SimulationStatusCompleted)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			e.logger.Infow("Simulation already left running before completion", "simulation_id", simulationID)
			return
		}
		e.logger.Errorf("Failed to complete simulation %s: %v", simulationID, err)
		return
	}
	e.logger.Infow("Simulation completed",
		"simulation_id", simulationID,
		"events_generated", progress.generated,
		"alerts_detected", progress.detected)
}

// fail records the failure reason and transitions running → failed.
// Already-generated events and alerts stand; there is no rollback.
func (e *Engine) fail(simulationID string, progress *runProgress, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	e.writeResults(simulationID, progress, false)
	if err := e.store.SetResult(ctx, simulationID, core.ResultKeyFailureReason, cause.Error()); err != nil {
		e.logger.Errorf("Failed to record failure reason for simulation %s: %v", simulationID, err)
	}

	err := e.store.CompareAndSwapSimulationStatus(ctx, simulationID, core.SimulationStatusRunning, core.SimulationStatusFailed)
	if err != nil && !errors.Is(err, core.ErrInvalidTransition) {
		e.logger.Errorf("Failed to mark simulation %s failed: %v", simulationID, err)
	}
	e.logger.Warnw("Simulation failed", "simulation_id", simulationID, "error", cause)
}

// writeResults persists the run counters. The detection rate is only
// meaningful once the scenario ran to completion; partial runs keep the
// raw counts.
func (e *Engine) writeResults(simulationID string, progress *runProgress, finalize bool) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	results := map[string]float64{
		core.ResultKeyEventsGenerated: float64(progress.generated),
		core.ResultKeyAlertsTriggered: float64(progress.alerted),
	}
	if finalize {
		detectionRate := 0.0
		if progress.expected > 0 {
			detectionRate = float64(progress.detected) / float64(progress.expected)
		}
		results[core.ResultKeyDetectionRate] = detectionRate
	}

	for key, value := range results {
		if err := e.store.SetResult(ctx, simulationID, key, value); err != nil {
			e.logger.Errorf("Failed to record result %s for simulation %s: %v", key, simulationID, err)
		}
	}
}
