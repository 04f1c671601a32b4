package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vanguard/core"
)

// MemoryStore is an in-memory implementation of every store interface:
// correlate.AlertStore, correlate.EventStore, detect.RuleSource,
// detect.RuleStore and simulate.SimulationStore. It backs single-node deployments that run
// without MongoDB, and the concurrency tests, so its version checks
// mirror the MongoDB stores exactly.
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]*core.Event
	alerts      map[string]*core.Alert
	rules       map[string]*core.DetectionRule
	simulations map[string]*core.Simulation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]*core.Event),
		alerts:      make(map[string]*core.Alert),
		rules:       make(map[string]*core.DetectionRule),
		simulations: make(map[string]*core.Simulation),
	}
}

// --- events ---

func (m *MemoryStore) InsertEvent(ctx context.Context, ev *core.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[ev.ID]; exists {
		return fmt.Errorf("event %s already exists: %w", ev.ID, core.ErrConflict)
	}
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, eventID string) (*core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, core.ErrNotFound)
	}
	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) AmendSeverity(ctx context.Context, eventID string, severity core.Severity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, core.ErrNotFound)
	}
	if ev.SeverityAmended {
		return fmt.Errorf("event %s severity already amended: %w", eventID, core.ErrConflict)
	}
	ev.Severity = severity
	ev.SeverityAmended = true
	return nil
}

// --- alerts ---

func (m *MemoryStore) InsertAlert(ctx context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerts[alert.ID]; exists {
		return fmt.Errorf("alert %s already exists: %w", alert.ID, core.ErrConflict)
	}
	m.alerts[alert.ID] = copyAlert(alert)
	return nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, alertID string) (*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	return copyAlert(alert), nil
}

func (m *MemoryStore) FindOpenByKey(ctx context.Context, key string, updatedAfter time.Time) (*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *core.Alert
	for _, a := range m.alerts {
		if a.CorrelationKey != key {
			continue
		}
		if a.Status != core.AlertStatusOpen && a.Status != core.AlertStatusInvestigating {
			continue
		}
		if a.UpdatedAt.Before(updatedAfter) {
			continue
		}
		if best == nil ||
			a.UpdatedAt.After(best.UpdatedAt) ||
			(a.UpdatedAt.Equal(best.UpdatedAt) && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no open alert for key %q: %w", key, core.ErrNotFound)
	}
	return copyAlert(best), nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, alertID, eventID string, severity core.Severity, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	if alert.Version != expectedVersion {
		return fmt.Errorf("alert %s version %d: %w", alertID, expectedVersion, core.ErrConflict)
	}
	alert.EventIDs = append(alert.EventIDs, eventID)
	alert.Severity = severity
	alert.Version++
	alert.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, alertID string, status core.AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	alert.Status = status
	alert.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateAssignee(ctx context.Context, alertID string, assignee *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	if assignee == nil {
		alert.Assignee = nil
	} else {
		v := *assignee
		alert.Assignee = &v
	}
	alert.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) AddTag(ctx context.Context, alertID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	alert.Tags, _ = core.AddTag(alert.Tags, tag)
	return nil
}

func (m *MemoryStore) RemoveTag(ctx context.Context, alertID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	alert.Tags, _ = core.RemoveTag(alert.Tags, tag)
	return nil
}

// --- rules ---

func (m *MemoryStore) GetActiveRules(ctx context.Context) ([]*core.DetectionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rules []*core.DetectionRule
	for _, r := range m.rules {
		if r.IsActive() {
			cp := *r
			rules = append(rules, &cp)
		}
	}
	return rules, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, ruleID string) (*core.DetectionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
	}
	cp := *rule
	return &cp, nil
}

func (m *MemoryStore) InsertRule(ctx context.Context, rule *core.DetectionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.Name == rule.Name {
			return fmt.Errorf("%w: rule name %q already exists", core.ErrInvalidRule, rule.Name)
		}
	}
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdatePredicate(ctx context.Context, ruleID string, predicate core.Predicate, severity core.Severity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
	}
	rule.Predicate = predicate
	rule.Severity = severity
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CompareAndSwapStatus(ctx context.Context, ruleID string, from, to core.RuleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
	}
	if rule.Status != from {
		return fmt.Errorf("%w: rule %s left status %s", core.ErrInvalidTransition, ruleID, from)
	}
	rule.Status = to
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListRules(ctx context.Context) ([]*core.DetectionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]*core.DetectionRule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		rules = append(rules, &cp)
	}
	return rules, nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[ruleID]; !ok {
		return fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
	}
	delete(m.rules, ruleID)
	return nil
}

// --- simulations ---

func (m *MemoryStore) InsertSimulation(ctx context.Context, sim *core.Simulation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.simulations[sim.ID]; exists {
		return fmt.Errorf("simulation %s already exists: %w", sim.ID, core.ErrConflict)
	}
	m.simulations[sim.ID] = copySimulation(sim)
	return nil
}

func (m *MemoryStore) GetSimulation(ctx context.Context, simulationID string) (*core.Simulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sim, ok := m.simulations[simulationID]
	if !ok {
		return nil, fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
	}
	return copySimulation(sim), nil
}

func (m *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]*core.Simulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*core.Simulation
	for _, s := range m.simulations {
		if s.Status == core.SimulationStatusScheduled && s.ScheduledAt != nil && !s.ScheduledAt.After(now) {
			due = append(due, copySimulation(s))
		}
	}
	return due, nil
}

// CompareAndSwapSimulationStatus mirrors SimulationStorage: guarded by
// the expected current status, stamping started_at and ended_at.
func (m *MemoryStore) CompareAndSwapSimulationStatus(ctx context.Context, simulationID string, from, to core.SimulationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sim, ok := m.simulations[simulationID]
	if !ok {
		return fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
	}
	if sim.Status != from {
		return fmt.Errorf("%w: simulation %s left status %s", core.ErrInvalidTransition, simulationID, from)
	}
	now := time.Now().UTC()
	sim.Status = to
	sim.UpdatedAt = now
	if to == core.SimulationStatusRunning {
		sim.StartedAt = &now
	}
	if to.IsTerminal() {
		sim.EndedAt = &now
	}
	return nil
}

func (m *MemoryStore) AppendEventRef(ctx context.Context, simulationID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sim, ok := m.simulations[simulationID]
	if !ok {
		return fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
	}
	sim.EventIDs = append(sim.EventIDs, eventID)
	sim.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) AppendAlertRef(ctx context.Context, simulationID, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sim, ok := m.simulations[simulationID]
	if !ok {
		return fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
	}
	for _, id := range sim.AlertIDs {
		if id == alertID {
			return nil
		}
	}
	sim.AlertIDs = append(sim.AlertIDs, alertID)
	sim.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetResult(ctx context.Context, simulationID, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sim, ok := m.simulations[simulationID]
	if !ok {
		return fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
	}
	if sim.Results == nil {
		sim.Results = make(map[string]interface{})
	}
	sim.Results[key] = value
	sim.UpdatedAt = time.Now().UTC()
	return nil
}

// --- copies ---

func copyAlert(a *core.Alert) *core.Alert {
	cp := *a
	cp.EventIDs = append([]string(nil), a.EventIDs...)
	cp.Tags = append([]string(nil), a.Tags...)
	if a.Assignee != nil {
		v := *a.Assignee
		cp.Assignee = &v
	}
	return &cp
}

func copySimulation(s *core.Simulation) *core.Simulation {
	cp := *s
	cp.EventIDs = append([]string(nil), s.EventIDs...)
	cp.AlertIDs = append([]string(nil), s.AlertIDs...)
	cp.Tags = append([]string(nil), s.Tags...)
	if s.Results != nil {
		cp.Results = make(map[string]interface{}, len(s.Results))
		for k, v := range s.Results {
			cp.Results[k] = v
		}
	}
	return &cp
}
