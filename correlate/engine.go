// Package correlate routes matched events into alerts: attaching to a
// recent open alert sharing the event's correlation key, creating a new
// alert, or discarding when no enabled rule matched. It also owns the
// alert lifecycle operations (status, assignment, events, tags).
//
// The attach-or-create decision is a check-then-act sequence and is
// serialized per correlation key with striped locks; the store-level
// version CAS closes the same race across processes.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vanguard/core"
	"vanguard/metrics"

	"go.uber.org/zap"
)

// DecisionOutcome classifies what Ingest did with an event.
type DecisionOutcome string

const (
	DecisionCreated   DecisionOutcome = "created"
	DecisionAttached  DecisionOutcome = "attached"
	DecisionDiscarded DecisionOutcome = "discarded"
)

// AlertDecision is the result of ingesting one event.
type AlertDecision struct {
	Outcome DecisionOutcome `json:"outcome"`
	AlertID string          `json:"alert_id,omitempty"`
	RuleID  string          `json:"rule_id,omitempty"`
}

// AlertStore provides the alert persistence the engine needs.
// Implemented by storage.AlertStorage and storage.MemoryStore.
type AlertStore interface {
	GetAlert(ctx context.Context, alertID string) (*core.Alert, error)
	InsertAlert(ctx context.Context, alert *core.Alert) error

	// FindOpenByKey returns the open or investigating alert with the given
	// correlation key updated at or after the cutoff, preferring the most
	// recently updated and breaking exact timestamp ties by lower id.
	// Returns core.ErrNotFound when no candidate exists.
	FindOpenByKey(ctx context.Context, key string, updatedAfter time.Time) (*core.Alert, error)

	// AppendEvent atomically appends an event reference, sets the derived
	// severity and bumps updated_at, guarded by the expected version.
	// Returns core.ErrConflict when the version moved underneath us.
	AppendEvent(ctx context.Context, alertID, eventID string, severity core.Severity, expectedVersion int64) error

	UpdateStatus(ctx context.Context, alertID string, status core.AlertStatus) error
	UpdateAssignee(ctx context.Context, alertID string, assignee *string) error
	AddTag(ctx context.Context, alertID, tag string) error
	RemoveTag(ctx context.Context, alertID, tag string) error
}

// EventStore provides event lookups for ingestion and manual attachment.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (*core.Event, error)
	InsertEvent(ctx context.Context, ev *core.Event) error
}

// Engine is the correlation engine.
type Engine struct {
	alerts  AlertStore
	events  EventStore
	keys    *KeyLocks
	cache   KeyCache // optional, may be nil
	window  time.Duration
	retries int
	logger  *zap.SugaredLogger
}

// NewEngine creates a correlation engine. cache may be nil.
func NewEngine(alerts AlertStore, events EventStore, keys *KeyLocks, cache KeyCache, window time.Duration, retries int, logger *zap.SugaredLogger) *Engine {
	if alerts == nil {
		panic("alert store is required")
	}
	if events == nil {
		panic("event store is required")
	}
	if keys == nil {
		panic("key locks are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Engine{
		alerts:  alerts,
		events:  events,
		keys:    keys,
		cache:   cache,
		window:  window,
		retries: retries,
		logger:  logger,
	}
}

// Ingest persists the event and decides whether it attaches to an
// existing alert, spawns a new one, or is discarded. Only matches from
// enabled rules count; shadow matches never create or attach alerts.
func (e *Engine) Ingest(ctx context.Context, ev *core.Event, matches []core.MatchResult) (*AlertDecision, error) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	origin := "organic"
	if ev.SimulationID != "" {
		origin = "simulation"
	}
	metrics.EventsIngested.WithLabelValues(origin).Inc()

	if err := e.events.InsertEvent(ctx, ev); err != nil {
		return nil, wrapStoreErr("failed to store event", err)
	}

	ruleID, alerting := firstAlertingMatch(matches)
	if !alerting {
		return &AlertDecision{Outcome: DecisionDiscarded}, nil
	}

	// Events without a correlation key have nothing to correlate on.
	if ev.CorrelationKey == "" {
		alert, err := e.createAlert(ctx, ev, ruleID)
		if err != nil {
			return nil, err
		}
		return &AlertDecision{Outcome: DecisionCreated, AlertID: alert.ID, RuleID: ruleID}, nil
	}

	e.keys.Lock(ev.CorrelationKey)
	defer e.keys.Unlock(ev.CorrelationKey)

	for attempt := 0; ; attempt++ {
		candidate, err := e.findCandidate(ctx, ev)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}

		if candidate == nil {
			alert, err := e.createAlert(ctx, ev, ruleID)
			if err != nil {
				return nil, err
			}
			e.cacheKey(ctx, ev.CorrelationKey, alert.ID)
			return &AlertDecision{Outcome: DecisionCreated, AlertID: alert.ID, RuleID: ruleID}, nil
		}

		severity := attachSeverity(candidate, ev.Severity)
		err = e.alerts.AppendEvent(ctx, candidate.ID, ev.ID, severity, candidate.Version)
		if err == nil {
			metrics.EventsCorrelated.Inc()
			e.cacheKey(ctx, ev.CorrelationKey, candidate.ID)
			return &AlertDecision{Outcome: DecisionAttached, AlertID: candidate.ID, RuleID: ruleID}, nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return nil, wrapStoreErr("failed to attach event", err)
		}

		metrics.CorrelationConflicts.Inc()
		if attempt >= e.retries {
			return nil, fmt.Errorf("%w: attach to alert %s lost after %d attempts", core.ErrConflict, candidate.ID, attempt+1)
		}
		// Re-read the candidate and retry with the fresh version.
	}
}

// firstAlertingMatch picks the rule whose match drives alerting: the first
// non-shadow match by rule id, deterministic across the unordered result
// set.
func firstAlertingMatch(matches []core.MatchResult) (string, bool) {
	best := ""
	for _, m := range matches {
		if !m.Matched || m.Shadow {
			continue
		}
		if best == "" || m.RuleID < best {
			best = m.RuleID
		}
	}
	return best, best != ""
}

func (e *Engine) findCandidate(ctx context.Context, ev *core.Event) (*core.Alert, error) {
	cutoff := ev.Timestamp.Add(-e.window)

	if e.cache != nil {
		if id, ok, err := e.cache.GetAlertID(ctx, ev.CorrelationKey); err == nil && ok {
			alert, err := e.alerts.GetAlert(ctx, id)
			if err == nil && alertEligible(alert, cutoff) {
				return alert, nil
			}
			// Stale cache entry; fall through to the store query.
		}
	}

	alert, err := e.alerts.FindOpenByKey(ctx, ev.CorrelationKey, cutoff)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, wrapStoreErr("failed to find candidate alert", err)
	}
	return alert, nil
}

func alertEligible(a *core.Alert, cutoff time.Time) bool {
	if a == nil {
		return false
	}
	if a.Status != core.AlertStatusOpen && a.Status != core.AlertStatusInvestigating {
		return false
	}
	return !a.UpdatedAt.Before(cutoff)
}

// attachSeverity derives the post-attach severity: the incremental max of
// the alert's current (already-derived) severity and the new event's,
// unless an override pins it.
func attachSeverity(a *core.Alert, eventSeverity core.Severity) core.Severity {
	if a.SeverityOverride {
		return a.Severity
	}
	return core.MaxSeverity([]core.Severity{a.Severity, eventSeverity})
}

func (e *Engine) createAlert(ctx context.Context, ev *core.Event, ruleID string) (*core.Alert, error) {
	alert := core.NewAlertFromEvent(ev, ruleID)
	if err := e.alerts.InsertAlert(ctx, alert); err != nil {
		return nil, wrapStoreErr("failed to create alert", err)
	}
	metrics.AlertsCreated.WithLabelValues(alert.Severity.String()).Inc()
	e.logger.Infow("Created alert",
		"alert_id", alert.ID,
		"rule_id", ruleID,
		"correlation_key", alert.CorrelationKey,
		"severity", alert.Severity)
	return alert, nil
}

func (e *Engine) cacheKey(ctx context.Context, key, alertID string) {
	if e.cache == nil {
		return
	}
	// Best effort; a cache failure never fails ingestion.
	_ = e.cache.SetAlertID(ctx, key, alertID, e.window)
}

// UpdateStatus enforces the alert status state machine. Violations return
// core.ErrInvalidTransition; unknown alerts core.ErrNotFound.
func (e *Engine) UpdateStatus(ctx context.Context, alertID string, newStatus core.AlertStatus) error {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return wrapStoreErr("failed to load alert", err)
	}
	if err := alert.TransitionTo(newStatus); err != nil {
		return err
	}
	if err := e.alerts.UpdateStatus(ctx, alertID, newStatus); err != nil {
		return wrapStoreErr("failed to update alert status", err)
	}
	e.logger.Infow("Alert status updated", "alert_id", alertID, "status", newStatus)
	return nil
}

// Assign sets or clears the alert assignee. Allowed from any non-terminal
// status; never changes status.
func (e *Engine) Assign(ctx context.Context, alertID string, userRef *string) error {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return wrapStoreErr("failed to load alert", err)
	}
	if alert.IsTerminal() {
		return fmt.Errorf("%w: cannot assign closed alert %s", core.ErrInvalidTransition, alertID)
	}
	if err := e.alerts.UpdateAssignee(ctx, alertID, userRef); err != nil {
		return wrapStoreErr("failed to update assignee", err)
	}
	return nil
}

// AddEvent appends an event to an alert outside the ingestion path,
// recomputing the derived severity. Closed alerts are immutable except
// for tags.
func (e *Engine) AddEvent(ctx context.Context, alertID, eventID string) error {
	ev, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		return wrapStoreErr("failed to load event", err)
	}

	for attempt := 0; ; attempt++ {
		alert, err := e.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return wrapStoreErr("failed to load alert", err)
		}
		if alert.IsTerminal() {
			return fmt.Errorf("%w: alert %s is closed", core.ErrInvalidTransition, alertID)
		}

		severity := attachSeverity(alert, ev.Severity)
		err = e.alerts.AppendEvent(ctx, alertID, eventID, severity, alert.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return wrapStoreErr("failed to append event", err)
		}
		if attempt >= e.retries {
			return fmt.Errorf("%w: append to alert %s lost after %d attempts", core.ErrConflict, alertID, attempt+1)
		}
	}
}

// AddTag adds a tag to an alert. Idempotent, allowed in any state.
func (e *Engine) AddTag(ctx context.Context, alertID, tag string) error {
	if err := e.alerts.AddTag(ctx, alertID, tag); err != nil {
		return wrapStoreErr("failed to add tag", err)
	}
	return nil
}

// RemoveTag removes a tag from an alert. Idempotent, allowed in any state.
func (e *Engine) RemoveTag(ctx context.Context, alertID, tag string) error {
	if err := e.alerts.RemoveTag(ctx, alertID, tag); err != nil {
		return wrapStoreErr("failed to remove tag", err)
	}
	return nil
}

// wrapStoreErr adds context while keeping the sentinel chain intact, and
// maps raw deadline errors onto the retryable timeout sentinel.
func wrapStoreErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, core.ErrTimeout) {
		return fmt.Errorf("%s: %w: %v", msg, core.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
