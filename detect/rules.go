package detect

import (
	"context"
	"fmt"

	"vanguard/core"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RuleStore provides rule persistence for management operations.
// Implemented by storage.RuleStorage and storage.MemoryStore.
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*core.DetectionRule, error)
	InsertRule(ctx context.Context, rule *core.DetectionRule) error
	UpdatePredicate(ctx context.Context, ruleID string, predicate core.Predicate, severity core.Severity) error

	// CompareAndSwapStatus transitions ruleID from one status to another,
	// failing with core.ErrInvalidTransition when the rule has moved on.
	CompareAndSwapStatus(ctx context.Context, ruleID string, from, to core.RuleStatus) error

	ListRules(ctx context.Context) ([]*core.DetectionRule, error)
	DeleteRule(ctx context.Context, ruleID string) error
}

// Manager owns the rule management surface: creation, predicate updates
// and the status state machine. Every predicate is validated before it
// can reach the evaluation path.
type Manager struct {
	store    RuleStore
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

// NewManager creates a rule manager.
func NewManager(store RuleStore, logger *zap.SugaredLogger) *Manager {
	if store == nil {
		panic("rule store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Manager{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateRule validates and stores a new rule. New rules start disabled
// regardless of the requested status; enabling is a separate, audited
// transition.
func (m *Manager) CreateRule(ctx context.Context, rule *core.DetectionRule) error {
	rule.Status = core.RuleStatusDisabled
	if err := m.validateRule(rule); err != nil {
		return err
	}
	if err := m.store.InsertRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	m.logger.Infow("Created detection rule", "rule_id", rule.ID, "name", rule.Name)
	return nil
}

// UpdatePredicate replaces a rule's predicate and severity after
// validation. Allowed in any status; a rule under test picks up the new
// predicate on the next evaluation pass.
func (m *Manager) UpdatePredicate(ctx context.Context, ruleID string, predicate core.Predicate, severity core.Severity) error {
	if !severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", core.ErrInvalidRule, severity)
	}
	if err := predicate.Validate(); err != nil {
		return err
	}
	if err := m.store.UpdatePredicate(ctx, ruleID, predicate, severity); err != nil {
		return fmt.Errorf("failed to update rule predicate: %w", err)
	}
	return nil
}

// Transition moves a rule through its status state machine: enabled and
// disabled swap freely, either may enter testing, and testing promotes
// only to enabled. Invalid edges fail with core.ErrInvalidTransition.
func (m *Manager) Transition(ctx context.Context, ruleID string, to core.RuleStatus) error {
	rule, err := m.store.GetRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("failed to load rule: %w", err)
	}

	from := rule.Status
	if err := rule.TransitionTo(to); err != nil {
		return err
	}
	if err := m.store.CompareAndSwapStatus(ctx, ruleID, from, to); err != nil {
		return err
	}
	m.logger.Infow("Rule status changed", "rule_id", ruleID, "from", from, "to", to)
	return nil
}

// GetRule retrieves one rule.
func (m *Manager) GetRule(ctx context.Context, ruleID string) (*core.DetectionRule, error) {
	return m.store.GetRule(ctx, ruleID)
}

// ListRules lists all rules.
func (m *Manager) ListRules(ctx context.Context) ([]*core.DetectionRule, error) {
	return m.store.ListRules(ctx)
}

// DeleteRule removes a rule permanently.
func (m *Manager) DeleteRule(ctx context.Context, ruleID string) error {
	if err := m.store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	m.logger.Infow("Deleted detection rule", "rule_id", ruleID)
	return nil
}

func (m *Manager) validateRule(rule *core.DetectionRule) error {
	if err := m.validate.Struct(rule); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRule, err)
	}
	if !rule.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", core.ErrInvalidRule, rule.Severity)
	}
	return rule.Predicate.Validate()
}
