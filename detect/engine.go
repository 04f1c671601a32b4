// Package detect evaluates detection rules against incoming events.
//
// Rules are evaluated independently and in no guaranteed order; no rule
// may observe another's result within a pass, which keeps evaluation
// parallelizable. A malformed predicate fails only its own rule and is
// recorded in metrics, never aborting the pass.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vanguard/core"
	"vanguard/metrics"

	"go.uber.org/zap"
)

// RuleSource supplies the active rule set for evaluation.
// Implemented by storage.RuleStorage.
type RuleSource interface {
	// GetActiveRules returns all rules in enabled or testing status.
	GetActiveRules(ctx context.Context) ([]*core.DetectionRule, error)
}

// Engine evaluates every active rule against incoming events and keeps
// per-rule performance bookkeeping in an explicit registry.
type Engine struct {
	rules    RuleSource
	patterns *PatternCache
	registry *Registry
	logger   *zap.SugaredLogger
}

// NewEngine creates a detection engine.
func NewEngine(rules RuleSource, patterns *PatternCache, registry *Registry, logger *zap.SugaredLogger) *Engine {
	if rules == nil {
		panic("rules source is required")
	}
	if patterns == nil {
		panic("pattern cache is required")
	}
	if registry == nil {
		panic("metrics registry is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Engine{rules: rules, patterns: patterns, registry: registry, logger: logger}
}

// Evaluate runs every enabled and testing rule against the event and
// returns one MatchResult per rule. Evaluation is side-effect-free aside
// from metrics. The error return covers only rule-set retrieval; per-rule
// failures land on the individual MatchResult.
func (e *Engine) Evaluate(ctx context.Context, ev *core.Event) ([]core.MatchResult, error) {
	rules, err := e.rules.GetActiveRules(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: loading rules: %v", core.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	results := make([]core.MatchResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(rule, ev))
	}
	return results, nil
}

func (e *Engine) evaluateRule(rule *core.DetectionRule, ev *core.Event) core.MatchResult {
	shadow := rule.Status == core.RuleStatusTesting
	start := time.Now()

	matched, err := e.patterns.evalPredicate(&rule.Predicate, ev)
	latency := time.Since(start)

	if err != nil {
		// Isolation invariant: the failure stays on this rule.
		e.registry.RecordInvalid(rule.ID)
		metrics.RuleEvaluations.WithLabelValues("invalid").Inc()
		e.logger.Warnw("Rule predicate failed evaluation",
			"rule_id", rule.ID,
			"event_id", ev.ID,
			"error", err)
		return core.MatchResult{RuleID: rule.ID, Latency: latency, Err: err}
	}

	e.registry.RecordEvaluation(rule.ID, matched, shadow, latency)
	switch {
	case matched && shadow:
		metrics.RuleEvaluations.WithLabelValues("shadow").Inc()
	case matched:
		metrics.RuleEvaluations.WithLabelValues("matched").Inc()
	default:
		metrics.RuleEvaluations.WithLabelValues("unmatched").Inc()
	}

	confidence := 0.0
	if matched {
		confidence = 1.0
	}
	return core.MatchResult{
		RuleID:     rule.ID,
		Matched:    matched,
		Shadow:     shadow,
		Confidence: confidence,
		Latency:    latency,
	}
}

// RecordMatch records downstream feedback for a rule match: whether the
// match led to an alert and, per the external feedback pathway, whether
// it counts as a true or false positive.
func (e *Engine) RecordMatch(ruleID, eventID string, createdAlert bool) {
	e.registry.RecordFeedback(ruleID, createdAlert)
	e.logger.Debugw("Recorded match feedback",
		"rule_id", ruleID,
		"event_id", eventID,
		"created_alert", createdAlert)
}

// Stats returns the current performance snapshot for a rule.
func (e *Engine) Stats(ruleID string) RuleStats {
	return e.registry.Snapshot(ruleID)
}
