package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vanguard/core"
	"vanguard/detect"

	"go.uber.org/zap"
)

// RulePerformanceStorage persists rule performance snapshots in SQLite.
// It implements detect.PerformanceStore for the periodic flusher.
type RulePerformanceStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewRulePerformanceStorage creates a rule performance storage.
func NewRulePerformanceStorage(sqlite *SQLite, logger *zap.SugaredLogger) *RulePerformanceStorage {
	return &RulePerformanceStorage{sqlite: sqlite, logger: logger}
}

// UpsertPerformance writes a batch of snapshots in one transaction.
// Snapshots are absolute values, so the upsert replaces rather than
// accumulates.
func (s *RulePerformanceStorage) UpsertPerformance(ctx context.Context, stats []detect.RuleStats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.sqlite.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_performance (
			rule_id, evaluations, matches, shadow_matches, invalid_count,
			true_positives, false_positives, avg_latency_ns,
			last_match, last_evaluated, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			evaluations = excluded.evaluations,
			matches = excluded.matches,
			shadow_matches = excluded.shadow_matches,
			invalid_count = excluded.invalid_count,
			true_positives = excluded.true_positives,
			false_positives = excluded.false_positives,
			avg_latency_ns = excluded.avg_latency_ns,
			last_match = excluded.last_match,
			last_evaluated = excluded.last_evaluated,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, st := range stats {
		if st.RuleID == "" {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			st.RuleID,
			st.Evaluations,
			st.Matches,
			st.ShadowMatches,
			st.InvalidCount,
			st.TruePositives,
			st.FalsePositives,
			st.AvgLatency.Nanoseconds(),
			formatNullableTime(st.LastMatch),
			formatNullableTime(st.LastEvaluated),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert performance for rule %s: %w", st.RuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit performance upsert: %w", err)
	}
	return nil
}

// GetPerformance retrieves the persisted snapshot for one rule.
func (s *RulePerformanceStorage) GetPerformance(ctx context.Context, ruleID string) (*detect.RuleStats, error) {
	row := s.sqlite.DB.QueryRowContext(ctx, `
		SELECT rule_id, evaluations, matches, shadow_matches, invalid_count,
		       true_positives, false_positives, avg_latency_ns,
		       last_match, last_evaluated
		FROM rule_performance WHERE rule_id = ?
	`, ruleID)

	var st detect.RuleStats
	var avgNs int64
	var lastMatch, lastEvaluated sql.NullString
	err := row.Scan(
		&st.RuleID,
		&st.Evaluations,
		&st.Matches,
		&st.ShadowMatches,
		&st.InvalidCount,
		&st.TruePositives,
		&st.FalsePositives,
		&avgNs,
		&lastMatch,
		&lastEvaluated,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule performance %s: %w", ruleID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read performance for rule %s: %w", ruleID, err)
	}

	st.AvgLatency = time.Duration(avgNs)
	if st.LastMatch, err = parseNullableTime(lastMatch); err != nil {
		return nil, fmt.Errorf("failed to parse last_match for rule %s: %w", ruleID, err)
	}
	if st.LastEvaluated, err = parseNullableTime(lastEvaluated); err != nil {
		return nil, fmt.Errorf("failed to parse last_evaluated for rule %s: %w", ruleID, err)
	}
	return &st, nil
}

// GetSlowRules returns persisted snapshots whose average latency exceeds
// the threshold, slowest first.
func (s *RulePerformanceStorage) GetSlowRules(ctx context.Context, threshold time.Duration, limit int) ([]detect.RuleStats, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sqlite.DB.QueryContext(ctx, `
		SELECT rule_id, evaluations, matches, shadow_matches, invalid_count,
		       true_positives, false_positives, avg_latency_ns
		FROM rule_performance
		WHERE avg_latency_ns > ?
		ORDER BY avg_latency_ns DESC
		LIMIT ?
	`, threshold.Nanoseconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query slow rules: %w", err)
	}
	defer rows.Close()

	var out []detect.RuleStats
	for rows.Next() {
		var st detect.RuleStats
		var avgNs int64
		if err := rows.Scan(
			&st.RuleID,
			&st.Evaluations,
			&st.Matches,
			&st.ShadowMatches,
			&st.InvalidCount,
			&st.TruePositives,
			&st.FalsePositives,
			&avgNs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan slow rule: %w", err)
		}
		st.AvgLatency = time.Duration(avgNs)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate slow rules: %w", err)
	}
	return out, nil
}

// DeletePerformance removes the snapshot for a deleted rule.
func (s *RulePerformanceStorage) DeletePerformance(ctx context.Context, ruleID string) error {
	if _, err := s.sqlite.DB.ExecContext(ctx, `DELETE FROM rule_performance WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("failed to delete performance for rule %s: %w", ruleID, err)
	}
	return nil
}

func formatNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
