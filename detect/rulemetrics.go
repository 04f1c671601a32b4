package detect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RuleStats is a point-in-time snapshot of one rule's counters.
type RuleStats struct {
	RuleID         string
	Evaluations    int64
	Matches        int64
	ShadowMatches  int64
	InvalidCount   int64
	TruePositives  int64
	FalsePositives int64
	// AvgLatency is an exponentially weighted moving average with alpha
	// 0.2: avg = 0.2*sample + 0.8*avg. No per-sample history is kept.
	AvgLatency    time.Duration
	LastMatch     time.Time
	LastEvaluated time.Time
}

// ewmaAlpha weights the newest latency sample in the rolling average.
const ewmaAlpha = 0.2

type ruleCounters struct {
	mu             sync.Mutex
	evaluations    int64
	matches        int64
	shadowMatches  int64
	invalidCount   int64
	truePositives  int64
	falsePositives int64
	avgLatencyNs   float64
	lastMatch      time.Time
	lastEvaluated  time.Time
}

// Registry tracks per-rule performance counters. It is an explicit
// dependency of the Engine, never package-level state. Counters are
// guarded per rule so concurrent evaluation of different rules never
// contends on a shared lock.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*ruleCounters
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*ruleCounters)}
}

func (r *Registry) counters(ruleID string) *ruleCounters {
	r.mu.RLock()
	c, ok := r.rules[ruleID]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.rules[ruleID]; ok {
		return c
	}
	c = &ruleCounters{}
	r.rules[ruleID] = c
	return c
}

// RecordEvaluation records one evaluation pass for a rule.
func (r *Registry) RecordEvaluation(ruleID string, matched, shadow bool, latency time.Duration) {
	c := r.counters(ruleID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evaluations++
	c.lastEvaluated = time.Now().UTC()
	if c.avgLatencyNs == 0 {
		c.avgLatencyNs = float64(latency.Nanoseconds())
	} else {
		c.avgLatencyNs = ewmaAlpha*float64(latency.Nanoseconds()) + (1-ewmaAlpha)*c.avgLatencyNs
	}
	if matched {
		c.lastMatch = c.lastEvaluated
		if shadow {
			c.shadowMatches++
		} else {
			c.matches++
		}
	}
}

// RecordInvalid records an isolated predicate failure for a rule.
func (r *Registry) RecordInvalid(ruleID string) {
	c := r.counters(ruleID)
	c.mu.Lock()
	c.invalidCount++
	c.lastEvaluated = time.Now().UTC()
	c.mu.Unlock()
}

// RecordFeedback records human or automated verdict feedback for a match.
func (r *Registry) RecordFeedback(ruleID string, truePositive bool) {
	c := r.counters(ruleID)
	c.mu.Lock()
	if truePositive {
		c.truePositives++
	} else {
		c.falsePositives++
	}
	c.mu.Unlock()
}

// Snapshot returns a copy of the counters for one rule.
func (r *Registry) Snapshot(ruleID string) RuleStats {
	c := r.counters(ruleID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return RuleStats{
		RuleID:         ruleID,
		Evaluations:    c.evaluations,
		Matches:        c.matches,
		ShadowMatches:  c.shadowMatches,
		InvalidCount:   c.invalidCount,
		TruePositives:  c.truePositives,
		FalsePositives: c.falsePositives,
		AvgLatency:     time.Duration(c.avgLatencyNs),
		LastMatch:      c.lastMatch,
		LastEvaluated:  c.lastEvaluated,
	}
}

// SnapshotAll returns snapshots for every tracked rule.
func (r *Registry) SnapshotAll() []RuleStats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]RuleStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Snapshot(id))
	}
	return out
}

// PerformanceStore persists rule performance snapshots.
// Implemented by storage.RulePerformanceStorage.
type PerformanceStore interface {
	UpsertPerformance(ctx context.Context, stats []RuleStats) error
}

// Flusher periodically persists registry snapshots.
type Flusher struct {
	registry *Registry
	store    PerformanceStore
	interval time.Duration
	logger   *zap.SugaredLogger
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewFlusher creates a flusher writing snapshots every interval.
func NewFlusher(registry *Registry, store PerformanceStore, interval time.Duration, logger *zap.SugaredLogger) *Flusher {
	return &Flusher{
		registry: registry,
		store:    store,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.flush()
			case <-f.done:
				f.flush()
				return
			}
		}
	}()
}

// Stop flushes once more and stops the loop.
func (f *Flusher) Stop() {
	close(f.done)
	f.wg.Wait()
}

func (f *Flusher) flush() {
	stats := f.registry.SnapshotAll()
	if len(stats) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.store.UpsertPerformance(ctx, stats); err != nil {
		f.logger.Errorf("Failed to flush rule performance: %v", err)
	}
}
