package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_RecordEvaluation(t *testing.T) {
	r := NewRegistry()

	r.RecordEvaluation("r-1", true, false, 10*time.Millisecond)
	r.RecordEvaluation("r-1", false, false, 20*time.Millisecond)
	r.RecordEvaluation("r-1", true, true, 30*time.Millisecond)

	stats := r.Snapshot("r-1")
	assert.EqualValues(t, 3, stats.Evaluations)
	assert.EqualValues(t, 1, stats.Matches)
	assert.EqualValues(t, 1, stats.ShadowMatches)
	assert.False(t, stats.LastMatch.IsZero())
	assert.False(t, stats.LastEvaluated.IsZero())
}

func TestRegistry_EWMALatency(t *testing.T) {
	r := NewRegistry()

	// First sample seeds the average.
	r.RecordEvaluation("r-1", false, false, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, r.Snapshot("r-1").AvgLatency)

	// avg = 0.2*200ms + 0.8*100ms = 120ms
	r.RecordEvaluation("r-1", false, false, 200*time.Millisecond)
	assert.InDelta(t, float64(120*time.Millisecond), float64(r.Snapshot("r-1").AvgLatency), float64(time.Millisecond))
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordEvaluation("r-shared", true, false, time.Millisecond)
				r.RecordFeedback("r-shared", j%2 == 0)
			}
		}()
	}
	wg.Wait()

	stats := r.Snapshot("r-shared")
	assert.EqualValues(t, 1600, stats.Evaluations)
	assert.EqualValues(t, 1600, stats.Matches)
	assert.EqualValues(t, 800, stats.TruePositives)
	assert.EqualValues(t, 800, stats.FalsePositives)
}

func TestRegistry_SnapshotAll(t *testing.T) {
	r := NewRegistry()
	r.RecordEvaluation("a", false, false, time.Millisecond)
	r.RecordEvaluation("b", true, false, time.Millisecond)

	all := r.SnapshotAll()
	assert.Len(t, all, 2)
}

type capturingStore struct {
	mu    sync.Mutex
	stats [][]RuleStats
}

func (c *capturingStore) UpsertPerformance(_ context.Context, stats []RuleStats) error {
	c.mu.Lock()
	c.stats = append(c.stats, stats)
	c.mu.Unlock()
	return nil
}

func TestFlusher_FlushesOnStop(t *testing.T) {
	r := NewRegistry()
	r.RecordEvaluation("r-1", true, false, time.Millisecond)

	store := &capturingStore{}
	f := NewFlusher(r, store, time.Hour, zap.NewNop().Sugar())
	f.Start()
	f.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.stats, "stop must flush pending snapshots")
	assert.Equal(t, "r-1", store.stats[0][0].RuleID)
}
