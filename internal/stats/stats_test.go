package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hagan/claudia-statusline/internal/config"
	"github.com/hagan/claudia-statusline/internal/retry"
	"github.com/hagan/claudia-statusline/internal/store"
)

func newTestEngine(t *testing.T, mode string, thresholdSeconds int) *Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cfg := &config.Config{BurnRate: config.BurnRateConfig{Mode: mode, ThresholdSeconds: thresholdSeconds}}
	return &Engine{Store: s, Cfg: cfg, DBRetry: retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1.0}}
}

func TestClampDeltaNeverNegative(t *testing.T) {
	require.Equal(t, 0.0, clampDelta(1.0, 5.0))
	require.Equal(t, 4.0, clampDelta(5.0, 1.0))
	require.Equal(t, uint64(0), clampDeltaU(1, 5))
	require.Equal(t, uint64(4), clampDeltaU(5, 1))
}

func TestClampDeltaPropertyNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cumulative := rapid.Float64Range(0, 1_000_000).Draw(t, "cumulative")
		prev := rapid.Float64Range(0, 1_000_000).Draw(t, "prev")
		require.GreaterOrEqual(t, clampDelta(cumulative, prev), 0.0)

		cu := rapid.Uint64Range(0, 1_000_000).Draw(t, "cu")
		pu := rapid.Uint64Range(0, 1_000_000).Draw(t, "pu")
		require.GreaterOrEqual(t, clampDeltaU(cu, pu), uint64(0))
	})
}

func TestBurnRateUSDPerHourBelowFloor(t *testing.T) {
	_, ok := BurnRateUSDPerHour(10, 59)
	require.False(t, ok)
}

func TestBurnRateUSDPerHour(t *testing.T) {
	rate, ok := BurnRateUSDPerHour(1.0, 3600)
	require.True(t, ok)
	require.InDelta(t, 1.0, rate, 0.0001)
}

func TestComputeTokenRatesBelowFloor(t *testing.T) {
	_, ok := ComputeTokenRates(store.TokenCounters{InputTokens: 100}, 30)
	require.False(t, ok)
}

func TestComputeTokenRatesCacheHitRatio(t *testing.T) {
	rates, ok := ComputeTokenRates(store.TokenCounters{InputTokens: 100, CacheReadTokens: 300}, 60)
	require.True(t, ok)
	require.True(t, rates.CacheHitRatioOK)
	require.InDelta(t, 0.75, rates.CacheHitRatio, 0.0001)
}

func newEngine(mode string, thresholdSeconds int) *Engine {
	cfg := &config.Config{BurnRate: config.BurnRateConfig{Mode: mode, ThresholdSeconds: thresholdSeconds}}
	return &Engine{Cfg: cfg}
}

func TestDecideWallClockFreshSession(t *testing.T) {
	e := newEngine("wall_clock", 300)
	now := time.Now()
	d := e.decide(Update{Now: now, CumulativeCost: 1.5}, store.SessionState{}, false)
	require.Equal(t, 1.5, d.costDelta)
	require.Equal(t, now, d.startTime)
}

func TestDecideWallClockAccumulates(t *testing.T) {
	e := newEngine("wall_clock", 300)
	start := time.Now().Add(-10 * time.Minute)
	now := start.Add(10 * time.Minute)
	current := store.SessionState{StartTime: start, Cost: 2.0, LinesAdded: 10}
	d := e.decide(Update{Now: now, CumulativeCost: 3.0, CumulativeLinesAdded: 15}, current, true)
	require.Equal(t, 1.0, d.costDelta)
	require.Equal(t, uint64(5), d.linesAddedDelta)
	require.Equal(t, start, d.startTime)
	require.Equal(t, uint64(600), d.durationSeconds)
}

func TestDecideActiveTimeGapGated(t *testing.T) {
	e := newEngine("active_time", 120)
	start := time.Now().Add(-10 * time.Minute)
	lastActivity := start.Add(5 * time.Minute)
	current := store.SessionState{StartTime: start, LastActivity: lastActivity, ActiveTimeSeconds: 300}

	// Gap under threshold: accrues.
	nowSmallGap := lastActivity.Add(60 * time.Second)
	d := e.decide(Update{Now: nowSmallGap}, current, true)
	require.Equal(t, uint64(360), d.activeTimeSeconds)

	// Gap over threshold: does not accrue further.
	nowBigGap := lastActivity.Add(10 * time.Minute)
	d2 := e.decide(Update{Now: nowBigGap}, current, true)
	require.Equal(t, uint64(300), d2.activeTimeSeconds)
}

func TestDecideAutoResetArchivesOnLongGap(t *testing.T) {
	e := newEngine("auto_reset", 60)
	start := time.Now().Add(-1 * time.Hour)
	lastActivity := start.Add(5 * time.Minute)
	current := store.SessionState{
		SessionID: "s1", StartTime: start, LastActivity: lastActivity,
		Cost: 5.0, LinesAdded: 100,
	}
	now := lastActivity.Add(2 * time.Hour)
	d := e.decide(Update{SessionID: "s1", Now: now, CumulativeCost: 6.0, CumulativeLinesAdded: 103}, current, true)

	require.NotNil(t, d.archive)
	require.Equal(t, 5.0, d.archive.Cost)
	// The new period's delta is taken against the just-archived cumulative
	// (6.0-5.0, 103-100), not against zero.
	require.Equal(t, 1.0, d.costDelta)
	require.Equal(t, uint64(3), d.linesAddedDelta)
	require.Equal(t, now, d.startTime)
}

func TestDecideAutoResetNoResetWithinThreshold(t *testing.T) {
	e := newEngine("auto_reset", 3600)
	start := time.Now().Add(-30 * time.Minute)
	lastActivity := start.Add(10 * time.Minute)
	current := store.SessionState{StartTime: start, LastActivity: lastActivity, Cost: 2.0}
	now := lastActivity.Add(5 * time.Minute)
	d := e.decide(Update{Now: now, CumulativeCost: 3.0}, current, true)
	require.Nil(t, d.archive)
	require.Equal(t, 1.0, d.costDelta)
}

// TestApply_P3AutoResetNoDoubleCounting walks the exact P3 scenario from
// spec.md §8 end-to-end through a real Engine+Store: two inactivity gaps
// each trigger an archive+reset, and the daily total must track only the
// latest period's cumulative cost, never the sum of archived periods.
func TestApply_P3AutoResetNoDoubleCounting(t *testing.T) {
	e := newTestEngine(t, "auto_reset", 60)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	r1, err := e.Apply(ctx, Update{SessionID: "S", Now: base, CumulativeCost: 100.00})
	require.NoError(t, err)
	require.Equal(t, 100.00, r1.DayTotal)

	t2 := base.Add(2 * time.Hour)
	r2, err := e.Apply(ctx, Update{SessionID: "S", Now: t2, CumulativeCost: 120.00})
	require.NoError(t, err)
	require.Equal(t, 120.00, r2.DayTotal)

	t3 := t2.Add(2 * time.Hour)
	r3, err := e.Apply(ctx, Update{SessionID: "S", Now: t3, CumulativeCost: 150.00})
	require.NoError(t, err)
	require.Equal(t, 150.00, r3.DayTotal)
	require.Equal(t, 30.00, r3.SessionTotal)

	// The two archived periods (100 at the first reset, 20 at the second)
	// sum to the cumulative total counted before the live session's 30.
	archived, err := e.Store.GetArchivedTotals(ctx, "S")
	require.NoError(t, err)
	require.Equal(t, 120.00, archived.Cost)
}

// TestApply_P2IdempotentReapply verifies re-sending the same cumulative
// values twice in a row leaves aggregates unchanged on the second call.
func TestApply_P2IdempotentReapply(t *testing.T) {
	e := newTestEngine(t, "wall_clock", 300)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	u := Update{SessionID: "S", Now: now, CumulativeCost: 42.0, CumulativeLinesAdded: 7}
	r1, err := e.Apply(ctx, u)
	require.NoError(t, err)

	r2, err := e.Apply(ctx, u)
	require.NoError(t, err)
	require.Equal(t, r1.DayTotal, r2.DayTotal)
	require.Equal(t, r1.SessionTotal, r2.SessionTotal)
}
