package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyUpdate_CreatesSessionAndAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	result, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "session-1", Now: now, StartTime: now, LastActivity: now,
		CumulativeCost: 10.0, CumulativeLinesAdded: 100, CumulativeLinesRemoved: 50,
		CostDelta: 10.0, LinesAddedDelta: 100, LinesRemovedDelta: 50,
	})
	require.NoError(t, err)
	require.Equal(t, 10.0, result.SessionTotal)
	require.Equal(t, 10.0, result.DayTotal)
	require.Equal(t, 10.0, result.MonthTotal)
	require.Equal(t, 10.0, result.AllTimeTotal)
}

func TestApplyUpdate_AdditiveOnSecondCall(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "session-1", Now: now, StartTime: now, LastActivity: now,
		CumulativeCost: 10.0, CostDelta: 10.0,
	})
	require.NoError(t, err)

	result, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "session-1", Now: now.Add(time.Minute), StartTime: now, LastActivity: now.Add(time.Minute),
		CumulativeCost: 15.0, CostDelta: 5.0,
	})
	require.NoError(t, err)
	require.Equal(t, 15.0, result.SessionTotal)
	require.Equal(t, 15.0, result.DayTotal)
}

func TestApplyUpdate_TwoSessionsSameDayAggregate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "a", Now: now, StartTime: now, LastActivity: now, CumulativeCost: 10.0, CostDelta: 10.0,
	})
	require.NoError(t, err)
	result, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "b", Now: now, StartTime: now, LastActivity: now, CumulativeCost: 5.0, CostDelta: 5.0,
	})
	require.NoError(t, err)
	require.Equal(t, 5.0, result.SessionTotal)
	require.Equal(t, 15.0, result.DayTotal)
}

func TestGetSessionState_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetSessionState(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetSessionState_ReflectsLastWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "s1", Now: now, StartTime: now, LastActivity: now,
		CumulativeCost: 7.5, CumulativeLinesAdded: 20, CostDelta: 7.5, LinesAddedDelta: 20,
		ActiveTimeSeconds: 42, ModelName: "Claude Sonnet 4.5", WorkspaceDir: "/tmp/work",
	})
	require.NoError(t, err)

	state, found, err := s.GetSessionState(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 7.5, state.Cost)
	require.Equal(t, uint64(20), state.LinesAdded)
	require.Equal(t, uint64(42), state.ActiveTimeSeconds)
	require.Equal(t, "Claude Sonnet 4.5", state.ModelName)
	require.Equal(t, "/tmp/work", state.WorkspaceDir)
}

func TestApplyUpdate_ArchiveThenRecreate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	lastActivity := start.Add(10 * time.Minute)

	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "s1", Now: lastActivity, StartTime: start, LastActivity: lastActivity,
		CumulativeCost: 8.0, CostDelta: 8.0,
	})
	require.NoError(t, err)

	resetAt := lastActivity.Add(20 * time.Minute)
	result, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "s1", Now: resetAt, StartTime: resetAt, LastActivity: resetAt,
		CumulativeCost: 12.0, CostDelta: 4.0, // 12.0 new cumulative minus 8.0 archived
		Archive: &ArchiveSnapshot{
			SessionID: "s1", StartTime: start, EndTime: lastActivity, ArchivedAt: resetAt, Cost: 8.0,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 12.0, result.SessionTotal)
	require.Equal(t, 12.0, result.DayTotal) // 8.0 (pre-reset) + 4.0 (post-reset delta)

	cost, _, found, err := s.GetArchivedCost(ctx, "s1", start)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 8.0, cost)

	state, found, err := s.GetSessionState(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 12.0, state.Cost)
	require.True(t, state.StartTime.Equal(resetAt) || state.StartTime.Sub(resetAt).Abs() < time.Second)
}

func TestGetSessionDuration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-5 * time.Minute)
	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "s1", Now: start, StartTime: start, LastActivity: start, CumulativeCost: 1.0, CostDelta: 1.0,
	})
	require.NoError(t, err)

	duration, found, err := s.GetSessionDuration(ctx, "s1", start.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 300, duration, 2)
}

func TestGetTodayAndMonthTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "s1", Now: now, StartTime: now, LastActivity: now, CumulativeCost: 3.0, CostDelta: 3.0,
	})
	require.NoError(t, err)

	today, err := s.GetTodayTotal(ctx, now.Format("2006-01-02"))
	require.NoError(t, err)
	require.Equal(t, 3.0, today)

	month, err := s.GetMonthTotal(ctx, now.Format("2006-01"))
	require.NoError(t, err)
	require.Equal(t, 3.0, month)
}

func TestGetAllTimeTotal_MatchesSumOfDeltas(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for i, cost := range []float64{2.0, 3.0, 4.0} {
		_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
			SessionID: string(rune('a' + i)), Now: now, StartTime: now, LastActivity: now,
			CumulativeCost: cost, CostDelta: cost,
		})
		require.NoError(t, err)
	}
	total, err := s.GetAllTimeTotal(ctx)
	require.NoError(t, err)
	require.Equal(t, 9.0, total)
}

func TestImportSessions_DoesNotOverwriteExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "existing", Now: now, StartTime: now, LastActivity: now, CumulativeCost: 9.0, CostDelta: 9.0,
	})
	require.NoError(t, err)

	err = s.ImportSessions(ctx, map[string]SessionRecord{
		"existing": {SessionID: "existing", Cost: 99.0, LastUpdated: now.Format(time.RFC3339)},
		"imported": {SessionID: "imported", Cost: 1.0, LastUpdated: now.Format(time.RFC3339)},
	}, nil, nil)
	require.NoError(t, err)

	all, err := s.GetAllSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 9.0, all["existing"].Cost) // import is INSERT OR IGNORE
	require.Equal(t, 1.0, all["imported"].Cost)
}

func TestApplyUpdate_TokenCountersAccumulate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "session-tok", Now: now, StartTime: now, LastActivity: now,
		CumulativeCost: 1.0, CostDelta: 1.0,
		TokenCounters: TokenCounters{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 5, CacheCreationTokens: 1},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(100), first.SessionTokens.InputTokens)
	require.Equal(t, uint64(20), first.SessionTokens.OutputTokens)
	require.Equal(t, uint64(5), first.SessionTokens.CacheReadTokens)
	require.Equal(t, uint64(1), first.SessionTokens.CacheCreationTokens)

	second, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "session-tok", Now: now.Add(time.Minute), StartTime: now, LastActivity: now.Add(time.Minute),
		CumulativeCost: 2.0, CostDelta: 1.0,
		TokenCounters: TokenCounters{InputTokens: 50, OutputTokens: 10, CacheReadTokens: 2, CacheCreationTokens: 0},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(150), second.SessionTokens.InputTokens)
	require.Equal(t, uint64(30), second.SessionTokens.OutputTokens)
	require.Equal(t, uint64(7), second.SessionTokens.CacheReadTokens)
	require.Equal(t, uint64(1), second.SessionTokens.CacheCreationTokens)
}

func TestGetAllTimeSummary_AggregatesAcrossSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	earlier := now.Add(-24 * time.Hour)

	_, err := s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "summary-a", Now: earlier, StartTime: earlier, LastActivity: earlier,
		CumulativeCost: 3.0, CostDelta: 3.0,
		FirstToday: true, FirstThisMonth: true, FirstEver: true,
	})
	require.NoError(t, err)
	_, err = s.ApplyUpdate(ctx, noRetry(), UpdateInput{
		SessionID: "summary-b", Now: now, StartTime: now, LastActivity: now,
		CumulativeCost: 4.0, CostDelta: 4.0,
		FirstToday: true, FirstThisMonth: true, FirstEver: true,
	})
	require.NoError(t, err)

	summary, err := s.GetAllTimeSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, 7.0, summary.TotalCost)
	require.Equal(t, uint64(2), summary.SessionCount)
	// since is stamped once when the singleton row is created by migration 7,
	// not backdated to the earliest session's start_time.
	require.False(t, summary.Since.IsZero())
	require.WithinDuration(t, now, summary.Since, 5*time.Second)
}

func TestGetAllTimeSummary_EmptyStoreNoError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	summary, err := s.GetAllTimeSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.0, summary.TotalCost)
	require.Equal(t, uint64(0), summary.SessionCount)
}
