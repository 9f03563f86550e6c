// Package stats implements the stats engine and burn-rate policies (C5):
// the single `Apply` operation that turns a host-reported cumulative cost
// and line counts into the deltas applied to the daily/monthly/all-time
// aggregates, choosing a session-lifecycle policy (wall_clock, active_time,
// or auto_reset) from configuration.
//
// Grounded on original_source/src/database.rs's update_session and
// original_source/src/stats.rs's StatsManager: same delta-from-cumulative
// derivation, same archive-then-reset double-counting fix (verified
// against original_source/tests/burn_rate_auto_reset_cumulative_cost_test.rs),
// same dual-write ordering (JSON file first, relational store second, a
// failed relational write merely logged since the session row is
// idempotent under the cumulative-input model).
package stats

import (
	"context"
	"time"

	"github.com/hagan/claudia-statusline/internal/config"
	"github.com/hagan/claudia-statusline/internal/jsonstats"
	"github.com/hagan/claudia-statusline/internal/log"
	"github.com/hagan/claudia-statusline/internal/retry"
	"github.com/hagan/claudia-statusline/internal/store"
)

// Update is one call's worth of input to Apply: always the host's
// cumulative totals for the session, never deltas.
type Update struct {
	SessionID              string
	Now                    time.Time
	CumulativeCost         float64
	CumulativeLinesAdded   uint64
	CumulativeLinesRemoved uint64
	ModelName              string
	WorkspaceDir           string
	DeviceID               string
	Tokens                 store.TokenCounters
	MaxTokensObserved      uint64
}

// Result is what the renderer needs back: the four running totals plus
// the session duration, as dictated by the active burn-rate policy.
type Result struct {
	SessionTotal      float64
	DayTotal          float64
	MonthTotal        float64
	AllTimeTotal      float64
	DurationSeconds   uint64
	ActiveTimeSeconds uint64
	Tokens            store.TokenCounters
}

// Engine ties the relational store to the optional JSON dual-write file
// and the configured burn-rate policy.
type Engine struct {
	Store   *store.Store
	JSON    *jsonstats.File // nil disables the secondary JSON file
	Cfg     *config.Config
	DBRetry retry.Config
}

// New builds an Engine. jsonFile may be nil when cfg.JSONBackup is false.
func New(s *store.Store, jsonFile *jsonstats.File, cfg *config.Config) *Engine {
	return &Engine{Store: s, JSON: jsonFile, Cfg: cfg, DBRetry: cfg.DBOpsRetry()}
}

// Apply implements spec.md §4.2's apply(): read the current session row,
// decide whether the active burn-rate policy resets it, derive the
// aggregate delta, dual-write the JSON file (if enabled), then commit the
// relational transaction.
func (e *Engine) Apply(ctx context.Context, u Update) (Result, error) {
	current, found, err := e.Store.GetSessionState(ctx, u.SessionID)
	if err != nil {
		return Result{}, err
	}

	archived, err := e.Store.GetArchivedTotals(ctx, u.SessionID)
	if err != nil {
		return Result{}, err
	}

	// The host reports lifetime cumulative totals; the session row tracks
	// only the current period (everything since the last auto-reset
	// archive). Convert before the policy sees the values so deltas and
	// archive snapshots both stay in period space — this is what keeps
	// daily totals from re-counting an already-archived period.
	period := u
	period.CumulativeCost = clampDelta(u.CumulativeCost, archived.Cost)
	period.CumulativeLinesAdded = clampDeltaU(u.CumulativeLinesAdded, archived.LinesAdded)
	period.CumulativeLinesRemoved = clampDeltaU(u.CumulativeLinesRemoved, archived.LinesRemoved)

	decision := e.decide(period, current, found)

	if e.JSON != nil {
		fileRetry := e.Cfg.FileOpsRetry()
		if fileRetry.MaxAttempts < 1 {
			fileRetry.MaxAttempts = 1
		}
		_, err := retry.IfRetryable(fileRetry, func() (struct{}, error) {
			return struct{}{}, e.writeJSON(u, decision)
		})
		if err != nil {
			log.ErrorErr(log.CatStats, "json stats dual-write failed", err)
		}
	}

	in := store.UpdateInput{
		SessionID:              u.SessionID,
		Now:                    u.Now,
		StartTime:              decision.startTime,
		CumulativeCost:         decision.storeCost,
		CumulativeLinesAdded:   decision.storeLinesAdded,
		CumulativeLinesRemoved: decision.storeLinesRemoved,
		TokenCounters:          u.Tokens,
		CostDelta:              decision.costDelta,
		LinesAddedDelta:        decision.linesAddedDelta,
		LinesRemovedDelta:      decision.linesRemovedDelta,
		ActiveTimeSeconds:      decision.activeTimeSeconds,
		LastActivity:           u.Now,
		ModelName:              u.ModelName,
		WorkspaceDir:           u.WorkspaceDir,
		DeviceID:               u.DeviceID,
		Archive:                decision.archive,
		FirstToday:             !found || current.LastUpdated.Format("2006-01-02") != u.Now.Format("2006-01-02"),
		FirstThisMonth:         !found || current.LastUpdated.Format("2006-01") != u.Now.Format("2006-01"),
		FirstEver:              !found,
	}

	updateResult, err := e.Store.ApplyUpdate(ctx, e.DBRetry, in)
	if err != nil {
		log.ErrorErr(log.CatStats, "relational stats write failed", err)
		return Result{}, err
	}

	return Result{
		SessionTotal:      updateResult.SessionTotal,
		DayTotal:          updateResult.DayTotal,
		MonthTotal:        updateResult.MonthTotal,
		AllTimeTotal:      updateResult.AllTimeTotal,
		DurationSeconds:   decision.durationSeconds,
		ActiveTimeSeconds: decision.activeTimeSeconds,
		Tokens:            updateResult.SessionTokens,
	}, nil
}

// decision is the resolved outcome of one burn-rate policy evaluation.
// The store* fields are what the session row itself ends up holding (the
// current period's cumulative values); the *Delta fields are what the
// daily/monthly/all-time aggregates receive. They only diverge on a
// reset call, where the just-archived period drops out of the row.
type decision struct {
	startTime         time.Time
	storeCost         float64
	storeLinesAdded   uint64
	storeLinesRemoved uint64
	costDelta         float64
	linesAddedDelta   uint64
	linesRemovedDelta uint64
	activeTimeSeconds uint64
	durationSeconds   uint64
	archive           *store.ArchiveSnapshot
}

func (e *Engine) decide(u Update, current store.SessionState, found bool) decision {
	switch e.Cfg.BurnRate.Mode {
	case "active_time":
		return e.decideActiveTime(u, current, found)
	case "auto_reset":
		return e.decideAutoReset(u, current, found)
	default:
		return e.decideWallClock(u, current, found)
	}
}

// decideWallClock implements the default policy: no resets, session
// duration is now - start_time, aggregates receive the plain clamped
// delta against the previous cumulative.
func (e *Engine) decideWallClock(u Update, current store.SessionState, found bool) decision {
	start := u.Now
	if found {
		start = current.StartTime
	}
	d := decision{
		startTime:         start,
		storeCost:         u.CumulativeCost,
		storeLinesAdded:   u.CumulativeLinesAdded,
		storeLinesRemoved: u.CumulativeLinesRemoved,
		costDelta:         clampDelta(u.CumulativeCost, prevCost(found, current)),
		linesAddedDelta:   clampDeltaU(u.CumulativeLinesAdded, prevLinesAdded(found, current)),
		linesRemovedDelta: clampDeltaU(u.CumulativeLinesRemoved, prevLinesRemoved(found, current)),
	}
	d.durationSeconds = uint64(u.Now.Sub(start).Seconds())
	return d
}

// decideActiveTime implements the gap-gated activity accumulator: time
// only accrues while gaps between calls stay under the configured
// threshold; aggregates still receive the normal cumulative delta.
func (e *Engine) decideActiveTime(u Update, current store.SessionState, found bool) decision {
	start := u.Now
	active := uint64(0)
	if found {
		start = current.StartTime
		active = current.ActiveTimeSeconds
		gap := u.Now.Sub(current.LastActivity)
		threshold := time.Duration(e.Cfg.BurnRate.ThresholdSeconds) * time.Second
		if gap > 0 && gap <= threshold {
			active += uint64(gap.Seconds())
		}
	}
	d := decision{
		startTime:         start,
		storeCost:         u.CumulativeCost,
		storeLinesAdded:   u.CumulativeLinesAdded,
		storeLinesRemoved: u.CumulativeLinesRemoved,
		costDelta:         clampDelta(u.CumulativeCost, prevCost(found, current)),
		linesAddedDelta:   clampDeltaU(u.CumulativeLinesAdded, prevLinesAdded(found, current)),
		linesRemovedDelta: clampDeltaU(u.CumulativeLinesRemoved, prevLinesRemoved(found, current)),
		activeTimeSeconds: active,
	}
	d.durationSeconds = active
	return d
}

// decideAutoReset implements the archive-and-restart policy: a long gap
// since last_activity archives the current row and starts a fresh one.
// The aggregate delta for the reset call is computed against the
// just-archived cumulative cost/lines (spec.md's "critical property"),
// not against zero, so the previous period's already-counted total is
// never counted a second time.
func (e *Engine) decideAutoReset(u Update, current store.SessionState, found bool) decision {
	threshold := time.Duration(e.Cfg.BurnRate.ThresholdSeconds) * time.Second
	if found {
		gap := u.Now.Sub(current.LastActivity)
		if gap > threshold {
			archive := &store.ArchiveSnapshot{
				SessionID:         current.SessionID,
				StartTime:         current.StartTime,
				EndTime:           current.LastActivity,
				ArchivedAt:        u.Now,
				Cost:              current.Cost,
				LinesAdded:        current.LinesAdded,
				LinesRemoved:      current.LinesRemoved,
				ActiveTimeSeconds: current.ActiveTimeSeconds,
				ModelName:         current.ModelName,
				WorkspaceDir:      current.WorkspaceDir,
				DeviceID:          u.DeviceID,
			}
			// The just-archived period leaves the row; the fresh row holds
			// only what accrued past it, which is also the aggregate delta.
			cost := clampDelta(u.CumulativeCost, current.Cost)
			added := clampDeltaU(u.CumulativeLinesAdded, current.LinesAdded)
			removed := clampDeltaU(u.CumulativeLinesRemoved, current.LinesRemoved)
			return decision{
				startTime:         u.Now,
				storeCost:         cost,
				storeLinesAdded:   added,
				storeLinesRemoved: removed,
				costDelta:         cost,
				linesAddedDelta:   added,
				linesRemovedDelta: removed,
				durationSeconds:   0,
				archive:           archive,
			}
		}
	}

	start := u.Now
	if found {
		start = current.StartTime
	}
	d := decision{
		startTime:         start,
		storeCost:         u.CumulativeCost,
		storeLinesAdded:   u.CumulativeLinesAdded,
		storeLinesRemoved: u.CumulativeLinesRemoved,
		costDelta:         clampDelta(u.CumulativeCost, prevCost(found, current)),
		linesAddedDelta:   clampDeltaU(u.CumulativeLinesAdded, prevLinesAdded(found, current)),
		linesRemovedDelta: clampDeltaU(u.CumulativeLinesRemoved, prevLinesRemoved(found, current)),
	}
	d.durationSeconds = uint64(u.Now.Sub(start).Seconds())
	return d
}

func prevCost(found bool, s store.SessionState) float64 {
	if !found {
		return 0
	}
	return s.Cost
}

func prevLinesAdded(found bool, s store.SessionState) uint64 {
	if !found {
		return 0
	}
	return s.LinesAdded
}

func prevLinesRemoved(found bool, s store.SessionState) uint64 {
	if !found {
		return 0
	}
	return s.LinesRemoved
}

func clampDelta(cumulative, prev float64) float64 {
	d := cumulative - prev
	if d < 0 {
		return 0
	}
	return d
}

func clampDeltaU(cumulative, prev uint64) uint64 {
	if cumulative < prev {
		return 0
	}
	return cumulative - prev
}

// writeJSON mirrors the relational delta onto the secondary JSON view.
// The whole read-modify-write runs under the file's exclusive lock so
// concurrent renderer processes serialize on the full cycle (spec.md §5).
// The JSON session row keeps the host's lifetime cumulative values, the
// legacy shape external tooling expects.
func (e *Engine) writeJSON(u Update, d decision) error {
	return e.JSON.Update(u.Now, func(data *jsonstats.Data) {
		today := u.Now.Format("2006-01-02")
		month := u.Now.Format("2006-01")

		sess := data.Sessions[u.SessionID]
		sess.LastUpdated = u.Now.Format(time.RFC3339)
		sess.Cost = u.CumulativeCost
		sess.LinesAdded = u.CumulativeLinesAdded
		sess.LinesRemoved = u.CumulativeLinesRemoved
		if sess.StartTime == "" {
			sess.StartTime = d.startTime.Format(time.RFC3339)
		}
		data.Sessions[u.SessionID] = sess

		daily := data.Daily[today]
		daily.TotalCost += d.costDelta
		daily.LinesAdded += d.linesAddedDelta
		daily.LinesRemoved += d.linesRemovedDelta
		daily.Sessions = appendUnique(daily.Sessions, u.SessionID)
		data.Daily[today] = daily

		monthly := data.Monthly[month]
		monthly.TotalCost += d.costDelta
		monthly.LinesAdded += d.linesAddedDelta
		monthly.LinesRemoved += d.linesRemovedDelta
		data.Monthly[month] = monthly

		data.AllTime.TotalCost += d.costDelta
		data.LastUpdated = u.Now.Format(time.RFC3339)
	})
}

func appendUnique(sessions []string, id string) []string {
	for _, s := range sessions {
		if s == id {
			return sessions
		}
	}
	return append(sessions, id)
}

// BurnRateUSDPerHour implements the derived rate from spec.md §4.2: only
// meaningful once the session has run at least a minute.
func BurnRateUSDPerHour(sessionCost float64, durationSeconds uint64) (rate float64, ok bool) {
	if durationSeconds < 60 {
		return 0, false
	}
	return sessionCost * 3600 / float64(durationSeconds), true
}

// TokenRates implements the derived per-second token rates, cache hit
// ratio, and cache ROI from spec.md §4.2, all gated on a minimum 60s
// duration.
type TokenRates struct {
	InputPerSec         float64
	OutputPerSec        float64
	CacheReadPerSec     float64
	CacheCreationPerSec float64
	CacheHitRatio       float64
	CacheHitRatioOK     bool
	CacheROI            float64
	CacheROIOK          bool
}

// ComputeTokenRates derives the per-second rates in TokenRates, or
// ok=false if durationSeconds is under the 60s floor.
func ComputeTokenRates(counters store.TokenCounters, durationSeconds uint64) (rates TokenRates, ok bool) {
	if durationSeconds < 60 {
		return TokenRates{}, false
	}
	d := float64(durationSeconds)
	rates.InputPerSec = float64(counters.InputTokens) / d
	rates.OutputPerSec = float64(counters.OutputTokens) / d
	rates.CacheReadPerSec = float64(counters.CacheReadTokens) / d
	rates.CacheCreationPerSec = float64(counters.CacheCreationTokens) / d

	if denom := counters.CacheReadTokens + counters.InputTokens; denom > 0 {
		rates.CacheHitRatio = float64(counters.CacheReadTokens) / float64(denom)
		rates.CacheHitRatioOK = true
	}
	if counters.CacheCreationTokens > 0 {
		rates.CacheROI = float64(counters.CacheReadTokens) / float64(counters.CacheCreationTokens)
		rates.CacheROIOK = true
	}
	return rates, true
}
