package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/hagan/claudia-statusline/internal/retry"
)

// TokenCounters is the cumulative token breakdown tracked per session and
// aggregated onto daily/monthly rows.
type TokenCounters struct {
	InputTokens         uint64
	OutputTokens        uint64
	CacheReadTokens     uint64
	CacheCreationTokens uint64
}

// SessionState is the current persisted row for one session, read back
// before the burn-rate engine (internal/stats) decides how to apply the
// next update.
type SessionState struct {
	SessionID         string
	StartTime         time.Time
	LastUpdated       time.Time
	LastActivity      time.Time
	Cost              float64
	LinesAdded        uint64
	LinesRemoved      uint64
	ActiveTimeSeconds uint64
	ModelName         string
	WorkspaceDir      string
	MaxTokensObserved uint64
	Tokens            TokenCounters
}

// GetSessionState returns the current row for sessionID, or found=false if
// no row exists yet.
func (s *Store) GetSessionState(ctx context.Context, sessionID string) (state SessionState, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, start_time, last_updated,
		COALESCE(last_activity, last_updated), cost, lines_added, lines_removed,
		COALESCE(active_time_seconds, 0), COALESCE(model_name, ''), COALESCE(workspace_dir, ''),
		COALESCE(max_tokens_observed, 0), COALESCE(total_input_tokens, 0), COALESCE(total_output_tokens, 0),
		COALESCE(total_cache_read_tokens, 0), COALESCE(total_cache_creation_tokens, 0)
		FROM sessions WHERE session_id = ?`, sessionID)

	var startTime, lastUpdated, lastActivity string
	err = row.Scan(&state.SessionID, &startTime, &lastUpdated, &lastActivity,
		&state.Cost, &state.LinesAdded, &state.LinesRemoved, &state.ActiveTimeSeconds,
		&state.ModelName, &state.WorkspaceDir, &state.MaxTokensObserved,
		&state.Tokens.InputTokens, &state.Tokens.OutputTokens,
		&state.Tokens.CacheReadTokens, &state.Tokens.CacheCreationTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionState{}, false, nil
	}
	if err != nil {
		return SessionState{}, false, errs.DatabaseErr("read session state", err)
	}
	state.StartTime, _ = time.Parse(time.RFC3339, startTime)
	state.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	state.LastActivity, _ = time.Parse(time.RFC3339, lastActivity)
	return state, true, nil
}

// ArchiveSnapshot is the frozen session row written to session_archive
// immediately before an auto_reset policy clears the live row.
type ArchiveSnapshot struct {
	SessionID         string
	StartTime         time.Time
	EndTime           time.Time
	ArchivedAt        time.Time
	Cost              float64
	LinesAdded        uint64
	LinesRemoved      uint64
	ActiveTimeSeconds uint64
	ModelName         string
	WorkspaceDir      string
	DeviceID          string
}

// UpdateInput is the fully-resolved write internal/stats hands to the
// store once it has decided, per the active burn-rate policy, what the
// session's new cumulative values and aggregate deltas should be.
type UpdateInput struct {
	SessionID    string
	Now          time.Time
	StartTime    time.Time // used only when the row doesn't exist (or was just archived)

	// CumulativeCost/Lines are the new values stored on the session row
	// itself (the host's running totals for the current period).
	CumulativeCost         float64
	CumulativeLinesAdded   uint64
	CumulativeLinesRemoved uint64
	TokenCounters          TokenCounters

	// CostDelta/Lines*Delta are added to daily/monthly/all-time
	// aggregates; already clamped at zero and archive-adjusted by the
	// caller (see spec's auto_reset double-counting rule).
	CostDelta         float64
	LinesAddedDelta   uint64
	LinesRemovedDelta uint64

	ActiveTimeSeconds uint64
	LastActivity      time.Time
	ModelName         string
	WorkspaceDir      string
	DeviceID          string

	// Archive, when non-nil, is written to session_archive and the
	// existing session row deleted before the fresh row below is
	// inserted, all within the same transaction.
	Archive *ArchiveSnapshot

	// FirstToday/FirstThisMonth/FirstEver mark whether this call is this
	// session_id's first contribution to today's/this month's/all-time
	// distinct session_count, decided by internal/stats from the
	// previously-stored row (so an auto_reset archive-and-recreate still
	// counts as the same session for distinctness purposes).
	FirstToday     bool
	FirstThisMonth bool
	FirstEver      bool
}

// UpdateResult reports the post-write aggregate totals, mirroring the
// original database layer's (day_total, session_total) return tuple,
// extended with the month and all-time totals the expanded spec needs.
type UpdateResult struct {
	SessionTotal  float64
	DayTotal      float64
	MonthTotal    float64
	AllTimeTotal  float64
	SessionTokens TokenCounters
}

// ApplyUpdate performs the session/day/month/all-time UPSERT (and the
// optional archive-then-recreate step) as one atomic, retried
// transaction.
func (s *Store) ApplyUpdate(ctx context.Context, cfg retry.Config, in UpdateInput) (UpdateResult, error) {
	var result UpdateResult
	err := s.withRetry(ctx, cfg, "store.ApplyUpdate", func(ctx context.Context, tx *sql.Tx) error {
		today := in.Now.Format("2006-01-02")
		month := in.Now.Format("2006-01")
		now := in.Now.Format(time.RFC3339)

		if in.Archive != nil {
			if err := archiveSessionTx(ctx, tx, *in.Archive); err != nil {
				return err
			}
		}

		startTime := in.StartTime
		if startTime.IsZero() {
			startTime = in.Now
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, start_time, last_updated, cost, lines_added, lines_removed,
				model_name, workspace_dir, device_id, max_tokens_observed, total_input_tokens,
				total_output_tokens, total_cache_read_tokens, total_cache_creation_tokens,
				active_time_seconds, last_activity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				last_updated = excluded.last_updated,
				cost = excluded.cost,
				lines_added = excluded.lines_added,
				lines_removed = excluded.lines_removed,
				model_name = excluded.model_name,
				workspace_dir = excluded.workspace_dir,
				device_id = excluded.device_id,
				total_input_tokens = total_input_tokens + excluded.total_input_tokens,
				total_output_tokens = total_output_tokens + excluded.total_output_tokens,
				total_cache_read_tokens = total_cache_read_tokens + excluded.total_cache_read_tokens,
				total_cache_creation_tokens = total_cache_creation_tokens + excluded.total_cache_creation_tokens,
				active_time_seconds = excluded.active_time_seconds,
				last_activity = excluded.last_activity`,
			in.SessionID, startTime.Format(time.RFC3339), now, in.CumulativeCost,
			in.CumulativeLinesAdded, in.CumulativeLinesRemoved, nullable(in.ModelName), nullable(in.WorkspaceDir),
			nullable(in.DeviceID), in.TokenCounters.InputTokens, in.TokenCounters.OutputTokens,
			in.TokenCounters.CacheReadTokens, in.TokenCounters.CacheCreationTokens,
			in.ActiveTimeSeconds, in.LastActivity.Format(time.RFC3339))
		if err != nil {
			return errs.DatabaseErr("upsert session", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_stats (date, total_cost, total_lines_added, total_lines_removed, session_count,
				total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_creation_tokens, device_id)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				total_cost = total_cost + excluded.total_cost,
				total_lines_added = total_lines_added + excluded.total_lines_added,
				total_lines_removed = total_lines_removed + excluded.total_lines_removed,
				session_count = session_count + ?,
				total_input_tokens = total_input_tokens + excluded.total_input_tokens,
				total_output_tokens = total_output_tokens + excluded.total_output_tokens,
				total_cache_read_tokens = total_cache_read_tokens + excluded.total_cache_read_tokens,
				total_cache_creation_tokens = total_cache_creation_tokens + excluded.total_cache_creation_tokens`,
			today, in.CostDelta, in.LinesAddedDelta, in.LinesRemovedDelta,
			in.TokenCounters.InputTokens, in.TokenCounters.OutputTokens,
			in.TokenCounters.CacheReadTokens, in.TokenCounters.CacheCreationTokens, nullable(in.DeviceID),
			boolToInt(in.FirstToday)); err != nil {
			return errs.DatabaseErr("upsert daily_stats", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO monthly_stats (month, total_cost, total_lines_added, total_lines_removed, session_count,
				total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_creation_tokens, device_id)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
			ON CONFLICT(month) DO UPDATE SET
				total_cost = total_cost + excluded.total_cost,
				total_lines_added = total_lines_added + excluded.total_lines_added,
				total_lines_removed = total_lines_removed + excluded.total_lines_removed,
				session_count = session_count + ?,
				total_input_tokens = total_input_tokens + excluded.total_input_tokens,
				total_output_tokens = total_output_tokens + excluded.total_output_tokens,
				total_cache_read_tokens = total_cache_read_tokens + excluded.total_cache_read_tokens,
				total_cache_creation_tokens = total_cache_creation_tokens + excluded.total_cache_creation_tokens`,
			month, in.CostDelta, in.LinesAddedDelta, in.LinesRemovedDelta,
			in.TokenCounters.InputTokens, in.TokenCounters.OutputTokens,
			in.TokenCounters.CacheReadTokens, in.TokenCounters.CacheCreationTokens, nullable(in.DeviceID),
			boolToInt(in.FirstThisMonth)); err != nil {
			return errs.DatabaseErr("upsert monthly_stats", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE all_time_totals SET total_cost = total_cost + ?, session_count = session_count + ?
			WHERE id = 1`, in.CostDelta, boolToInt(in.FirstEver)); err != nil {
			return errs.DatabaseErr("update all_time_totals", err)
		}

		if err := tx.QueryRowContext(ctx, `SELECT cost FROM sessions WHERE session_id = ?`, in.SessionID).Scan(&result.SessionTotal); err != nil {
			return errs.DatabaseErr("read session total", err)
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_creation_tokens
			FROM sessions WHERE session_id = ?`, in.SessionID).Scan(
			&result.SessionTokens.InputTokens, &result.SessionTokens.OutputTokens,
			&result.SessionTokens.CacheReadTokens, &result.SessionTokens.CacheCreationTokens); err != nil {
			return errs.DatabaseErr("read session tokens", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT total_cost FROM daily_stats WHERE date = ?`, today).Scan(&result.DayTotal); err != nil {
			return errs.DatabaseErr("read day total", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT total_cost FROM monthly_stats WHERE month = ?`, month).Scan(&result.MonthTotal); err != nil {
			return errs.DatabaseErr("read month total", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT total_cost FROM all_time_totals WHERE id = 1`).Scan(&result.AllTimeTotal); err != nil {
			return errs.DatabaseErr("read all-time total", err)
		}
		return nil
	})
	return result, err
}

func archiveSessionTx(ctx context.Context, tx *sql.Tx, snap ArchiveSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_archive (session_id, start_time, end_time, archived_at, cost,
			lines_added, lines_removed, active_time_seconds, last_activity, model_name, workspace_dir, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.StartTime.Format(time.RFC3339), snap.EndTime.Format(time.RFC3339),
		snap.ArchivedAt.Format(time.RFC3339), snap.Cost, snap.LinesAdded, snap.LinesRemoved,
		snap.ActiveTimeSeconds, snap.EndTime.Format(time.RFC3339), nullable(snap.ModelName),
		nullable(snap.WorkspaceDir), nullable(snap.DeviceID))
	if err != nil {
		return errs.DatabaseErr("archive session", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, snap.SessionID); err != nil {
		return errs.DatabaseErr("delete archived session", err)
	}
	return nil
}

// ArchivedTotals is the summed cost/line counters across every archived
// period of one session. internal/stats subtracts these from the host's
// lifetime cumulative values to recover the current period's totals.
type ArchivedTotals struct {
	Cost         float64
	LinesAdded   uint64
	LinesRemoved uint64
}

// GetArchivedTotals sums session_archive over all of sessionID's archived
// periods; all-zero when the session has never been auto-reset.
func (s *Store) GetArchivedTotals(ctx context.Context, sessionID string) (ArchivedTotals, error) {
	var t ArchivedTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0.0), COALESCE(SUM(lines_added), 0), COALESCE(SUM(lines_removed), 0)
		FROM session_archive WHERE session_id = ?`, sessionID).
		Scan(&t.Cost, &t.LinesAdded, &t.LinesRemoved)
	if err != nil {
		return ArchivedTotals{}, errs.DatabaseErr("read archived totals", err)
	}
	return t, nil
}

// GetArchivedCost returns the most recently archived cumulative cost for
// sessionID with its archive time. The stats engine's auto_reset path
// uses the summed GetArchivedTotals instead.
func (s *Store) GetArchivedCost(ctx context.Context, sessionID string, archivedAfter time.Time) (cost float64, archivedAt time.Time, found bool, err error) {
	var archivedAtStr string
	row := s.db.QueryRowContext(ctx, `
		SELECT cost, archived_at FROM session_archive
		WHERE session_id = ? AND archived_at >= ?
		ORDER BY archived_at DESC LIMIT 1`, sessionID, archivedAfter.Format(time.RFC3339))
	if err := row.Scan(&cost, &archivedAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, false, nil
		}
		return 0, time.Time{}, false, errs.DatabaseErr("read archived cost", err)
	}
	archivedAt, _ = time.Parse(time.RFC3339, archivedAtStr)
	return cost, archivedAt, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
