package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
)

// GetSessionDuration returns now - start_time for sessionID, in seconds.
func (s *Store) GetSessionDuration(ctx context.Context, sessionID string, now time.Time) (uint64, bool, error) {
	var startTime string
	err := s.db.QueryRowContext(ctx, `SELECT start_time FROM sessions WHERE session_id = ?`, sessionID).Scan(&startTime)
	if err != nil {
		return 0, false, nil //nolint:nilerr // absence is a normal, non-error outcome for callers
	}
	start, err := time.Parse(time.RFC3339, startTime)
	if err != nil {
		return 0, false, nil
	}
	d := now.Sub(start)
	if d < 0 {
		d = 0
	}
	return uint64(d.Seconds()), true, nil
}

// GetTodayTotal returns the daily_stats row's total_cost for today, 0 if
// no rows exist yet.
func (s *Store) GetTodayTotal(ctx context.Context, today string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(total_cost, 0.0) FROM daily_stats WHERE date = ?`, today).Scan(&total)
	if err != nil {
		return 0, nil //nolint:nilerr // missing row means zero total, not a failure
	}
	return total, nil
}

// GetMonthTotal returns the monthly_stats row's total_cost for month.
func (s *Store) GetMonthTotal(ctx context.Context, month string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(total_cost, 0.0) FROM monthly_stats WHERE month = ?`, month).Scan(&total)
	if err != nil {
		return 0, nil //nolint:nilerr
	}
	return total, nil
}

// GetAllTimeTotal reads the all_time_totals singleton, falling back to a
// SUM(cost) scan if the singleton row is somehow absent (e.g. a database
// created before migration 7).
func (s *Store) GetAllTimeTotal(ctx context.Context) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `SELECT total_cost FROM all_time_totals WHERE id = 1`).Scan(&total)
	if err == nil {
		return total, nil
	}
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost), 0.0) FROM sessions`).Scan(&total)
	if err != nil {
		return 0, errs.DatabaseErr("read all-time total", err)
	}
	return total, nil
}

// AllTimeSummary is the all_time_totals singleton row, surfaced to the
// stats --summary subcommand.
type AllTimeSummary struct {
	TotalCost    float64
	SessionCount uint64
	Since        time.Time
}

// GetAllTimeSummary reads the full all_time_totals singleton, falling
// back to a scan across sessions if the singleton is absent.
func (s *Store) GetAllTimeSummary(ctx context.Context) (AllTimeSummary, error) {
	var summary AllTimeSummary
	var since sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT total_cost, session_count, since FROM all_time_totals WHERE id = 1`).
		Scan(&summary.TotalCost, &summary.SessionCount, &since)
	if err == nil {
		if since.Valid {
			summary.Since, _ = time.Parse(time.RFC3339, since.String)
		}
		return summary, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost), 0.0), COUNT(*), MIN(start_time) FROM sessions`)
	var minStart sql.NullString
	if err := row.Scan(&summary.TotalCost, &summary.SessionCount, &minStart); err != nil {
		return AllTimeSummary{}, errs.DatabaseErr("read all-time summary", err)
	}
	if minStart.Valid {
		summary.Since, _ = time.Parse(time.RFC3339, minStart.String)
	}
	return summary, nil
}

// HasSessions reports whether the sessions table has any rows.
func (s *Store) HasSessions(ctx context.Context) bool {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// SessionRecord is a flattened sessions row for bulk reads.
type SessionRecord struct {
	SessionID    string
	StartTime    string
	LastUpdated  string
	Cost         float64
	LinesAdded   uint64
	LinesRemoved uint64
}

// GetAllSessions returns every row of the sessions table, keyed by id.
func (s *Store) GetAllSessions(ctx context.Context) (map[string]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, start_time, last_updated, cost, lines_added, lines_removed FROM sessions`)
	if err != nil {
		return nil, errs.DatabaseErr("query sessions", err)
	}
	defer rows.Close()

	out := make(map[string]SessionRecord)
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.StartTime, &rec.LastUpdated, &rec.Cost, &rec.LinesAdded, &rec.LinesRemoved); err != nil {
			return nil, errs.DatabaseErr("scan session row", err)
		}
		out[rec.SessionID] = rec
	}
	return out, rows.Err()
}

// DailyRecord is a flattened daily_stats row.
type DailyRecord struct {
	Date         string
	TotalCost    float64
	LinesAdded   uint64
	LinesRemoved uint64
	SessionCount uint64
}

// GetAllDailyStats returns every row of the daily_stats table, keyed by
// date.
func (s *Store) GetAllDailyStats(ctx context.Context) (map[string]DailyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, total_cost, total_lines_added, total_lines_removed, session_count FROM daily_stats`)
	if err != nil {
		return nil, errs.DatabaseErr("query daily_stats", err)
	}
	defer rows.Close()

	out := make(map[string]DailyRecord)
	for rows.Next() {
		var rec DailyRecord
		if err := rows.Scan(&rec.Date, &rec.TotalCost, &rec.LinesAdded, &rec.LinesRemoved, &rec.SessionCount); err != nil {
			return nil, errs.DatabaseErr("scan daily_stats row", err)
		}
		out[rec.Date] = rec
	}
	return out, rows.Err()
}

// MonthlyRecord is a flattened monthly_stats row.
type MonthlyRecord struct {
	Month        string
	TotalCost    float64
	LinesAdded   uint64
	LinesRemoved uint64
	SessionCount uint64
}

// GetAllMonthlyStats returns every row of the monthly_stats table, keyed
// by month.
func (s *Store) GetAllMonthlyStats(ctx context.Context) (map[string]MonthlyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT month, total_cost, total_lines_added, total_lines_removed, session_count FROM monthly_stats`)
	if err != nil {
		return nil, errs.DatabaseErr("query monthly_stats", err)
	}
	defer rows.Close()

	out := make(map[string]MonthlyRecord)
	for rows.Next() {
		var rec MonthlyRecord
		if err := rows.Scan(&rec.Month, &rec.TotalCost, &rec.LinesAdded, &rec.LinesRemoved, &rec.SessionCount); err != nil {
			return nil, errs.DatabaseErr("scan monthly_stats row", err)
		}
		out[rec.Month] = rec
	}
	return out, rows.Err()
}

// ImportSessions seeds sessions, daily_stats, and monthly_stats from the
// JSON stats file on first run (migration v1's "import any existing JSON
// stats" step), using INSERT OR IGNORE since this is a one-time import,
// not an additive update — a row already present in the relational store
// is left untouched rather than overwritten.
func (s *Store) ImportSessions(ctx context.Context, sessions map[string]SessionRecord, daily map[string]DailyRecord, monthly map[string]MonthlyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.DatabaseErr("begin import transaction", err)
	}
	defer tx.Rollback()

	for id, rec := range sessions {
		start := rec.StartTime
		if start == "" {
			start = rec.LastUpdated
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO sessions (session_id, start_time, last_updated, cost, lines_added, lines_removed)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, start, rec.LastUpdated, rec.Cost, rec.LinesAdded, rec.LinesRemoved); err != nil {
			return errs.DatabaseErr("import session "+id, err)
		}
	}
	for date, rec := range daily {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO daily_stats (date, total_cost, total_lines_added, total_lines_removed, session_count)
			VALUES (?, ?, ?, ?, ?)`,
			date, rec.TotalCost, rec.LinesAdded, rec.LinesRemoved, rec.SessionCount); err != nil {
			return errs.DatabaseErr("import daily_stats "+date, err)
		}
	}
	for month, rec := range monthly {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO monthly_stats (month, total_cost, total_lines_added, total_lines_removed, session_count)
			VALUES (?, ?, ?, ?, ?)`,
			month, rec.TotalCost, rec.LinesAdded, rec.LinesRemoved, rec.SessionCount); err != nil {
			return errs.DatabaseErr("import monthly_stats "+month, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.DatabaseErr("commit import transaction", err)
	}
	return nil
}
