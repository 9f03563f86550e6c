package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
)

// LearnedWindow is one row of learned_context_windows: the adaptive
// learner's (internal/learner) per-model audit trail and confidence
// score.
type LearnedWindow struct {
	ModelName           string
	ObservedMaxTokens   uint64
	CeilingObservations int
	CompactionCount     int
	LastObservedMax     uint64
	LastUpdated         time.Time
	ConfidenceScore     float64
	FirstSeen           time.Time
	WorkspaceDir        string
	DeviceID            string
}

// GetLearnedWindow returns the learned row for canonicalModelName, or
// found=false if the model has never been observed.
func (s *Store) GetLearnedWindow(ctx context.Context, canonicalModelName string) (LearnedWindow, bool, error) {
	return s.scanLearnedWindow(ctx, s.db.QueryRowContext(ctx, `
		SELECT model_name, observed_max_tokens, ceiling_observations, compaction_count,
			last_observed_max, last_updated, confidence_score, first_seen,
			COALESCE(workspace_dir, ''), COALESCE(device_id, '')
		FROM learned_context_windows WHERE model_name = ?`, canonicalModelName))
}

func (s *Store) scanLearnedWindow(ctx context.Context, row *sql.Row) (LearnedWindow, bool, error) {
	var w LearnedWindow
	var lastUpdated, firstSeen string
	err := row.Scan(&w.ModelName, &w.ObservedMaxTokens, &w.CeilingObservations, &w.CompactionCount,
		&w.LastObservedMax, &lastUpdated, &w.ConfidenceScore, &firstSeen, &w.WorkspaceDir, &w.DeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return LearnedWindow{}, false, nil
	}
	if err != nil {
		return LearnedWindow{}, false, errs.DatabaseErr("read learned context window", err)
	}
	w.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	w.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	return w, true, nil
}

// UpsertLearnedWindow inserts or replaces the full row for w.ModelName.
func (s *Store) UpsertLearnedWindow(ctx context.Context, w LearnedWindow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learned_context_windows (model_name, observed_max_tokens, ceiling_observations,
			compaction_count, last_observed_max, last_updated, confidence_score, first_seen,
			workspace_dir, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_name) DO UPDATE SET
			observed_max_tokens = excluded.observed_max_tokens,
			ceiling_observations = excluded.ceiling_observations,
			compaction_count = excluded.compaction_count,
			last_observed_max = excluded.last_observed_max,
			last_updated = excluded.last_updated,
			confidence_score = excluded.confidence_score,
			workspace_dir = excluded.workspace_dir,
			device_id = excluded.device_id`,
		w.ModelName, w.ObservedMaxTokens, w.CeilingObservations, w.CompactionCount,
		w.LastObservedMax, w.LastUpdated.Format(time.RFC3339), w.ConfidenceScore,
		w.FirstSeen.Format(time.RFC3339), nullable(w.WorkspaceDir), nullable(w.DeviceID))
	if err != nil {
		return errs.DatabaseErr("upsert learned context window", err)
	}
	return nil
}

// GetAllLearnedWindows returns every learned_context_windows row, most
// confident first.
func (s *Store) GetAllLearnedWindows(ctx context.Context) ([]LearnedWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, observed_max_tokens, ceiling_observations, compaction_count,
			last_observed_max, last_updated, confidence_score, first_seen,
			COALESCE(workspace_dir, ''), COALESCE(device_id, '')
		FROM learned_context_windows ORDER BY confidence_score DESC`)
	if err != nil {
		return nil, errs.DatabaseErr("query learned context windows", err)
	}
	defer rows.Close()

	var out []LearnedWindow
	for rows.Next() {
		var w LearnedWindow
		var lastUpdated, firstSeen string
		if err := rows.Scan(&w.ModelName, &w.ObservedMaxTokens, &w.CeilingObservations, &w.CompactionCount,
			&w.LastObservedMax, &lastUpdated, &w.ConfidenceScore, &firstSeen, &w.WorkspaceDir, &w.DeviceID); err != nil {
			return nil, errs.DatabaseErr("scan learned context window row", err)
		}
		w.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
		w.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteLearnedWindow removes the learned row for one model (`context-learning --reset`).
func (s *Store) DeleteLearnedWindow(ctx context.Context, canonicalModelName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM learned_context_windows WHERE model_name = ?`, canonicalModelName)
	if err != nil {
		return errs.DatabaseErr("delete learned context window", err)
	}
	return nil
}

// DeleteAllLearnedWindows clears the table (`context-learning --reset-all`).
func (s *Store) DeleteAllLearnedWindows(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM learned_context_windows`)
	if err != nil {
		return errs.DatabaseErr("delete all learned context windows", err)
	}
	return nil
}

// SessionTokenObservation is one historical (timestamp, tokens, …) data
// point replayed by `context-learning --rebuild`.
type SessionTokenObservation struct {
	SessionID         string
	LastUpdated       time.Time
	ModelName         string
	MaxTokensObserved uint64
	WorkspaceDir      string
	DeviceID          string
}

// GetAllSessionTokenObservations returns every session with a recorded
// max_tokens_observed, for internal/learner's rebuild-from-history path.
func (s *Store) GetAllSessionTokenObservations(ctx context.Context) ([]SessionTokenObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, last_updated, COALESCE(model_name, ''), COALESCE(max_tokens_observed, 0),
			COALESCE(workspace_dir, ''), COALESCE(device_id, '')
		FROM sessions WHERE max_tokens_observed > 0`)
	if err != nil {
		return nil, errs.DatabaseErr("query session token observations", err)
	}
	defer rows.Close()

	var out []SessionTokenObservation
	for rows.Next() {
		var o SessionTokenObservation
		var lastUpdated string
		if err := rows.Scan(&o.SessionID, &lastUpdated, &o.ModelName, &o.MaxTokensObserved, &o.WorkspaceDir, &o.DeviceID); err != nil {
			return nil, errs.DatabaseErr("scan session token observation", err)
		}
		o.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateSessionMaxTokensObserved records the running per-session token
// ceiling, read back by cmd/root.go as the learner's previous-token
// baseline and by rebuild.
func (s *Store) UpdateSessionMaxTokensObserved(ctx context.Context, sessionID string, maxTokens uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET max_tokens_observed = ?
		WHERE session_id = ? AND COALESCE(max_tokens_observed, 0) < ?`,
		maxTokens, sessionID, maxTokens)
	if err != nil {
		return errs.DatabaseErr("update max_tokens_observed", err)
	}
	return nil
}
