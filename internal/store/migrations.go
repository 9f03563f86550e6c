package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one ordered, idempotent schema change. Versions must be
// sequential starting at 1; down is defined for completeness but is never
// invoked from production code paths.
type migration struct {
	version     int
	description string
	up          func(ctx context.Context, tx *sql.Tx) error
	down        func(ctx context.Context, tx *sql.Tx) error
}

// baseSchema creates the tables a fresh database needs before any
// migration runs, mirroring the pre-migration-columns bootstrap the
// migration runner itself depends on.
const baseSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	cost REAL DEFAULT 0.0,
	lines_added INTEGER DEFAULT 0,
	lines_removed INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_stats (
	date TEXT PRIMARY KEY,
	total_cost REAL DEFAULT 0.0,
	total_lines_added INTEGER DEFAULT 0,
	total_lines_removed INTEGER DEFAULT 0,
	session_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS monthly_stats (
	month TEXT PRIMARY KEY,
	total_cost REAL DEFAULT 0.0,
	total_lines_added INTEGER DEFAULT 0,
	total_lines_removed INTEGER DEFAULT 0,
	session_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_last_updated ON sessions(last_updated);
CREATE INDEX IF NOT EXISTS idx_sessions_cost ON sessions(cost DESC);
CREATE INDEX IF NOT EXISTS idx_daily_date_cost ON daily_stats(date DESC, total_cost DESC);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL,
	checksum TEXT NOT NULL,
	description TEXT,
	execution_time_ms INTEGER
);
`

func allMigrations() []migration {
	return []migration{
		{
			version:     1,
			description: "baseline schema already present",
			up:          func(ctx context.Context, tx *sql.Tx) error { return nil },
			down:        func(ctx context.Context, tx *sql.Tx) error { return nil },
		},
		{
			version:     2,
			description: "add meta table for database maintenance metadata",
			up: func(ctx context.Context, tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO meta (key, value) VALUES ('created_at', ?)`,
					time.Now().Format(time.RFC3339))
				return err
			},
			down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS meta`)
				return err
			},
		},
		{
			version:     3,
			description: "add device_id for analytics and multi-device sync bookkeeping",
			up: func(ctx context.Context, tx *sql.Tx) error {
				for _, stmt := range []string{
					`ALTER TABLE sessions ADD COLUMN device_id TEXT`,
					`ALTER TABLE sessions ADD COLUMN sync_timestamp INTEGER`,
					`ALTER TABLE daily_stats ADD COLUMN device_id TEXT`,
					`ALTER TABLE monthly_stats ADD COLUMN device_id TEXT`,
				} {
					if _, err := tx.ExecContext(ctx, stmt); err != nil {
						return err
					}
				}
				_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sync_meta (
					device_id TEXT PRIMARY KEY,
					last_sync_push INTEGER,
					last_sync_pull INTEGER,
					hostname_hash TEXT
				)`)
				return err
			},
			down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS sync_meta`)
				return err
			},
		},
		{
			version:     4,
			description: "add adaptive context learning with session metadata and audit trail",
			up: func(ctx context.Context, tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS learned_context_windows (
						model_name TEXT PRIMARY KEY,
						observed_max_tokens INTEGER NOT NULL,
						ceiling_observations INTEGER DEFAULT 0,
						compaction_count INTEGER DEFAULT 0,
						last_observed_max INTEGER NOT NULL,
						last_updated TEXT NOT NULL,
						confidence_score REAL DEFAULT 0.0,
						first_seen TEXT NOT NULL,
						workspace_dir TEXT,
						device_id TEXT
					)`,
					`CREATE INDEX IF NOT EXISTS idx_learned_confidence ON learned_context_windows(confidence_score DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_learned_workspace_model ON learned_context_windows(workspace_dir, model_name)`,
					`CREATE INDEX IF NOT EXISTS idx_learned_device ON learned_context_windows(device_id)`,
					`ALTER TABLE sessions ADD COLUMN max_tokens_observed INTEGER DEFAULT 0`,
					`ALTER TABLE sessions ADD COLUMN model_name TEXT`,
					`ALTER TABLE sessions ADD COLUMN workspace_dir TEXT`,
					`ALTER TABLE sessions ADD COLUMN total_input_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE sessions ADD COLUMN total_output_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE sessions ADD COLUMN total_cache_read_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE sessions ADD COLUMN total_cache_creation_tokens INTEGER DEFAULT 0`,
					`CREATE INDEX IF NOT EXISTS idx_sessions_model_name ON sessions(model_name)`,
					`CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_dir)`,
				}
				for _, s := range stmts {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
			down: func(ctx context.Context, tx *sql.Tx) error {
				for _, s := range []string{
					`DROP TABLE IF EXISTS learned_context_windows`,
					`DROP INDEX IF EXISTS idx_learned_confidence`,
					`DROP INDEX IF EXISTS idx_learned_workspace_model`,
					`DROP INDEX IF EXISTS idx_learned_device`,
					`DROP INDEX IF EXISTS idx_sessions_model_name`,
					`DROP INDEX IF EXISTS idx_sessions_workspace`,
				} {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			version:     5,
			description: "add burn rate tracking columns and session_archive table for all three modes",
			up: func(ctx context.Context, tx *sql.Tx) error {
				stmts := []string{
					`ALTER TABLE sessions ADD COLUMN active_time_seconds INTEGER DEFAULT 0`,
					`ALTER TABLE sessions ADD COLUMN last_activity TEXT`,
					`UPDATE sessions SET last_activity = last_updated WHERE last_activity IS NULL`,
					`CREATE TABLE IF NOT EXISTS session_archive (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						session_id TEXT NOT NULL,
						start_time TEXT NOT NULL,
						end_time TEXT NOT NULL,
						archived_at TEXT NOT NULL,
						cost REAL NOT NULL,
						lines_added INTEGER NOT NULL,
						lines_removed INTEGER NOT NULL,
						active_time_seconds INTEGER,
						last_activity TEXT,
						model_name TEXT,
						workspace_dir TEXT,
						device_id TEXT
					)`,
					`CREATE INDEX IF NOT EXISTS idx_archive_session ON session_archive(session_id)`,
					`CREATE INDEX IF NOT EXISTS idx_archive_date ON session_archive(DATE(archived_at))`,
				}
				for _, s := range stmts {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
			down: func(ctx context.Context, tx *sql.Tx) error {
				for _, s := range []string{
					`DROP TABLE IF EXISTS session_archive`,
					`DROP INDEX IF EXISTS idx_archive_session`,
					`DROP INDEX IF EXISTS idx_archive_date`,
				} {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			version:     6,
			description: "add token tracking columns to daily_stats and monthly_stats for aggregate metrics",
			up: func(ctx context.Context, tx *sql.Tx) error {
				stmts := []string{
					`ALTER TABLE daily_stats ADD COLUMN total_input_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE daily_stats ADD COLUMN total_output_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE daily_stats ADD COLUMN total_cache_read_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE daily_stats ADD COLUMN total_cache_creation_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE monthly_stats ADD COLUMN total_input_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE monthly_stats ADD COLUMN total_output_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE monthly_stats ADD COLUMN total_cache_read_tokens INTEGER DEFAULT 0`,
					`ALTER TABLE monthly_stats ADD COLUMN total_cache_creation_tokens INTEGER DEFAULT 0`,
					`CREATE INDEX IF NOT EXISTS idx_daily_tokens ON daily_stats(date DESC, total_input_tokens, total_output_tokens)`,
					`CREATE INDEX IF NOT EXISTS idx_monthly_tokens ON monthly_stats(month DESC, total_input_tokens, total_output_tokens)`,
				}
				for _, s := range stmts {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
			down: func(ctx context.Context, tx *sql.Tx) error {
				for _, s := range []string{
					`DROP INDEX IF EXISTS idx_daily_tokens`,
					`DROP INDEX IF EXISTS idx_monthly_tokens`,
				} {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			// Supplements the distilled spec with the original's AllTimeStats
			// entity: an incrementally maintained singleton instead of a
			// SUM(cost) scan, grounded on original_source/src/stats.rs's
			// AllTimeStats struct.
			version:     7,
			description: "add all_time_totals singleton for O(1) lifetime aggregate reads",
			up: func(ctx context.Context, tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS all_time_totals (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					total_cost REAL NOT NULL DEFAULT 0.0,
					session_count INTEGER NOT NULL DEFAULT 0,
					since TEXT
				)`); err != nil {
					return err
				}
				now := time.Now().Format(time.RFC3339)
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO all_time_totals (id, total_cost, session_count, since) VALUES (1, 0.0, 0, ?)`,
					now); err != nil {
					return err
				}
				// Backfill from any sessions already present so the
				// singleton starts consistent with existing data.
				_, err := tx.ExecContext(ctx, `UPDATE all_time_totals SET
					total_cost = (SELECT COALESCE(SUM(cost), 0.0) FROM sessions),
					session_count = (SELECT COUNT(*) FROM sessions)
					WHERE id = 1`)
				return err
			},
			down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS all_time_totals`)
				return err
			},
		},
	}
}

// currentVersion returns the highest applied migration version, or 0 for a
// freshly bootstrapped database.
func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// runMigrations applies every migration with version > the database's
// current version, each in its own transaction, recording it in
// schema_migrations on success.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("bootstrap base schema: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range allMigrations() {
		if m.version <= current {
			continue
		}
		start := time.Now()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.up(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.description, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at, checksum, description, execution_time_ms)
			 VALUES (?, ?, ?, ?, ?)`,
			m.version, time.Now().Format(time.RFC3339), "", m.description, time.Since(start).Milliseconds())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
