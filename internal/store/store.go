// Package store is the embedded relational store (C3): the authoritative,
// concurrently-safe home for session, daily, monthly, all-time, and
// adaptive-learning data. It is backed by SQLite in WAL mode through the
// pure-Go ncruces/go-sqlite3 driver (no cgo), accessed through the
// standard database/sql connection pool rather than a hand-rolled one.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/hagan/claudia-statusline/internal/retry"
)

var tracer = otel.Tracer("claudia-statusline/store")

// Store wraps a pooled connection to the relational store.
type Store struct {
	db   *sql.DB
	path string
	busyTimeoutMs int
}

// Options configures Store.Open. Zero values fall back to sane defaults
// matching config.defaults().
type Options struct {
	BusyTimeoutMs  int
	MaxConnections int
	DBRetry        retry.Config
}

// Open creates the parent directory if needed, opens the pooled
// connection with WAL journaling, and runs any pending schema migrations.
func Open(path string, opts Options) (*Store, error) {
	if opts.BusyTimeoutMs == 0 {
		opts.BusyTimeoutMs = 10_000
	}
	if opts.MaxConnections == 0 {
		opts.MaxConnections = 5
	}
	if opts.DBRetry.MaxAttempts == 0 {
		opts.DBRetry = retry.ForDBOps()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.OtherErr("cannot create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.DatabaseErr("cannot open database", err)
	}
	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetMaxIdleConns(opts.MaxConnections)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeoutMs),
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, errs.DatabaseErr("cannot apply pragma: "+p, err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, errs.DatabaseErr("cannot run migrations", err)
	}

	return &Store{db: db, path: path, busyTimeoutMs: opts.BusyTimeoutMs}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withRetry(ctx context.Context, cfg retry.Config, spanName string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	_, err := retry.IfRetryable(cfg, func() (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, errs.DatabaseErr("begin transaction", err)
		}
		if err := fn(ctx, tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, errs.DatabaseErr("commit transaction", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// IsHealthy reports whether a trivial query succeeds against the store.
func (s *Store) IsHealthy() bool {
	_, err := s.db.Exec("SELECT 1")
	return err == nil
}

// MaintenanceReport summarizes one db-maintain run.
type MaintenanceReport struct {
	WALCheckpointed  bool
	IntegrityOK      bool
	Optimized        bool
	Vacuumed         bool
	SessionsPruned   int64
	DailyStatsPruned int64
}

// MaintenanceOptions controls a Maintain call.
type MaintenanceOptions struct {
	ForceVacuum           bool
	SkipPrune             bool
	RetentionSessionsDays int
	RetentionDailyDays    int
}

// Maintain checkpoints the WAL, verifies database integrity, refreshes
// planner statistics, optionally vacuums, and optionally prunes rows
// older than the configured retention windows. Integrity failure aborts
// the whole operation, matching spec's "fatal to the maintenance
// operation" requirement.
func (s *Store) Maintain(ctx context.Context, opts MaintenanceOptions) (MaintenanceReport, error) {
	ctx, span := tracer.Start(ctx, "store.Maintain", trace.WithAttributes(
		attribute.Bool("force_vacuum", opts.ForceVacuum),
		attribute.Bool("skip_prune", opts.SkipPrune),
	))
	defer span.End()

	var report MaintenanceReport

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return report, errs.DatabaseErr("wal checkpoint failed", err)
	}
	report.WALCheckpointed = true

	var integrityResult string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		return report, errs.DatabaseErr("integrity check failed", err)
	}
	if integrityResult != "ok" {
		return report, errs.Database("integrity check reported: " + integrityResult)
	}
	report.IntegrityOK = true

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return report, errs.DatabaseErr("optimize failed", err)
	}
	report.Optimized = true

	if opts.ForceVacuum {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return report, errs.DatabaseErr("vacuum failed", err)
		}
		report.Vacuumed = true
	}

	if !opts.SkipPrune {
		sessionsPruned, dailyPruned, err := s.pruneOldRows(ctx, opts.RetentionSessionsDays, opts.RetentionDailyDays)
		if err != nil {
			return report, err
		}
		report.SessionsPruned = sessionsPruned
		report.DailyStatsPruned = dailyPruned
	}

	return report, nil
}

func (s *Store) pruneOldRows(ctx context.Context, retentionSessionsDays, retentionDailyDays int) (sessionsPruned, dailyPruned int64, err error) {
	if retentionSessionsDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionSessionsDays).Format(time.RFC3339)
		res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE last_updated < ?", cutoff)
		if err != nil {
			return 0, 0, errs.DatabaseErr("prune sessions failed", err)
		}
		sessionsPruned, _ = res.RowsAffected()
	}
	if retentionDailyDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDailyDays).Format("2006-01-02")
		res, err := s.db.ExecContext(ctx, "DELETE FROM daily_stats WHERE date < ?", cutoff)
		if err != nil {
			return sessionsPruned, 0, errs.DatabaseErr("prune daily_stats failed", err)
		}
		dailyPruned, _ = res.RowsAffected()
	}
	return sessionsPruned, dailyPruned, nil
}
