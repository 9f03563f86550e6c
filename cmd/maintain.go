package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/config"
	"github.com/hagan/claudia-statusline/internal/hookstate"
	"github.com/hagan/claudia-statusline/internal/log"
	"github.com/hagan/claudia-statusline/internal/store"
)

var (
	maintainForceVacuum bool
	maintainNoPrune     bool
	maintainQuiet       bool
	maintainWatch       bool
)

var maintainCmd = &cobra.Command{
	Use:   "db-maintain",
	Short: "Checkpoint, verify, optimize, and prune the relational store",
	RunE:  runMaintain,
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainForceVacuum, "force-vacuum", false, "run VACUUM (maintenance does not vacuum without this flag)")
	maintainCmd.Flags().BoolVar(&maintainNoPrune, "no-prune", false, "skip pruning rows past the retention window")
	maintainCmd.Flags().BoolVar(&maintainQuiet, "quiet", false, "suppress the maintenance report on stdout")
	maintainCmd.Flags().BoolVar(&maintainWatch, "watch", false, "re-run maintenance whenever the config file changes")
	rootCmd.AddCommand(maintainCmd)
}

func runMaintain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get()
	if err != nil {
		return err
	}
	dataDir, err := clock.DataDir()
	if err != nil {
		return err
	}
	dbPath := filepath.Join(dataDir, "stats.db")

	if maintainWatch {
		return watchAndMaintain(cmd, cfg, dbPath)
	}
	return maintainOnce(cmd, cfg, dbPath)
}

func maintainOnce(cmd *cobra.Command, cfg *config.Config, dbPath string) error {
	st, err := store.Open(dbPath, store.Options{
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
		MaxConnections: cfg.Database.MaxConnections,
		DBRetry:        cfg.DBOpsRetry(),
	})
	if err != nil {
		return err
	}
	defer st.Close()

	if !st.IsHealthy() {
		log.Warn(log.CatStore, "store failed a pre-maintenance health check, proceeding anyway")
	}

	report, err := st.Maintain(context.Background(), store.MaintenanceOptions{
		ForceVacuum:           maintainForceVacuum,
		SkipPrune:             maintainNoPrune,
		RetentionSessionsDays: cfg.Database.RetentionSessionsDays,
		RetentionDailyDays:    cfg.Database.RetentionDailyDays,
	})
	if err != nil {
		return err
	}
	if !maintainQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), "wal_checkpointed=%v integrity_ok=%v optimized=%v vacuumed=%v sessions_pruned=%d daily_stats_pruned=%d\n",
			report.WALCheckpointed, report.IntegrityOK, report.Optimized, report.Vacuumed,
			report.SessionsPruned, report.DailyStatsPruned)
	}

	if cacheDir, cerr := clock.CacheDir(); cerr == nil {
		if err := hookstate.New(cacheDir).CleanupStale(time.Now()); err != nil {
			log.ErrorErr(log.CatHook, "hook state sweep failed", err)
		}
	}
	return nil
}

// watchAndMaintain runs maintenance immediately, then again every time the
// config file is edited on disk, so a long-lived daemon picks up new
// retention/vacuum settings without a restart. The config file, not the
// database, is watched: WAL checkpointing rewrites the database file in
// place, which would otherwise retrigger the watch on every maintenance
// run it performs.
func watchAndMaintain(cmd *cobra.Command, cfg *config.Config, dbPath string) error {
	configPath, err := config.DefaultConfigPath()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return err
	}

	if err := maintainOnce(cmd, cfg, dbPath); err != nil {
		log.ErrorErr(log.CatStore, "initial maintenance run failed", err)
	}

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(configPath) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(2*time.Second, func() {
				reloaded, rerr := config.Reload()
				if rerr != nil {
					log.ErrorErr(log.CatConfig, "config reload failed, keeping prior settings", rerr)
					reloaded = cfg
				}
				if err := maintainOnce(cmd, reloaded, dbPath); err != nil {
					log.ErrorErr(log.CatStore, "watched maintenance run failed", err)
				}
			})
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.ErrorErr(log.CatStore, "fsnotify watcher error", werr)
		}
	}
}
