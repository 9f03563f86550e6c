package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/config"
	"github.com/hagan/claudia-statusline/internal/store"
)

var (
	statsSummaryFlag bool
	statsExportFlag  bool
)

// statsCmd implements the read-only summary report dropped by the
// distillation; see original_source/src/stats.rs's AllTimeStats.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print today's, this month's, and all-time cost totals",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsSummaryFlag, "summary", false, "print the all-time/monthly/daily totals and exit")
	statsCmd.Flags().BoolVar(&statsExportFlag, "export", false, "dump every session, daily, and monthly row as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if !statsSummaryFlag && !statsExportFlag {
		return nil
	}

	cfg, err := config.Get()
	if err != nil {
		return err
	}
	dataDir, err := clock.DataDir()
	if err != nil {
		return err
	}
	st, err := store.Open(filepath.Join(dataDir, "stats.db"), store.Options{
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
		MaxConnections: cfg.Database.MaxConnections,
		DBRetry:        cfg.DBOpsRetry(),
	})
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if statsExportFlag {
		return exportAllStats(ctx, st, out)
	}

	today, month := clock.TodayAndMonth()
	dayTotal, _ := st.GetTodayTotal(ctx, today)
	monthTotal, _ := st.GetMonthTotal(ctx, month)
	summary, err := st.GetAllTimeSummary(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "today:     $%.2f\n", dayTotal)
	fmt.Fprintf(out, "month:     $%.2f\n", monthTotal)
	fmt.Fprintf(out, "all-time:  $%.2f across %d sessions\n", summary.TotalCost, summary.SessionCount)
	if !summary.Since.IsZero() {
		fmt.Fprintf(out, "since:     %s\n", summary.Since.Format("2006-01-02"))
	}
	return nil
}

// statsExport is the JSON shape printed by `stats --export`, covering the
// relational store's remaining read-only bulk query operations
// (spec.md §4.1: get_all_sessions, get_all_daily_stats, get_all_monthly_stats).
type statsExport struct {
	Sessions map[string]store.SessionRecord `json:"sessions"`
	Daily    map[string]store.DailyRecord   `json:"daily"`
	Monthly  map[string]store.MonthlyRecord `json:"monthly"`
}

func exportAllStats(ctx context.Context, st *store.Store, out io.Writer) error {
	sessions, err := st.GetAllSessions(ctx)
	if err != nil {
		return err
	}
	daily, err := st.GetAllDailyStats(ctx)
	if err != nil {
		return err
	}
	monthly, err := st.GetAllMonthlyStats(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(statsExport{Sessions: sessions, Daily: daily, Monthly: monthly})
}
