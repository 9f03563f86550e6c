package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/config"
	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/hagan/claudia-statusline/internal/learner"
	"github.com/hagan/claudia-statusline/internal/models"
	"github.com/hagan/claudia-statusline/internal/store"
)

var (
	clStatus   bool
	clDetails  string
	clReset    string
	clResetAll bool
	clRebuild  bool
	clFormat   string
)

// learnedWindowYAML is the machine-readable projection of store.LearnedWindow
// for --status --format=yaml, named as fields a downstream script would
// actually want rather than every internal audit column.
type learnedWindowYAML struct {
	Model               string  `yaml:"model"`
	ObservedMaxTokens   uint64  `yaml:"observed_max_tokens"`
	ConfidenceScore     float64 `yaml:"confidence_score"`
	Trusted             bool    `yaml:"trusted"`
	CeilingObservations int     `yaml:"ceiling_observations"`
	CompactionCount     int     `yaml:"compaction_count"`
}

var contextLearningCmd = &cobra.Command{
	Use:   "context-learning",
	Short: "Inspect or administer the adaptive context-window learner",
	RunE:  runContextLearning,
}

func init() {
	contextLearningCmd.Flags().BoolVar(&clStatus, "status", false, "list every learned model with its confidence")
	contextLearningCmd.Flags().StringVar(&clDetails, "details", "", "show the full learned row for one model")
	contextLearningCmd.Flags().StringVar(&clReset, "reset", "", "clear the learned row for one model")
	contextLearningCmd.Flags().BoolVar(&clResetAll, "reset-all", false, "clear every learned row")
	contextLearningCmd.Flags().BoolVar(&clRebuild, "rebuild", false, "replay session history to rebuild learned windows")
	contextLearningCmd.Flags().StringVar(&clFormat, "format", "text", "output format for --status: text or yaml")
	rootCmd.AddCommand(contextLearningCmd)
}

func runContextLearning(cmd *cobra.Command, args []string) error {
	selected := 0
	for _, set := range []bool{clStatus, clDetails != "", clReset != "", clResetAll, clRebuild} {
		if set {
			selected++
		}
	}
	if selected == 0 {
		return errs.Config("one of --status, --details, --reset, --reset-all, --rebuild is required")
	}
	if selected > 1 {
		return errs.Config("only one of --status, --details, --reset, --reset-all, --rebuild may be given")
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

	l := learner.New(st)
	ctx := context.Background()
	out := cmd.OutOrStdout()

	switch {
	case clStatus:
		windows, err := st.GetAllLearnedWindows(ctx)
		if err != nil {
			return err
		}
		if len(windows) == 0 {
			fmt.Fprintln(out, "no learned context windows yet")
			return nil
		}
		if clFormat == "yaml" {
			rows := make([]learnedWindowYAML, 0, len(windows))
			for _, w := range windows {
				rows = append(rows, learnedWindowYAML{
					Model:               w.ModelName,
					ObservedMaxTokens:   w.ObservedMaxTokens,
					ConfidenceScore:     w.ConfidenceScore,
					Trusted:             w.ConfidenceScore >= cfg.Context.LearnedThreshold,
					CeilingObservations: w.CeilingObservations,
					CompactionCount:     w.CompactionCount,
				})
			}
			enc := yaml.NewEncoder(out)
			defer enc.Close()
			return enc.Encode(rows)
		}
		for _, w := range windows {
			trusted := "untrusted"
			if w.ConfidenceScore >= cfg.Context.LearnedThreshold {
				trusted = "trusted"
			}
			fmt.Fprintf(out, "%-12s observed_max=%d confidence=%.2f (%s) ceiling_observations=%d compaction_count=%d\n",
				w.ModelName, w.ObservedMaxTokens, w.ConfidenceScore, trusted, w.CeilingObservations, w.CompactionCount)
		}
		return nil

	case clDetails != "":
		canonical := models.CanonicalModelName(clDetails)
		w, found, err := st.GetLearnedWindow(ctx, canonical)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(out, "no learned window for %q (canonical: %s)\n", clDetails, canonical)
			return nil
		}
		fmt.Fprintf(out, "model: %s\n", w.ModelName)
		fmt.Fprintf(out, "observed_max_tokens: %d\n", w.ObservedMaxTokens)
		fmt.Fprintf(out, "last_observed_max: %d\n", w.LastObservedMax)
		fmt.Fprintf(out, "ceiling_observations: %d\n", w.CeilingObservations)
		fmt.Fprintf(out, "compaction_count: %d\n", w.CompactionCount)
		fmt.Fprintf(out, "confidence_score: %.4f\n", w.ConfidenceScore)
		fmt.Fprintf(out, "first_seen: %s\n", w.FirstSeen.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Fprintf(out, "last_updated: %s\n", w.LastUpdated.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Fprintf(out, "workspace_dir: %s\n", w.WorkspaceDir)
		fmt.Fprintf(out, "device_id: %s\n", w.DeviceID)
		return nil

	case clReset != "":
		if err := l.Reset(ctx, clReset); err != nil {
			return err
		}
		fmt.Fprintf(out, "reset learned window for %q\n", clReset)
		return nil

	case clResetAll:
		if err := l.ResetAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "reset all learned context windows")
		return nil

	default: // clRebuild
		if err := l.Rebuild(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "rebuilt learned context windows from session history")
		return nil
	}
}
