package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/hagan/claudia-statusline/internal/hookstate"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Write or clear the cross-process compaction signal for a session",
}

var (
	hookSessionID string
	hookTrigger   string
)

var hookPrecompactCmd = &cobra.Command{
	Use:   "precompact",
	Short: "Mark a session as compacting",
	RunE:  runHookPrecompact,
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Clear a session's compaction state",
	RunE:  runHookStop,
}

func init() {
	hookPrecompactCmd.Flags().StringVar(&hookSessionID, "session-id", "", "session id (required)")
	hookPrecompactCmd.Flags().StringVar(&hookTrigger, "trigger", "auto", "compaction trigger: auto or manual")
	_ = hookPrecompactCmd.MarkFlagRequired("session-id")

	hookStopCmd.Flags().StringVar(&hookSessionID, "session-id", "", "session id (required)")
	_ = hookStopCmd.MarkFlagRequired("session-id")

	hookCmd.AddCommand(hookPrecompactCmd, hookStopCmd)
	rootCmd.AddCommand(hookCmd)
}

func runHookPrecompact(cmd *cobra.Command, args []string) error {
	if hookTrigger != "auto" && hookTrigger != "manual" {
		return errs.Config("trigger must be \"auto\" or \"manual\"")
	}
	cacheDir, err := clock.CacheDir()
	if err != nil {
		return err
	}
	pid := os.Getpid()
	store := hookstate.New(cacheDir)
	return store.Write(hookstate.State{
		State:     "compacting",
		Trigger:   hookTrigger,
		SessionID: hookSessionID,
		StartedAt: time.Now(),
		PID:       &pid,
	})
}

func runHookStop(cmd *cobra.Command, args []string) error {
	cacheDir, err := clock.CacheDir()
	if err != nil {
		return err
	}
	store := hookstate.New(cacheDir)
	return store.Clear(hookSessionID)
}
