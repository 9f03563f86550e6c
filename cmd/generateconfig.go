package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hagan/claudia-statusline/internal/config"
)

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write a commented example configuration to the default config path",
	RunE:  runGenerateConfig,
}

func init() {
	rootCmd.AddCommand(generateConfigCmd)
}

func runGenerateConfig(cmd *cobra.Command, args []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(config.ExampleTOML()), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote example configuration to %s\n", path)
	return nil
}
