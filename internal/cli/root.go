package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yaml"

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "quiz-proctor",
		Short:        "Proctored, timed quiz sessions over WebSocket",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", defaultConfigPath), "path to YAML config")

	cmd.AddCommand(
		NewStartCmd(&configPath),
		NewMigrateCmd(&configPath),
		NewSyncCmd(&configPath),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
