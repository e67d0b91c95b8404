package cli

import (
	"context"

	"github.com/spf13/cobra"

	"quiz-proctor/internal/config"
	"quiz-proctor/internal/logger"
)

// NewSyncCmd drains the offline answer buffer once and exits.
func NewSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay buffered offline answers into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), *configPath)
		},
	}
}

func runSync(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.connectivity.Probe(ctx) {
		log.Warn().Msg("database unreachable, nothing replayed")
		return nil
	}
	res, err := rt.syncManager(cfg, log).SyncOnce(ctx)
	log.Info().Int("sessions", res.Sessions).Int("replayed", res.Replayed).Int("failed", res.Failed).Msg("sync finished")
	return err
}
