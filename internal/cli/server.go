package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/config"
	"quiz-proctor/internal/logger"
	transport "quiz-proctor/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proctored quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, port)
		},
	}
	// empty defers to the config file and PORT
	cmd.Flags().StringVar(&port, "port", "", "port to listen on")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	service := app.NewQuizService(app.Dependencies{
		Generator:    rt.generator,
		Persistence:  rt.persistence,
		Snapshots:    rt.snapshots,
		Buffer:       rt.buffer,
		Connectivity: rt.connectivity,
		Backlog:      rt.backlog,
		Activity:     rt.activity,
		Proctoring:   monitorConfig(cfg.Proctoring),
		FlagLimit:    cfg.Proctoring.FlagLimit,
		DefaultCount: cfg.Quiz.DefaultCount,
		Logger:       log,
	})
	defer service.Shutdown()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go rt.connectivity.Run(bgCtx)
	go rt.syncManager(cfg, log).Run(bgCtx)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service, rt.connectivity, log),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz proctor")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
