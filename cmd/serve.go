package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/app"
	"github.com/1k-7/LNreqnw/internal/config"
	"github.com/1k-7/LNreqnw/internal/logging"
)

// newServeCmd creates and configures the 'serve' subcommand, which runs
// the service until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the batch service",
		Long: `Starts the worker pool, the admin HTTP server and the background
loops, resumes any batch interrupted by the previous shutdown, and runs
until SIGINT or SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "initialize service")
	}

	logger.Info("service starting",
		zap.String("identity", cfg.Service.Identity),
		zap.Int("workers", cfg.Pool.Workers),
	)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "run service")
	}
	return nil
}
