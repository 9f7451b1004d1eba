// Package app assembles the service: state stores, worker pool, batch
// supervisor, delivery router, admin HTTP server and the background loops,
// with one place owning startup order and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/api"
	"github.com/1k-7/LNreqnw/internal/archive"
	"github.com/1k-7/LNreqnw/internal/batch"
	"github.com/1k-7/LNreqnw/internal/config"
	"github.com/1k-7/LNreqnw/internal/deliver"
	"github.com/1k-7/LNreqnw/internal/inbox"
	"github.com/1k-7/LNreqnw/internal/job"
	"github.com/1k-7/LNreqnw/internal/ledger"
	"github.com/1k-7/LNreqnw/internal/metrics"
	"github.com/1k-7/LNreqnw/internal/notify"
	"github.com/1k-7/LNreqnw/internal/pool"
	"github.com/1k-7/LNreqnw/internal/source"
)

// App owns all long-lived components of the running service.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	ledger   *ledger.Ledger
	pool     *pool.Pool
	manager  *batch.Manager
	batches  *batch.Store
	relay    *deliver.Relay
	archiver *archive.Archiver
	inbox    *inbox.Watcher
	halt     *job.Halt
	server   *http.Server
	notifier notify.Notifier
}

// New wires the full component graph from configuration. Nothing starts
// running until Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Service.DataDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	if err := os.MkdirAll(cfg.Service.DownloadDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create download dir")
	}

	metrics.Init()

	led, err := ledger.Open(statePath(cfg, "state"), logger)
	if err != nil {
		return nil, err
	}

	notifier, bindings, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	targetDest := notify.Destination{ChatID: cfg.Telegram.TargetChatID, TopicID: bindings.Target}
	statusDest := notify.Destination{ChatID: cfg.Telegram.LogChatID, TopicID: bindings.ErrorLog}
	archiveDest := notify.Destination{ChatID: cfg.Telegram.LogChatID, TopicID: bindings.Archive}

	halt := &job.Halt{}
	relay := deliver.NewRelay(cfg.RelayTimeout(), logger)
	router := deliver.NewRouter(notifier, relay, statusDest, deliver.Config{
		RelayThresholdMB: cfg.Delivery.RelayThresholdMB,
		HardLimitMB:      cfg.Delivery.HardLimitMB,
	}, logger)

	registry := source.NewRegistry(source.Options{
		UserAgent:  cfg.Source.UserAgent,
		Timeout:    cfg.SourceTimeout(),
		MaxRetries: cfg.Source.MaxRetries,
	}, logger)

	jobCfg := job.Config{
		DownloadDir:      cfg.Service.DownloadDir,
		FetchConcurrency: cfg.Pool.FetchConcurrency,
		ReportInterval:   cfg.ReportInterval(),
		PackByVolume:     cfg.Pool.PackByVolume,
	}
	workers := pool.New(cfg.Pool.Workers, func() pool.Runner {
		return job.NewRunner(registry, nil, halt, jobCfg, logger)
	}, logger)

	batchStore := batch.NewStore(statePath(cfg, "batch"))
	manager := batch.NewManager(
		workers,
		led,
		batchStore,
		notifier,
		router,
		halt,
		batch.Config{
			Parallelism:   cfg.Batch.Parallelism,
			ProgressDepth: cfg.Batch.ProgressDepth,
			PollInterval:  cfg.PollInterval(),
			EditInterval:  cfg.EditInterval(),
			StatusDest:    statusDest,
			TargetDest:    targetDest,
		},
		logger,
	)

	archiver := archive.New(cfg.Service.DataDir, notifier, archiveDest, logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		ledger:   led,
		pool:     workers,
		manager:  manager,
		batches:  batchStore,
		relay:    relay,
		archiver: archiver,
		halt:     halt,
		notifier: notifier,
	}
	if cfg.Inbox.Enabled {
		a.inbox = inbox.New(cfg.Inbox.Dir, manager, logger)
	}
	return a, nil
}

// Run starts the background loops and the admin server, resumes any
// persisted batch, and blocks until ctx ends. Shutdown drains in-flight
// jobs before returning.
func (a *App) Run(ctx context.Context) error {
	srv := api.NewServer(ctx, a.manager, a.ledger, a.batches, a.archiver, a.relay, a.halt, a.logger)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("admin server listening", zap.Int("port", a.cfg.Server.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "admin server")
		}
	}()

	if a.inbox != nil {
		go func() {
			if err := a.inbox.Run(ctx); err != nil {
				a.logger.Error("inbox watcher stopped", zap.Error(err))
			}
		}()
	}
	if a.cfg.Archive.Enabled {
		go a.archiver.Run(ctx,
			time.Duration(a.cfg.Archive.InitialDelaySec)*time.Second,
			time.Duration(a.cfg.Archive.IntervalHours)*time.Hour,
		)
	}

	go func() {
		if err := a.manager.Resume(ctx); err != nil {
			a.logger.Error("batch resume failed", zap.Error(err))
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return a.shutdown()
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down")
	a.halt.Raise()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("admin server shutdown", zap.Error(err))
	}
	if err := a.pool.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("worker pool shutdown", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// buildNotifier picks the Telegram backend when a token is configured and
// provisions the forum topics once, or falls back to the no-op notifier.
func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Notifier, notify.Bindings, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("no telegram token configured, outward messaging disabled")
		return notify.Noop{}, notify.Bindings{}, nil
	}
	tg := notify.NewTelegram(cfg.Telegram.APIBaseURL, cfg.Telegram.Token, logger)
	if cfg.Telegram.LogChatID == 0 {
		return tg, notify.Bindings{}, nil
	}
	bindings, err := notify.ProvisionTopics(ctx, tg, cfg.Telegram.LogChatID, statePath(cfg, "topics"), notify.TopicOverrides{
		Target:   cfg.Telegram.ForceTargetTopicID,
		ErrorLog: cfg.Telegram.ForceErrorTopicID,
	}, logger)
	if err != nil {
		return nil, notify.Bindings{}, err
	}
	return tg, bindings, nil
}

func statePath(cfg config.Config, kind string) string {
	return filepath.Join(cfg.Service.DataDir, fmt.Sprintf("%s_%s.json", cfg.Service.Identity, kind))
}
