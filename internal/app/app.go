// Package app initializes and holds long-lived application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/storescout/storescout/internal/api"
	"github.com/storescout/storescout/internal/clock/system"
	"github.com/storescout/storescout/internal/config"
	"github.com/storescout/storescout/internal/id/uuid"
	"github.com/storescout/storescout/internal/logging"
	"github.com/storescout/storescout/internal/orchestrator"
	pubsubpub "github.com/storescout/storescout/internal/publisher/pubsub"
	"github.com/storescout/storescout/internal/scrape"
	"github.com/storescout/storescout/internal/service"
	"github.com/storescout/storescout/internal/storage/gcs"
	"github.com/storescout/storescout/internal/storage/local"
	"github.com/storescout/storescout/internal/storage/memory"
	"github.com/storescout/storescout/internal/storage/postgres"
)

// App wires the configured stores, the orchestrator, and the HTTP server.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	launcher *orchestrator.Launcher
	server   *http.Server

	closers []func()
}

// New builds the application from configuration, failing fast when any
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	jobStore, resultStore, err := a.buildStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobStore, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	clk := system.New()
	a.launcher = orchestrator.NewLauncher(
		jobStore, resultStore, blobStore, publisher, clk,
		orchestrator.Config{
			ScraperCommand: splitCommand(cfg.Scraper.Command),
			MergeCommand:   mergeCommand(cfg, logger),
			OutputDir:      cfg.Scraper.OutputDir,
			MasterPath:     cfg.Dataset.MasterPath,
			FlushInterval:  cfg.FlushInterval(),
			CancelGrace:    cfg.CancelGrace(),
			MergeTimeout:   cfg.MergeTimeout(),
			EventsTopic:    eventsTopic(cfg),
		},
		logger.Named("orchestrator"),
	)

	jobs := service.NewJobs(jobStore, resultStore, a.launcher, clk,
		uuid.NewUUIDGenerator(), logger.Named("service"))
	srv := api.NewServer(jobs, cfg, logger.Named("api"))

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run reconciles orphaned jobs, then serves HTTP until the context is
// cancelled, draining in-flight requests on the way out.
func (a *App) Run(ctx context.Context) error {
	if err := a.launcher.ReconcileOrphans(ctx); err != nil {
		return fmt.Errorf("reconcile orphans: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// Close releases held resources. Safe to call after a failed New.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *App) buildStores(ctx context.Context) (scrape.JobStore, scrape.ResultStore, error) {
	switch a.cfg.Store.Backend {
	case "postgres":
		a.logger.Info("using postgres store")
		jobStore, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        int32(a.cfg.DB.MaxConns),
			MinConns:        int32(a.cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(a.cfg.DB.ConnLifetimeSec) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres: %w", err)
		}
		a.closers = append(a.closers, jobStore.Close)
		resultStore, err := postgres.NewResultStoreWithPool(jobStore.Pool())
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres results: %w", err)
		}
		return jobStore, resultStore, nil
	case "memory":
		a.logger.Info("using in-memory store; state is lost on restart")
		return memory.NewJobStore(), memory.NewResultStore(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", a.cfg.Store.Backend)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Blob.Backend {
	case "none":
		return nil, nil
	case "local":
		a.logger.Info("archiving results to local directory", zap.String("dir", a.cfg.Blob.BaseDir))
		store, err := local.New(local.Config{BaseDir: a.cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		a.logger.Info("archiving results to GCS", zap.String("bucket", a.cfg.Blob.GCSBucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Blob.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", a.cfg.Blob.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (scrape.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		return nil, nil
	}
	a.logger.Info("publishing job events to Pub/Sub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := pubsubpub.New(client)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, func() { _ = pub.Close() })
	return pub, nil
}

// splitCommand breaks a configured command string into argv form. Paths
// with spaces are not supported; configure a wrapper script instead.
func splitCommand(command string) []string {
	return strings.Fields(command)
}

// mergeCommand resolves the merge worker invocation. With no explicit
// command configured the service re-invokes its own binary's merge
// subcommand.
func mergeCommand(cfg config.Config, logger *zap.Logger) []string {
	if cfg.Scraper.MergeCommand != "" {
		return splitCommand(cfg.Scraper.MergeCommand)
	}
	self, err := os.Executable()
	if err != nil {
		logger.Warn("cannot resolve own binary; master merge disabled", zap.Error(err))
		return nil
	}
	return []string{
		self, "merge",
		fmt.Sprintf("--tolerance=%g", cfg.Dataset.ToleranceMeters),
	}
}

func eventsTopic(cfg config.Config) string {
	if !cfg.PubSub.Enabled {
		return ""
	}
	return cfg.PubSub.TopicName
}
