// Package main runs the quotekeeper HTTP service: the quote API, periodic
// sync against the remote quote source and the sync event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients/acl"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/events"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/http"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/handlers"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/metrics"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/scheduler"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/session"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/storage/memory"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/storage/sqlstore"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/tasks"
	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
	"github.com/jsamuelsen/quotekeeper/internal/platform/telemetry"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// Build-time variables, injected via ldflags.
// Example: go build -ldflags "-X main.Version=1.0.0 -X main.Commit=$(git rev-parse HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	// Version is the semantic version of the service.
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "unknown"

	// BuildTime is the timestamp when the binary was built.
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

//nolint:funlen // linear startup sequence
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration (fail fast)
	profile := os.Getenv("APP_ENVIRONMENT")
	if profile == "" {
		profile = "local"
	}

	cfg, err := config.Load(profile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// 2. Logging
	logger := newLogger(cfg)
	logging.SetDefault(logger)

	logger.Info("starting service",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Driver),
	)

	// 3. Telemetry (noop if disabled)
	telProvider, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if shutdownErr := telProvider.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	healthRegistry := ports.NewHealthRegistry()

	// 4. Persistence and the in-memory record store
	kv, closeKV, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	if checker, ok := kv.(ports.HealthChecker); ok {
		if err := healthRegistry.Register(checker); err != nil {
			return fmt.Errorf("registering storage health check: %w", err)
		}
	}

	store := app.NewQuoteStore(kv, logger)
	if err := loadQuotes(ctx, store, logger); err != nil {
		return err
	}

	// 5. Remote quote source
	source, err := newQuoteSource(cfg, logger)
	if err != nil {
		return err
	}

	if err := healthRegistry.Register(source, ports.NonCritical()); err != nil {
		return fmt.Errorf("registering quote source health check: %w", err)
	}

	// 6. Sync: events, metrics, orchestrator and schedule
	broker := events.NewBroker(events.DefaultBufferSize, logger)

	syncMetrics, err := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("registering sync metrics: %w", err)
	}

	syncService := app.NewSyncService(app.SyncServiceConfig{
		Store:        store,
		Source:       source,
		Publisher:    broker,
		Metrics:      syncMetrics,
		FetchTimeout: cfg.Sync.FetchTimeout,
		Logger:       logger,
	})

	var (
		sched   *scheduler.Scheduler
		nextRun handlers.NextRunner
	)

	if cfg.Sync.Enabled {
		sched, err = scheduler.New(cfg.Sync.Schedule, syncService, logger, scheduler.WithRunOnStart(cfg.Sync.OnStart))
		if err != nil {
			return err
		}

		nextRun = sched
	}

	// 7. Quotes, with background submission of new ones
	sess := session.New(cfg.Session)

	quoteCfg := app.QuoteServiceConfig{
		Store:            store,
		KV:               kv,
		Session:          sess,
		RejectDuplicates: cfg.Quotes.RejectDuplicates,
		PublishNew:       cfg.Quotes.PublishNew,
		Logger:           logger,
	}

	var taskClient *tasks.Client

	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Tasks, logger)
		if err != nil {
			return err
		}
		defer taskClient.Close()

		quoteCfg.Submits = tasks.NewSubmitter(taskClient, source)

		if err := healthRegistry.Register(taskClient); err != nil {
			return fmt.Errorf("registering task queue health check: %w", err)
		}
	}

	quoteService := app.NewQuoteService(quoteCfg)

	// 8. HTTP
	server := http.New(&cfg.Server, logger)
	http.SetupRouter(server.Engine(), http.RouterConfig{
		Logger:      logger,
		ServiceName: telemetry.ConfigFrom(cfg).ServiceName,
		HealthHandler: handlers.NewHealthHandler(healthRegistry, handlers.NewBuildInfo(Version, Commit, BuildTime)).
			WithGatherer(prometheus.DefaultGatherer),
		QuoteHandler: handlers.NewQuoteHandler(quoteService),
		SyncHandler:  handlers.NewSyncHandler(syncService, nextRun, broker),
		Session:      sess,
		Timeout:      http.DefaultRequestTimeout,
	})

	// 9. Bind the listener, then start background work
	serverErr, err := server.Start()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		broker.Run(gctx)
		return nil
	})

	if sched != nil {
		sched.Start(gctx)
	}

	if taskClient != nil {
		taskClient.Start(gctx)
	}

	g.Go(func() error {
		select {
		case err, ok := <-serverErr:
			if ok && err != nil {
				return err
			}

			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		return shutdown(logger, server, sched, taskClient, cfg.Server.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(&logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
		File: logging.FileConfig{
			Enabled:    cfg.Log.File.Enabled,
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})
}

// openStorage returns the key-value store selected by the storage driver and
// a function that releases it.
func openStorage(cfg config.StorageConfig, logger *slog.Logger) (ports.KeyValueStore, func(), error) {
	if cfg.Driver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage; quotes are lost on exit")
		return memory.New(), func() {}, nil
	}

	db, err := sqlstore.Open(cfg.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("closing storage", slog.Any("error", err))
		}
	}, nil
}

// loadQuotes fills store from persistence. An unreadable slot leaves the
// defaults installed and the service keeps running.
func loadQuotes(ctx context.Context, store *app.QuoteStore, logger *slog.Logger) error {
	err := store.Load(ctx)

	switch {
	case err == nil:
		return nil
	case domain.IsPersistence(err):
		logger.WarnContext(ctx, "loading persisted quotes failed, serving defaults", slog.Any("error", err))

		return nil
	default:
		return fmt.Errorf("loading quotes: %w", err)
	}
}

func newQuoteSource(cfg *config.Config, logger *slog.Logger) (*acl.QuoteSource, error) {
	qs := cfg.Services.QuoteSource

	client, err := clients.New(&clients.Config{
		BaseURL:     qs.BaseURL,
		ServiceName: qs.Name,
		Timeout:     cfg.Client.Timeout,
		Retry:       cfg.Client.Retry,
		Circuit:     cfg.Client.CircuitBreaker,
		Transport:   cfg.Client.Transport,
		UserAgent:   cfg.App.Name + "/" + Version,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating quote source client: %w", err)
	}

	return acl.NewQuoteSource(acl.QuoteSourceConfig{
		Client:     client,
		FetchPath:  qs.FetchPath,
		FetchLimit: qs.FetchLimit,
		Category:   qs.Category,
		SubmitPath: qs.SubmitPath,
		Logger:     logger,
	}), nil
}

// shutdown drains HTTP first so no new sync or submission starts, then stops
// the schedule and the task workers.
func shutdown(
	logger *slog.Logger,
	server *http.Server,
	sched *scheduler.Scheduler,
	taskClient *tasks.Client,
	timeout time.Duration,
) error {
	logger.Info("initiating graceful shutdown", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if sched != nil {
		sched.Stop()
	}

	if taskClient != nil && !taskClient.Stop(ctx) {
		logger.Warn("task workers did not stop before the shutdown deadline")
	}

	return errors.Join(errs...)
}
