package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/constants"
	"chatsync/internal/database"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	"chatsync/internal/service"
	"chatsync/internal/tracing"
	"chatsync/pkg/api"
	"chatsync/pkg/realtime"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose     = flag.Bool("verbose", false, "Enable verbose logging (includes message content and full ids)")
	configPath  = flag.String("config", "config.json", "Path to configuration file")
	envFile     = flag.String("env", ".env", "Optional env file loaded before the config")
	watchConfig = flag.Bool("watch-config", false, "Reload log level when the config file changes")
	version     = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatsync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func newLogger(cfg *models.Config, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message content and ids will be logged")
		return logger
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// app holds every long lived component so run can start and stop them in order
type app struct {
	cfg       *models.Config
	logger    *logrus.Logger
	metrics   *metrics.Registry
	store     *database.Store
	client    *api.HTTPClient
	queue     *service.WriteQueue
	sync      *service.SyncService
	badges    *service.BadgeAggregator
	handler   *service.RealtimeHandler
	push      *realtime.Client
	scheduler *service.Scheduler
	cache     *service.CacheService
}

func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Store, error) {
	backoffConfig := retry.FromConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var store *database.Store
	err := backoff.Retry(ctx, func() error {
		var openErr error
		store, openErr = database.Open(ctx, cfg.Database.Path, cfg.Database, logger)
		if openErr != nil {
			logger.WithError(openErr).Warn("Failed to open local store")
		}
		return openErr
	})
	return store, err
}

func buildApp(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*app, error) {
	registry := metrics.NewRegistry()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	client := api.NewClient(cfg.API, api.Options{
		Retry:   retry.FromConfig(cfg.Retry),
		Metrics: registry,
		Logger:  logger,
	})

	queue := service.NewWriteQueue(cfg.Sync.QueueDepth, time.Duration(constants.DefaultQueueIdleTimeoutMs)*time.Millisecond, registry, logger)
	materializer := service.NewMaterializer(store, cfg.UserID, registry, logger)
	syncService := service.NewSyncService(store, client, queue, materializer, cfg.Sync, registry, logger)
	badges := service.NewBadgeAggregator(syncService, client, cfg.Badge, registry, logger)
	handler := service.NewRealtimeHandler(store, queue, materializer, syncService, badges, cfg.UserID, registry, logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   registry,
		store:     store,
		client:    client,
		queue:     queue,
		sync:      syncService,
		badges:    badges,
		handler:   handler,
		scheduler: service.NewScheduler(syncService, cfg.Sync.IntervalSec, logger),
		cache:     service.NewCacheService(store, queue, materializer, registry, logger),
	}
	if cfg.Realtime.Enabled {
		a.push = realtime.NewClient(cfg.Realtime, cfg.API.AuthToken, cfg.UserID, handler, realtime.Options{
			Metrics: registry,
			Logger:  logger,
		})
	}
	return a, nil
}

func (a *app) deps() Deps {
	deps := Deps{
		Store:     a.store,
		Cache:     a.cache,
		Sync:      a.sync,
		Badges:    a.badges,
		Scheduler: a.scheduler,
		Metrics:   a.metrics,
		Breaker:   a.client,
	}
	if a.push != nil {
		deps.Realtime = a.push
	}
	return deps
}

// start launches the background loops. The returned wait blocks until all of
// them have returned after ctx is cancelled.
func (a *app) start(ctx context.Context) (func(), error) {
	var wg sync.WaitGroup

	if err := a.badges.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start badge aggregator: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Start(ctx)
	}()

	if a.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.push.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("Real-time client stopped")
			}
		}()
	} else {
		a.logger.Info("Real-time channel disabled; relying on scheduled sync")
	}

	return func() {
		a.scheduler.Stop()
		a.badges.Stop()
		wg.Wait()
	}, nil
}

func (a *app) close() {
	a.queue.Close()
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close local store")
	}
}

func run(ctx context.Context) error {
	if err := loadEnvFile(*envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg, *verbose)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatsync")

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	appCtx, cancel := context.WithCancel(service.WithVerbose(ctx, *verbose))
	defer cancel()

	wait, err := a.start(appCtx)
	if err != nil {
		return err
	}
	defer wait()
	// loops must see cancellation before wait blocks on them
	defer cancel()

	if *watchConfig && !*verbose {
		watcher := config.NewConfigWatcher(*configPath, logger)
		watcher.OnConfigChange(config.LogLevelUpdater(logger))
		go func() {
			if err := watcher.Start(appCtx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server := NewServer(appCtx, cfg.Server, a.deps(), logger, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
