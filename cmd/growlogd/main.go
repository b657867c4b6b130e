package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"growlog/internal/api"
	"growlog/internal/clock"
	"growlog/internal/config"
	"growlog/internal/database"
	"growlog/internal/events"
	"growlog/internal/logging"
	"growlog/internal/manager"
	"growlog/internal/metrics"
	"growlog/internal/models"
	"growlog/internal/notify"
	"growlog/internal/queue"
	"growlog/internal/remote"
	synceng "growlog/internal/sync"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Database initialization failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	clk := clock.New()
	bus := events.NewEventBus()

	channel := initNotificationChannel(cfg, &logger)
	batcher := notify.NewBatcher(
		channel, clk,
		cfg.Notifications.RatePerSecond, cfg.Notifications.Burst,
		cfg.Notifications.MaxBatchSize, cfg.Notifications.BatchTimeout(),
		cfg.Notifications.MaxDispatchRetries, &logger,
	)

	retryPolicy := queue.RetryPolicy{
		MaxRetries:    cfg.Processing.MaxRetries,
		InitialDelay:  cfg.Processing.BaseRetryDelay(),
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
	processor := queue.NewProcessor(db, batcher, bus, clk, retryPolicy, cfg.Processing.BatchSize, cfg.Processing.ProcessingTimeout(), &logger)

	target := initSyncTarget(ctx, cfg, clk, &logger)
	tracker := synceng.NewChangeTracker(cfg.Sync.EnableIncrementalSync)
	tracker.SubscribeTo(bus)
	engine := synceng.NewEngine(
		db, target, tracker, clk,
		cfg.Sync.FiveDayFocusEnabled, cfg.Sync.EnableIncrementalSync,
		cfg.Sync.EntityBatchSize, &logger,
	)

	mgr := manager.New(processor, batcher, engine, db, clk, cfg, nil, &logger)
	if err := mgr.Start(); err != nil {
		return err
	}
	defer func() { _ = mgr.Stop() }()

	go mgr.RunHealthLoop(ctx)

	statusServer := api.NewHTTPServer(cfg.Monitoring, mgr, &logger)
	go func() {
		if err := statusServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Status server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = statusServer.Shutdown(shutdownCtx)
	}()

	logger.Info().Msg("growlog background subsystem running")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "growlogd").Logger()
	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create export directory")
		return err
	}
	return nil
}

// initNotificationChannel picks Telegram when a token is configured
// and falls back to the log channel otherwise.
func initNotificationChannel(cfg *config.Config, logger *zerolog.Logger) notify.Channel {
	if cfg.Telegram.BotToken == "" {
		logger.Info().Msg("No Telegram token configured, notifications go to the log")
		return notify.NewLogChannel(logger)
	}

	channel, err := notify.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Debug, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram channel unavailable, falling back to log channel")
		return notify.NewLogChannel(logger)
	}
	logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("Telegram notification channel initialized")
	return channel
}

// initSyncTarget builds the simulated remote store: redis primary with
// in-memory fallback behind the failover wrapper. Without a redis
// address the memory target alone serves as the remote.
func initSyncTarget(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zerolog.Logger) remote.Target {
	fallback := remote.NewMemoryTarget()
	if cfg.Redis.Address == "" {
		logger.Info().Msg("No redis configured, sync target is in-memory")
		return fallback
	}

	client := remote.NewRedisClient(cfg.Redis)
	if err := remote.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	primary := remote.NewRedisTarget(client, time.Duration(models.DefaultRemoteTTL)*time.Second)
	return remote.NewFailoverTarget(primary, fallback, clk, logger)
}
