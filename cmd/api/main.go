package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"constructlink/internal/api"
	"constructlink/internal/config"
	"constructlink/internal/database"
	"constructlink/internal/domain"
	"constructlink/internal/events"
	"constructlink/internal/logging"
	"constructlink/internal/metrics"
	"constructlink/internal/repository"
	"constructlink/internal/worker"
	"constructlink/internal/workflow"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
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
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	state := sharedState(redisClient, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	bus := events.NewEventBus()
	engine, err := initEngine(cfg, db, bus, logger)
	if err != nil {
		return err
	}

	if err := startNotifier(ctx, cfg, bus, logger); err != nil {
		return err
	}
	if err := startOverdueScanner(ctx, cfg, engine, bus, state, logger); err != nil {
		return err
	}
	go database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)

	if !cfg.API.HTTP.Enabled {
		logger.Warn().Msg("HTTP API is disabled in config, running background workers only")
		<-ctx.Done()
		return nil
	}

	health := func(ctx context.Context) error { return db.PingContext(ctx) }
	httpServer, err := api.NewHTTPServer(cfg.API, engine, state, health, logger)
	if err != nil {
		return err
	}
	return serve(ctx, httpServer, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "main"), closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with in-memory state")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// sharedState prefers Redis and falls back to process memory while it is unreachable.
func sharedState(client *redis.Client, logger *zerolog.Logger) domain.SharedState {
	memory := repository.NewMemoryState()
	if client == nil {
		return memory
	}
	return repository.NewFailoverState(repository.NewRedisState(client), memory, logging.Component(logger, "shared_state"))
}

func initEngine(cfg *config.Config, db *database.DB, bus *events.EventBus, logger *zerolog.Logger) (*workflow.Engine, error) {
	opts := []workflow.Option{
		workflow.WithPublisher(bus),
		workflow.WithAuditPreview(cfg.Workflow.AuditPreview),
	}
	if len(cfg.Workflow.Permissions) > 0 {
		rules, err := workflow.RulesFromConfig(cfg.Workflow.Permissions)
		if err != nil {
			return nil, fmt.Errorf("workflow permissions: %w", err)
		}
		opts = append(opts, workflow.WithMatrix(workflow.NewMatrix(rules)))
		logger.Info().Int("rules", len(rules)).Msg("using configured authorization matrix")
	}
	return workflow.NewEngine(db, logger, opts...), nil
}

func startNotifier(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) error {
	tg := cfg.Notify.Telegram
	if !tg.Enabled {
		return nil
	}

	retry, err := worker.RetryPolicyFromConfig(cfg.Notify.Retry)
	if err != nil {
		return fmt.Errorf("notify retry: %w", err)
	}
	sender, err := worker.NewTelegramSender(tg.BotToken, tg.Debug)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	notifier := worker.NewNotificationWorker(sender, tg.ChatIDs, retry, logger)
	notifier.Subscribe(bus)
	go notifier.Start(ctx)
	logger.Info().Int("chats", len(tg.ChatIDs)).Msg("telegram notifications enabled")
	return nil
}

func startOverdueScanner(
	ctx context.Context,
	cfg *config.Config,
	engine *workflow.Engine,
	bus *events.EventBus,
	state domain.SharedState,
	logger *zerolog.Logger,
) error {
	interval, err := time.ParseDuration(cfg.Workflow.OverdueScanInterval)
	if err != nil {
		return fmt.Errorf("workflow.overdue_scan_interval: %w", err)
	}
	scanner := worker.NewOverdueScanner(engine, bus, state, interval, logger)
	go scanner.Start(ctx)
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
