package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ismaiel54/trading-alert-engine/internal/breaker"
	"github.com/ismaiel54/trading-alert-engine/internal/chaos"
	"github.com/ismaiel54/trading-alert-engine/internal/config"
	"github.com/ismaiel54/trading-alert-engine/internal/dispatch"
	"github.com/ismaiel54/trading-alert-engine/internal/engine"
	"github.com/ismaiel54/trading-alert-engine/internal/logging"
	"github.com/ismaiel54/trading-alert-engine/internal/market"
	"github.com/ismaiel54/trading-alert-engine/internal/notify"
	"github.com/ismaiel54/trading-alert-engine/internal/observability"
	"github.com/ismaiel54/trading-alert-engine/internal/queue"
	"github.com/ismaiel54/trading-alert-engine/internal/rules"
	"github.com/ismaiel54/trading-alert-engine/internal/ws"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig("alert-engine")

	// Initialize logger
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogFile != "" {
		logger, err = logging.NewRotatingLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	} else {
		logger, err = logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting alert-engine service",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("tick_topic", cfg.TickTopic),
		zap.String("db_path", cfg.DBPath),
		zap.Duration("debounce_window", cfg.DebounceWindow),
	)

	// Create health checker
	healthChecker := observability.NewHealthChecker(logger)

	// Open rule and alert stores (shared SQLite file)
	ruleStore, err := rules.OpenSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open rule store", zap.Error(err))
	}
	defer ruleStore.Close()

	alertStore, err := dispatch.OpenStore(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open alert store", zap.Error(err))
	}
	defer alertStore.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rule cache with periodic refresh
	cache := rules.NewCache(ctx, ruleStore, cfg.RuleRefreshInterval, logger)
	cacheErrCh := make(chan error, 1)
	go func() {
		if err := cache.Run(ctx); err != nil && err != context.Canceled {
			cacheErrCh <- err
		}
	}()

	// Connection manager
	manager := ws.NewManager(ws.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		InboundRate:       ws.DefaultConfig().InboundRate,
	}, logger)
	managerErrCh := make(chan error, 1)
	go func() {
		if err := manager.Run(ctx); err != nil && err != context.Canceled {
			managerErrCh <- err
		}
	}()

	// Alert dispatcher with debounce and breaker-guarded channels
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}
	dispatcher := dispatch.NewDispatcher(alertStore, manager, cfg.DebounceWindow, breakerCfg, logger)

	// Fault injection applies only when CHAOS_ENABLED is set
	chaosCfg := chaos.LoadConfig()
	injector := chaos.New(chaosCfg, logger)
	addChannel := func(ch dispatch.Channel) {
		dispatcher.AddChannel(chaos.Wrap(ch, injector))
	}

	addChannel(notify.NewLogChannel(logger))
	if cfg.WebhookURL != "" {
		addChannel(notify.NewWebhookChannel(cfg.WebhookURL))
	}

	var producer *market.Producer
	if cfg.AlertTopic != "" {
		producer, err = market.NewProducer(cfg.BrokerList(), logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()
		addChannel(notify.NewKafkaChannel(producer, cfg.AlertTopic))
	}

	// Evaluation queue and engine
	evalQueue := queue.New(queue.Config{
		Capacity:       cfg.QueueCapacity,
		Policy:         queue.Policy(cfg.QueuePolicy),
		EnqueueTimeout: cfg.EnqueueTimeout,
		BatchSize:      cfg.BatchSize,
		FlushInterval:  cfg.FlushInterval,
	}, logger)

	eng := engine.New(evalQueue, cache, dispatcher, manager, logger)
	engineErrCh := make(chan error, 1)
	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			engineErrCh <- err
		}
	}()

	// Kafka consumer for ticks
	consumer, err := market.NewConsumer(cfg.BrokerList(), cfg.ConsumerGroup, []string{cfg.TickTopic}, logger)
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	consumerErrCh := make(chan error, 1)
	go func() {
		err := consumer.Run(ctx, func(ctx context.Context, tickMsg market.TickMsg) error {
			if !eng.Enqueue(tickMsg.Tick()) {
				logger.Debug("tick dropped by backpressure policy",
					zap.String("event_id", tickMsg.EventID),
					zap.String("instrument", tickMsg.Instrument),
				)
			}
			return nil
		})
		if err != nil {
			consumerErrCh <- err
		}
	}()

	// HTTP server: WebSocket upgrade plus health endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", manager.ServeWS)
	mux.HandleFunc("/healthz", healthChecker.Handler())

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: mux,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Wait for consumer to start
	time.Sleep(1 * time.Second)
	if consumer.IsRunning() {
		healthChecker.SetKafkaReady(true)
	} else {
		logger.Warn("consumer not running yet")
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	case err := <-consumerErrCh:
		logger.Error("consumer error", zap.Error(err))
	case err := <-engineErrCh:
		logger.Error("engine error", zap.Error(err))
	case err := <-managerErrCh:
		logger.Error("connection manager error", zap.Error(err))
	case err := <-cacheErrCh:
		logger.Error("rule cache error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")

	cancel()
	consumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", zap.Error(err))
	}

	logger.Info("alert-engine service stopped")
}
