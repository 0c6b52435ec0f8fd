// recorder connects to a market-data feed, subscribes to the configured
// symbols and persists every price update to the ticks table.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeview/marketfeed/internal/config"
	"github.com/tradeview/marketfeed/internal/database"
	"github.com/tradeview/marketfeed/internal/feed"
	"github.com/tradeview/marketfeed/internal/model"
	"github.com/tradeview/marketfeed/internal/store"
	"github.com/tradeview/marketfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/recorder.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.URL,
		"symbols", len(cfg.Feed.Symbols),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Tick writer
	writer := store.NewTickWriter(store.WriterConfig{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
	}, pool, logger)

	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start tick writer", "error", err)
		os.Exit(1)
	}

	// Feed client
	feedCfg := feed.DefaultConfig(cfg.Feed.URL)
	feedCfg.ReconnectInterval = cfg.Feed.ReconnectInterval
	feedCfg.MaxReconnectAttempts = cfg.Feed.MaxReconnectAttempts
	feedCfg.PingInterval = cfg.Feed.PingInterval
	feedCfg.AutoConnect = false

	client := feed.New(feedCfg, logger)
	client.Handle(model.TypePriceUpdate, writer.Handler())

	for _, symbol := range cfg.Feed.Symbols {
		client.Subscribe(feed.SymbolSubscription("price", symbol))
	}

	if *cfg.Feed.AutoConnect {
		client.Connect()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Periodic status reporting
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				state := client.State()
				stats := writer.Stats()
				logger.Info("status",
					"feed_status", state.Status,
					"session_id", state.SessionID,
					"reconnect_attempts", state.ReconnectAttempts,
					"parse_errors", state.ParseErrors,
					"inserts", stats.Inserts,
					"conflicts", stats.Conflicts,
					"flushes", stats.Flushes,
				)
			}
		}
	})

	// Block until shutdown signal
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("runtime error", "error", err)
	}

	logger.Info("shutting down")

	client.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := writer.Stop(shutdownCtx); err != nil {
		logger.Error("tick writer shutdown failed", "error", err)
	}

	logger.Info("recorder stopped")
}
