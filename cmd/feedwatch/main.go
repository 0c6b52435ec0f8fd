// feedwatch connects to a market-data feed and streams parsed messages
// to the console.
//
// Usage: go run ./cmd/feedwatch --url wss://feed.example.com/ws --symbols AAPL,MSFT
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tradeview/marketfeed/internal/feed"
	"github.com/tradeview/marketfeed/internal/model"
	"github.com/tradeview/marketfeed/internal/version"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "feed WebSocket URL")
	symbols := flag.String("symbols", "AAPL", "comma-separated symbols to watch")
	reconnectInterval := flag.Duration("reconnect-interval", 3*time.Second, "wait between reconnect attempts")
	maxAttempts := flag.Int("max-reconnect-attempts", 5, "reconnect attempts before giving up")
	pingEvery := flag.Duration("ping-interval", 30*time.Second, "liveness ping interval")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedwatch",
		"version", version.Version,
		"url", *url,
		"symbols", *symbols,
	)

	cfg := feed.DefaultConfig(*url)
	cfg.ReconnectInterval = *reconnectInterval
	cfg.MaxReconnectAttempts = *maxAttempts
	cfg.AutoConnect = false

	client := feed.New(cfg, logger)

	client.Handle(model.TypePriceUpdate, func(msg feed.Message) {
		if *verbose {
			fmt.Printf("%s %s\n", msg.Type, msg.Raw)
			return
		}
		var update model.PriceUpdate
		if err := json.Unmarshal(payloadOf(msg), &update); err != nil {
			logger.Warn("bad price update", "error", err)
			return
		}
		fmt.Printf("%-8s price=%.4f bid=%.4f ask=%.4f vol=%d\n",
			update.Symbol, update.Price, update.Bid, update.Ask, update.Volume)
	})

	client.Handle(model.TypeTrade, func(msg feed.Message) {
		if *verbose {
			fmt.Printf("%s %s\n", msg.Type, msg.Raw)
			return
		}
		var trade model.TradePrint
		if err := json.Unmarshal(payloadOf(msg), &trade); err != nil {
			logger.Warn("bad trade", "error", err)
			return
		}
		fmt.Printf("%-8s trade %s %d @ %.4f\n",
			trade.Symbol, trade.Side, trade.Size, trade.Price)
	})

	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		client.Subscribe(feed.SymbolSubscription("price", symbol))
		client.Subscribe(feed.SymbolSubscription("trade", symbol))
	}

	client.Connect()

	// Liveness pings while running
	pingTicker := time.NewTicker(*pingEvery)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			client.Ping()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	client.Disconnect()

	state := client.State()
	logger.Info("feedwatch stopped",
		"status", state.Status,
		"parse_errors", state.ParseErrors,
	)
}

// payloadOf returns the message payload, falling back to the full frame
// for deployments that put fields at the top level.
func payloadOf(msg feed.Message) []byte {
	if len(msg.Payload) > 0 {
		return msg.Payload
	}
	return msg.Raw
}
