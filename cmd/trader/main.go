// Command trader runs the single-instrument algorithmic crypto-trading
// engine: a live market-data feed (or a CSV backtest replay) drives the
// market-metrics engine, which the strategy mux and paper broker consume
// to size and simulate orders.
//
// Configuration:
//
//	CONFIG_PATH              — strategy config JSON (default configs/config.json)
//	PRODUCT                  — traded product, e.g. BTC-USD
//	EXPORT_BUCKET            — directory for the CSV archive sink (empty disables it)
//	METRICS_ADDR             — address to serve Prometheus metrics on (empty disables it)
//	WS_URL                   — live feed WebSocket URL; falls back to
//	                           COINBASE_API_BASE_URL when unset (ignored in backtest mode)
//	BACKTEST_DIR             — CSV folder to replay; selects backtest mode when set
//	BACKTEST_REAL_TIME_FACTOR — replay speed multiplier (default 1)
//	BACKTEST_INTERVAL_SECONDS — replay tick width in seconds (default 1)
//	LOG_LEVEL, LOG_FORMAT    — as read by the logging setup below
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cryptotrader/internal/config"
	"cryptotrader/internal/engine"
)

func main() {
	logger := newLogger()

	env := config.LoadEnv()
	if env.Product == "" {
		logger.Error("PRODUCT environment variable is required")
		os.Exit(1)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.json"
	}

	wsURL := os.Getenv("WS_URL")
	if wsURL == "" {
		wsURL = env.CoinbaseAPIBase
	}

	eng, err := engine.New(engine.Config{
		Product:        env.Product,
		ConfigPath:     cfgPath,
		ExportDir:      env.ExportBucket,
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		BacktestDir:    os.Getenv("BACKTEST_DIR"),
		WSURL:          wsURL,
		RealTimeFactor: envFloat("BACKTEST_REAL_TIME_FACTOR", 1),
		ReplayInterval: time.Duration(envFloat("BACKTEST_INTERVAL_SECONDS", 1) * float64(time.Second)),
	}, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("trader started", "product", env.Product)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(os.Getenv("LOG_LEVEL"))}
	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envFloat(name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
