// Imbalance Sentinel — cross-venue market-data pipeline that watches a
// CEX order book for depth imbalances and records how the tracked
// prediction market's odds react.
//
// Architecture:
//
//	main.go               — entry point: config, logger, engine, signal handling
//	engine/engine.go      — task composition: CEX reader, PME controller, coordinator
//	engine/coordinator.go — event fusion: three channels, alert gating, sessions, reports
//	sbe/                  — binary SBE frame decoder with lazy depth views
//	cex/                  — CEX combined-stream WebSocket reader
//	pme/                  — PME auth, WebSocket protocol, REST bootstrap, market rollover
//	book/                 — shared per-market order books with derived asks
//	imbalance/            — depth-imbalance detector feeding the alert queue
//	db/                   — optional Postgres persistence of recorded observations
//
// What it produces: one report file per imbalance alert, listing the
// alert's depth ratios and every change of the prediction market's
// top-of-book during the 15-second observation window that follows.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"imbalance-sentinel/internal/config"
	"imbalance-sentinel/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SENTINEL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	logger.Info("🦈 imbalance sentinel started",
		"cex_symbols", cfg.CEX.TrackedSymbols,
		"pme_series", cfg.PME.TrackedSymbols,
		"report_dir", cfg.Reports.Dir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil {
		logger.Error("pipeline terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
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
