// Command liqmon is the entry point for the liquidity crunch monitor. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
//
// Exit codes: 0 normal shutdown, 1 configuration error, 2 persistent external
// failure, 130 interrupted by signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/app"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/config"
)

const (
	exitOK          = 0
	exitConfig      = 1
	exitFailure     = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override operating mode (monitor, record, full)")
	var symbols []string
	flag.Func("symbol", "override a monitored symbol (repeatable)", func(v string) error {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		return nil
	})
	flag.Parse()

	// Bootstrap logger; replaced once the configured level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitConfig
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if len(symbols) > 0 {
		cfg.Symbols = symbols
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitConfig
	}

	logger.Info("liquidity monitor starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("effective_config", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	interrupted := ctx.Err() != nil

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitFailure
	case interrupted:
		logger.Info("liquidity monitor stopped on signal")
		return exitInterrupted
	default:
		logger.Info("liquidity monitor stopped")
		return exitOK
	}
}
