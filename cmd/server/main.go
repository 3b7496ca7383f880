package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/gochat-gateway/internal/app"
	"github.com/Tyrowin/gochat-gateway/internal/server"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"go.uber.org/multierr"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return exitConfig, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return exitRuntime, err
	}

	logger.Info("Starting GoChat gateway", "addr", cfg.Addr, "presence", cfg.PresenceBackend, "badger_path", cfg.BadgerPath)
	err = multierr.Append(a.Server.Run(ctx), a.Close())
	if err != nil {
		return exitRuntime, err
	}
	logger.Info("Gateway stopped")
	return exitOK, nil
}
