package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgerkeep/ledgerkeep/internal/server"
	"github.com/ledgerkeep/ledgerkeep/pkg/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	deps, err := InitDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	if err := deps.Scheduler.Start(); err != nil {
		return err
	}
	defer func() { <-deps.Scheduler.Stop().Done() }()

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr(),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RequestsPerSec:  float64(cfg.Server.RateLimitPerSecond),
		RequestBurst:    cfg.Server.RateLimitBurst,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps.Auth, logger,
		deps.ImportHandler.Routes,
		deps.TransactionHandler.Routes,
	)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("server stopped")
	return nil
}
