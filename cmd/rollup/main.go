// Package main runs a single rollup refresh against the Postgres click log
// and exits. It is meant for cron jobs and backfills when the API's
// built-in scheduler is disabled.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clicklens/clicklens/internal/aggregate"
	"github.com/clicklens/clicklens/internal/config"
	"github.com/clicklens/clicklens/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.UsesPostgres() {
		logger.Error("rollup job requires STORE_DRIVER=postgres", "store_driver", cfg.StoreDriver)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("rollup refresh failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.AggregationTimeout)
	defer cancel()

	engine := aggregate.NewEngine(
		repository.NewClickEventRepository(repo),
		repository.NewRollupRepository(repo),
		logger,
		nil,
	)
	engine.SetLocation(loc)

	result, err := engine.Refresh(ctx)
	if err != nil {
		return err
	}

	logger.Info("rollup job complete", "rows", result.Rows)
	return nil
}
