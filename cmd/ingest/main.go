// Command ingest loads a transaction CSV into the PostgreSQL event store so
// detection can later run against stored events (detect --from-store).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"layering-detector/internal/app"
	"layering-detector/internal/config"
	"layering-detector/internal/ingestion"
	"layering-detector/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := config.NewFlagSet("ingest")
	cfg, err := config.Load(fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		return app.ExitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return app.ExitCode(err)
	}

	logger, closeLog, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "File error: %v\n", err)
		return app.ExitFileError
	}
	defer closeLog()
	logger = logger.Named("ingest")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	count, err := ingest(ctx, cfg, logger)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		logger.Error("Events already ingested", zap.String("input", cfg.Paths.Input), zap.Error(err))
		return app.ExitDataError
	case err != nil:
		logger.Error("Ingestion failed", zap.Error(err))
		return app.ExitCode(err)
	}

	logger.Info("Ingestion complete", zap.String("input", cfg.Paths.Input), zap.Int("events", count))
	return app.ExitOK
}

func ingest(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (int, error) {
	if cfg.Postgres.DSN == "" {
		return 0, fmt.Errorf("%w: --postgres-dsn is required", config.ErrInvalid)
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer stores.Close()

	logger.Info("Loading transaction data...", zap.String("input", cfg.Paths.Input))
	mgr := ingestion.NewManager(ingestion.ManagerOptions{
		Source: ingestion.NewCSVSource(cfg.Paths.Input),
		Store:  stores.Events,
	})
	return mgr.IngestEvents(ctx, time.Time{}, time.Time{})
}
