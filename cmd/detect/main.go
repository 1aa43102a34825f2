// Command detect runs layering detection over a transaction CSV and writes the
// suspicious accounts file.
//
// Exit codes: 0 success, 1 file error, 2 data or configuration error,
// 3 unexpected error.
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
	"layering-detector/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := config.NewFlagSet("detect")
	fromStore := fs.Bool("from-store", false, "Read events from the PostgreSQL event store instead of --input")
	fromTime := fs.String("from", "", "Start of the event time range (inclusive)")
	toTime := fs.String("to", "", "End of the event time range (inclusive)")

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = detect(ctx, cfg, logger, *fromStore, *fromTime, *toTime)
	code := app.ExitCode(err)
	switch code {
	case app.ExitOK:
	case app.ExitFileError:
		logger.Error("File error", zap.Error(err))
	case app.ExitDataError:
		logger.Error("Data error", zap.Error(err))
	default:
		logger.Error("Unexpected error", zap.Error(err))
	}
	return code
}

func detect(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, fromStore bool, fromTime, toTime string) error {
	from, to, err := parseRange(fromTime, toTime)
	if err != nil {
		return err
	}

	engine, err := app.NewEngine(cfg, logger, nil)
	if err != nil {
		return err
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	publisher, err := app.NewPublisher(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := pipeline.Options{
		Engine:     engine,
		InputPath:  cfg.Paths.Input,
		From:       from,
		To:         to,
		OutputPath: cfg.Paths.Output,
		ReportPath: cfg.Paths.Report,
		Publisher:  publisher,
		Logger:     logger,
	}
	if stores.Persistent {
		opts.Detections = stores.Detections
	}
	if fromStore {
		if stores.Events == nil {
			return fmt.Errorf("%w: --from-store needs --postgres-dsn", config.ErrInvalid)
		}
		opts.Source = ingestion.NewStoreSource(stores.Events)
		opts.SourceName = "postgres:events"
	}

	runner, err := pipeline.New(opts)
	if err != nil {
		return err
	}
	_, err = runner.Run(ctx)
	return err
}

func parseRange(fromTime, toTime string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromTime != "" {
		if from, err = ingestion.ParseTimestamp(fromTime); err != nil {
			return from, to, fmt.Errorf("%w: --from: %v", config.ErrInvalid, err)
		}
	}
	if toTime != "" {
		if to, err = ingestion.ParseTimestamp(toTime); err != nil {
			return from, to, fmt.Errorf("%w: --to: %v", config.ErrInvalid, err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("%w: --to is before --from", config.ErrInvalid)
	}
	return from, to, nil
}
