// Command server runs the detection HTTP service:
//   - POST /api/v1/detect runs detection over an uploaded CSV
//   - GET /api/v1/detections serves detection history
//   - GET /ws/detections streams new detections
//   - optional scheduled runs over the event store or input file
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"layering-detector/internal/alerting"
	"layering-detector/internal/app"
	"layering-detector/internal/config"
	"layering-detector/internal/ingestion"
	"layering-detector/internal/observability"
	"layering-detector/internal/pipeline"
	"layering-detector/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := config.NewFlagSet("server")
	interval := fs.Duration("interval", 0, "Scheduled detection interval (0 disables scheduled runs)")

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
	logger = logger.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, *interval); err != nil {
		logger.Error("Server error", zap.Error(err))
		return app.ExitCode(err)
	}
	logger.Info("Shutdown complete")
	return app.ExitOK
}

func serve(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, interval time.Duration) error {
	metrics := observability.NewMetrics(observability.DefaultNamespace)

	engine, err := app.NewEngine(cfg, logger, metrics)
	if err != nil {
		return err
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	hub := alerting.NewHub(logger)
	publisher, err := app.NewPublisher(cfg, logger, metrics, hub)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := pipeline.Options{
		Engine:     engine,
		Detections: stores.Detections,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logger,
	}
	if interval > 0 {
		// scheduled runs read the event store when there is one
		if stores.Events != nil {
			opts.Source = ingestion.NewStoreSource(stores.Events)
			opts.SourceName = "postgres:events"
		} else {
			opts.InputPath = cfg.Paths.Input
		}
		opts.OutputPath = cfg.Paths.Output
		opts.ReportPath = cfg.Paths.Report
	}
	runner, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := server.New(server.Options{
		Runner:     runner,
		Detections: stores.Detections,
		Hub:        hub,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if interval > 0 {
		go func() {
			if err := srv.RunScheduler(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("pipeline scheduler: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, initiating graceful shutdown...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
