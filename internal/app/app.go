// Package app wires configuration into the components shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"layering-detector/internal/alerting"
	"layering-detector/internal/config"
	"layering-detector/internal/detection"
	"layering-detector/internal/ingestion"
	"layering-detector/internal/logging"
	"layering-detector/internal/observability"
	"layering-detector/internal/storage"
	chstore "layering-detector/internal/storage/clickhouse"
	"layering-detector/internal/storage/memory"
	"layering-detector/internal/storage/migrations"
	pgstore "layering-detector/internal/storage/postgres"
)

// Process exit codes of the commands.
const (
	ExitOK         = 0
	ExitFileError  = 1 // input file missing or unreadable
	ExitDataError  = 2 // invalid input data or configuration
	ExitUnexpected = 3
)

// ExitCode maps a run error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ingestion.ErrFileNotFound):
		return ExitFileError
	case ingestion.IsDataError(err),
		errors.Is(err, ingestion.ErrInvalidOrdering),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, detection.ErrInvalidConfig):
		return ExitDataError
	default:
		return ExitUnexpected
	}
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg *config.AppConfig) (*zap.Logger, func() error, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Paths.LogFile,
		Format: cfg.Log.Format,
	})
}

// NewEngine builds a detection engine from cfg. metrics may be nil.
func NewEngine(cfg *config.AppConfig, logger *zap.Logger, metrics *observability.Metrics) (*detection.Engine, error) {
	dc, err := cfg.DetectionConfig()
	if err != nil {
		return nil, err
	}
	opts := []detection.EngineOption{
		detection.WithLogger(logger),
		detection.WithWorkers(cfg.Detection.Workers),
	}
	if metrics != nil {
		opts = append(opts, detection.WithRecorder(metrics))
	}
	return detection.NewEngine(dc, opts...)
}

// Stores holds the storage backends selected by configuration.
type Stores struct {
	// Events is nil unless PostgreSQL is configured.
	Events     storage.EventStore
	Detections storage.DetectionStore
	// Persistent reports whether detections survive the process.
	Persistent bool

	closers []func()
}

// Close releases every connection.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects the configured databases and applies migrations.
// PostgreSQL holds events and detections; ClickHouse mirrors detections for
// analytics, or holds them alone when PostgreSQL is not configured. Without
// either, detections are kept in memory.
func OpenStores(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Stores, error) {
	s := &Stores{}

	var pgDetections, chDetections storage.DetectionStore

	if cfg.Postgres.DSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("PostgreSQL ready", zap.Strings("migrations", applied))

		s.Events = pgstore.NewEventStore(pool)
		pgDetections = pgstore.NewDetectionStore(pool)
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		logger.Info("ClickHouse ready")

		chDetections = chstore.NewDetectionStore(conn)
	}

	switch {
	case pgDetections != nil && chDetections != nil:
		s.Detections = storage.NewMirroredDetectionStore(pgDetections, chDetections, func(op string, err error) {
			logger.Warn("ClickHouse mirror write failed", zap.String("op", op), zap.Error(err))
		})
	case pgDetections != nil:
		s.Detections = pgDetections
	case chDetections != nil:
		s.Detections = chDetections
	default:
		s.Detections = memory.NewDetectionStore()
	}
	s.Persistent = pgDetections != nil || chDetections != nil
	return s, nil
}

// NewPublisher builds the alert fan-out: Kafka when brokers are configured,
// plus any extra sinks such as a WebSocket hub. metrics may be nil.
func NewPublisher(cfg *config.AppConfig, logger *zap.Logger, metrics *observability.Metrics, extra ...alerting.Publisher) (*alerting.MultiPublisher, error) {
	var sinks []alerting.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := alerting.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kp)
		logger.Info("Kafka alerts enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	sinks = append(sinks, extra...)

	var recorder alerting.Recorder
	if metrics != nil {
		recorder = metrics
	}
	return alerting.NewMultiPublisher(logger, recorder, sinks...), nil
}
