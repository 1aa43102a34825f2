package alerting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MultiPublisher fans alerts out to several sinks. A failing sink does not stop
// the others; Publish fails only when every sink failed.
type MultiPublisher struct {
	publishers []Publisher
	logger     *zap.Logger
	recorder   Recorder
}

// NewMultiPublisher creates a fan-out publisher. Nil publishers are skipped.
func NewMultiPublisher(logger *zap.Logger, recorder Recorder, publishers ...Publisher) *MultiPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiPublisher{logger: logger, recorder: recorder}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Name returns "multi".
func (m *MultiPublisher) Name() string { return "multi" }

// Len returns the number of sinks.
func (m *MultiPublisher) Len() int { return len(m.publishers) }

// Publish delivers alerts to every sink.
func (m *MultiPublisher) Publish(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 || len(m.publishers) == 0 {
		return nil
	}

	var lastErr error
	successCount := 0
	for _, p := range m.publishers {
		err := p.Publish(ctx, alerts)
		if m.recorder != nil {
			m.recorder.RecordAlert(p.Name(), err)
		}
		if err != nil {
			m.logger.Error("failed to publish alerts",
				zap.String("sink", p.Name()),
				zap.Int("count", len(alerts)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		successCount++
	}

	m.logger.Info("published alerts",
		zap.Int("count", len(alerts)),
		zap.Int("sinks_success", successCount),
		zap.Int("sinks_total", len(m.publishers)),
	)

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// Close closes every sink.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
