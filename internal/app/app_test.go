package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"layering-detector/internal/config"
	"layering-detector/internal/detection"
	"layering-detector/internal/ingestion"
	"layering-detector/internal/storage/memory"
)

func defaultConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Load(config.NewFlagSet("test"), []string{"--env-file", ""})
	require.NoError(t, err)
	return cfg
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"file not found", fmt.Errorf("load events: %w", ingestion.ErrFileNotFound), ExitFileError},
		{"data error", fmt.Errorf("load events: %w", &ingestion.DataError{Line: 3, Err: ingestion.ErrInvalidSide}), ExitDataError},
		{"ordering", ingestion.ErrInvalidOrdering, ExitDataError},
		{"bad config", fmt.Errorf("%w: ORDER_WINDOW", config.ErrInvalid), ExitDataError},
		{"bad thresholds", &detection.ValidationError{Field: "ORDER_WINDOW", Constraint: "must be positive"}, ExitDataError},
		{"other", errors.New("disk full"), ExitUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestNewEngine(t *testing.T) {
	cfg := defaultConfig(t)
	engine, err := NewEngine(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.Equal(t, detection.DefaultOrderWindow, engine.Config().OrderWindow)

	cfg.Detection.MinOrdersSameSide = 1
	_, err = NewEngine(cfg, zaptest.NewLogger(t), nil)
	assert.Equal(t, ExitDataError, ExitCode(err))
}

func TestOpenStores_InMemory(t *testing.T) {
	stores, err := OpenStores(context.Background(), defaultConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer stores.Close()

	assert.Nil(t, stores.Events)
	assert.IsType(t, &memory.DetectionStore{}, stores.Detections)
	assert.False(t, stores.Persistent)
}

func TestNewPublisher(t *testing.T) {
	cfg := defaultConfig(t)
	p, err := NewPublisher(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.Zero(t, p.Len())

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	p, err = NewPublisher(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	require.NoError(t, p.Close())

	cfg.Kafka.Topic = ""
	_, err = NewPublisher(cfg, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}
