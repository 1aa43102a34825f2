// Package storage defines the event and detection stores shared by the
// memory, postgres and clickhouse backends.
package storage

import (
	"context"
	"time"

	"layering-detector/internal/domain"
)

// EventStore provides access to market events storage.
type EventStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
	// Events are keyed by (account_id, product_id, timestamp, seq, event_type, side).
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetAll retrieves all events, ordered by (account_id, product_id, timestamp, seq) ASC.
	GetAll(ctx context.Context) ([]*domain.Event, error)

	// GetByTimeRange retrieves events with timestamp within [start, end] (inclusive),
	// ordered like GetAll.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Event, error)
}

// DetectionStore provides access to detection history storage.
// Detections are append-only: a detection_id can be written once.
type DetectionStore interface {
	// Insert adds a new detection. Returns ErrDuplicateKey if detection_id exists.
	Insert(ctx context.Context, d *domain.SuspiciousAccount) error

	// InsertBulk adds multiple detections atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, detections []*domain.SuspiciousAccount) error

	// GetByID retrieves a detection by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, detectionID string) (*domain.SuspiciousAccount, error)

	// GetByAccount retrieves all detections for an account, ordered by
	// (detected_at ASC, product_id ASC).
	GetByAccount(ctx context.Context, accountID string) ([]*domain.SuspiciousAccount, error)

	// GetAll retrieves all detections, ordered by (account_id, product_id, detected_at) ASC.
	GetAll(ctx context.Context) ([]*domain.SuspiciousAccount, error)
}
