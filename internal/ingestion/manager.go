package ingestion

import (
	"context"
	"fmt"
	"time"

	"layering-detector/internal/storage"
)

// Manager moves events from a source into an event store.
// It enforces deterministic ordering and uses storage layer for duplicate rejection.
type Manager struct {
	source EventSource
	store  storage.EventStore
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Source EventSource
	Store  storage.EventStore
}

// NewManager creates a new ingestion manager with the provided source and store.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		source: opts.Source,
		store:  opts.Store,
	}
}

// IngestEvents fetches events in [from, to] from the source and stores them.
// Enforces deterministic ordering by (account_id, product_id, timestamp).
// Returns count of ingested events and any error.
// Duplicates are rejected by the storage layer (ErrDuplicateKey).
func (m *Manager) IngestEvents(ctx context.Context, from, to time.Time) (int, error) {
	if m.source == nil || m.store == nil {
		return 0, nil
	}

	events, err := m.source.Fetch(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("fetch events: %w", err)
	}

	if len(events) == 0 {
		return 0, nil
	}

	// Enforce deterministic ordering
	SortEvents(events)

	// Store via bulk insert - storage layer handles duplicates
	if err := m.store.InsertBulk(ctx, events); err != nil {
		return 0, fmt.Errorf("store events: %w", err)
	}

	return len(events), nil
}
