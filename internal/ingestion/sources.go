package ingestion

import (
	"context"
	"time"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

// EventSource provides raw market events.
type EventSource interface {
	// Fetch returns events within [from, to] (inclusive). A zero bound is open.
	// Events may be unordered; Manager enforces deterministic ordering.
	Fetch(ctx context.Context, from, to time.Time) ([]*domain.Event, error)
}

// CSVSource reads events from a CSV file on every Fetch.
type CSVSource struct {
	Path string
}

// NewCSVSource creates a source backed by the CSV file at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Fetch loads the file and returns the events inside [from, to].
func (s *CSVSource) Fetch(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, err := LoadCSV(s.Path)
	if err != nil {
		return nil, err
	}
	return FilterTimeRange(events, from, to), nil
}

// endOfTime bounds open-ended store queries within database timestamp range.
var endOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// StoreSource reads previously ingested events from an EventStore.
type StoreSource struct {
	Store storage.EventStore
}

// NewStoreSource creates a source backed by store.
func NewStoreSource(store storage.EventStore) *StoreSource {
	return &StoreSource{Store: store}
}

// Fetch returns stored events inside [from, to]; with both bounds zero it returns all.
func (s *StoreSource) Fetch(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	if from.IsZero() && to.IsZero() {
		return s.Store.GetAll(ctx)
	}
	if to.IsZero() {
		to = endOfTime
	}
	return s.Store.GetByTimeRange(ctx, from, to)
}

// FilterTimeRange returns the events with timestamps in [from, to].
// A zero from or to leaves that side unbounded.
func FilterTimeRange(events []*domain.Event, from, to time.Time) []*domain.Event {
	if from.IsZero() && to.IsZero() {
		return events
	}
	var result []*domain.Event
	for _, e := range events {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		result = append(result, e)
	}
	return result
}
