package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Event // keyed by storage.EventKey
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.Event),
	}
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	keys := make([]string, len(events))
	batchKeys := make(map[string]struct{}, len(events))

	// First pass: validate and check for duplicates (existing + intra-batch)
	for i, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
		key := storage.EventKey(e)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
		keys[i] = key
	}

	// Second pass: insert all
	for i, e := range events {
		copy := *e
		s.data[keys[i]] = &copy
	}

	return nil
}

// GetAll retrieves all events, ordered by (account_id, product_id, timestamp, seq) ASC.
func (s *EventStore) GetAll(_ context.Context) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Event, 0, len(s.data))
	for _, e := range s.data {
		copy := *e
		result = append(result, &copy)
	}

	sortEvents(result)
	return result, nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortEvents(result)
	return result, nil
}

func sortEvents(events []*domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
}

var _ storage.EventStore = (*EventStore)(nil)
