package stub

import (
	"context"
	"time"

	"layering-detector/internal/domain"
)

// StubEventSource returns fixed in-memory events for testing.
// Events can be intentionally unordered to test sorting.
// Implements ingestion.EventSource interface.
type StubEventSource struct {
	events []*domain.Event
	err    error
}

// NewStubEventSource creates a new stub event source with the given events.
func NewStubEventSource(events []*domain.Event) *StubEventSource {
	return &StubEventSource{events: events}
}

// NewFailingEventSource creates a stub source whose Fetch always returns err.
func NewFailingEventSource(err error) *StubEventSource {
	return &StubEventSource{err: err}
}

// Fetch returns events in the time range [from, to]; zero bounds are open.
// Returns copies to prevent mutation.
func (s *StubEventSource) Fetch(_ context.Context, from, to time.Time) ([]*domain.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	var result []*domain.Event
	for _, e := range s.events {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		copy := *e
		result = append(result, &copy)
	}
	return result, nil
}
