package ingestion

import (
	"errors"
	"sort"

	"layering-detector/internal/domain"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortEvents orders events by (account_id ASC, product_id ASC, timestamp ASC).
// The sort is stable: events with equal keys keep their input order.
func SortEvents(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// ValidateEventOrdering checks if events are sorted by
// (account_id, product_id, timestamp). Equal keys are allowed.
// Returns ErrInvalidOrdering if not.
func ValidateEventOrdering(events []*domain.Event) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) > 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (account_id ASC, product_id ASC, timestamp ASC)
func compareEvents(a, b *domain.Event) int {
	if a.AccountID != b.AccountID {
		if a.AccountID < b.AccountID {
			return -1
		}
		return 1
	}
	if a.ProductID != b.ProductID {
		if a.ProductID < b.ProductID {
			return -1
		}
		return 1
	}
	return a.Timestamp.Compare(b.Timestamp)
}
