package storage

import (
	"layering-detector/internal/domain"
	"layering-detector/internal/idhash"
)

// EventKey returns the storage key of an event. All EventStore implementations
// use it so a feed ingested twice is rejected the same way everywhere.
func EventKey(e *domain.Event) string {
	return idhash.ComputeEventID(
		e.AccountID,
		e.ProductID,
		e.Timestamp,
		e.Seq,
		e.EventType.String(),
		e.Side.String(),
	)
}

// ValidateEvent checks the fields every stored event must carry.
func ValidateEvent(e *domain.Event) error {
	if e == nil || e.AccountID == "" || e.ProductID == "" {
		return ErrInvalidInput
	}
	if !e.Side.IsValid() || !e.EventType.IsValid() || e.Quantity < 0 {
		return ErrInvalidInput
	}
	return nil
}

// ValidateDetection checks the fields every stored detection must carry.
func ValidateDetection(d *domain.SuspiciousAccount) error {
	if d == nil || d.DetectionID == "" || d.AccountID == "" || d.ProductID == "" {
		return ErrInvalidInput
	}
	return nil
}
