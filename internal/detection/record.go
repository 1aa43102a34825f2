package detection

import (
	"layering-detector/internal/domain"
	"layering-detector/internal/idhash"
)

// BuildRecord builds the detection record for a whole group.
// Trade quantities are summed per side, cancellations are counted and
// DetectedAt is the latest timestamp in the group.
func BuildRecord(key domain.GroupKey, events []*domain.Event) *domain.SuspiciousAccount {
	rec := &domain.SuspiciousAccount{
		AccountID: key.AccountID,
		ProductID: key.ProductID,
	}

	for i, e := range events {
		if i == 0 || e.Timestamp.After(rec.DetectedAt) {
			rec.DetectedAt = e.Timestamp
		}

		switch e.EventType {
		case domain.EventTradeExecuted:
			switch e.Side {
			case domain.SideBuy:
				rec.TotalBuyQty += e.Quantity
			case domain.SideSell:
				rec.TotalSellQty += e.Quantity
			}
		case domain.EventOrderCancelled:
			rec.NumCancelledOrders++
		}
	}

	rec.DetectionID = idhash.ComputeDetectionID(rec.AccountID, rec.ProductID, rec.DetectedAt)
	return rec
}
