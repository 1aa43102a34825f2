package domain

import "time"

// DetectedTimestampLayout is the ISO-8601 layout used to serialize DetectedAt.
const DetectedTimestampLayout = time.RFC3339Nano

// SuspiciousAccount is a detection record for one (account, product) group.
// Created once per flagged group and never updated.
type SuspiciousAccount struct {
	DetectionID        string    // deterministic hash of (account, product, detected_at)
	AccountID          string    // flagged account
	ProductID          string    // instrument
	TotalBuyQty        int64     // sum of BUY TRADE_EXECUTED quantities
	TotalSellQty       int64     // sum of SELL TRADE_EXECUTED quantities
	NumCancelledOrders int       // count of ORDER_CANCELLED events
	DetectedAt         time.Time // latest event timestamp in the group
}

// DetectedTimestamp returns DetectedAt serialized as an ISO-8601 instant.
func (s *SuspiciousAccount) DetectedTimestamp() string {
	return s.DetectedAt.Format(DetectedTimestampLayout)
}

// Key returns the group key of the detection.
func (s *SuspiciousAccount) Key() GroupKey {
	return GroupKey{AccountID: s.AccountID, ProductID: s.ProductID}
}
