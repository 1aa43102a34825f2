package reporting

import "time"

// Summary is the run report of one detection pass.
type Summary struct {
	// Metadata
	RunID       string
	GeneratedAt time.Time
	Input       string

	Config ConfigSection

	// Counts
	EventCount   int
	GroupCount   int
	FlaggedCount int
	ReasonCounts []ReasonCount // sorted by reason

	// Flagged groups in detection order
	Flagged []FlaggedRow
}

// ConfigSection lists the thresholds the run used.
type ConfigSection struct {
	OrderWindow         time.Duration
	CancellationWindow  time.Duration
	OppositeTradeWindow time.Duration
	MinOrdersSameSide   int
	AlwaysSuspicious    []string
}

// ReasonCount is the number of groups that ended with a given reason.
type ReasonCount struct {
	Reason string
	Count  int
}

// FlaggedRow is one detection with the rule that produced it.
type FlaggedRow struct {
	AccountID          string
	ProductID          string
	Reason             string
	Side               string // layered side; empty for always-suspicious
	TotalBuyQty        int64
	TotalSellQty       int64
	NumCancelledOrders int
	DetectedTimestamp  string
	PriorDetections    int // detections of the same account already in history
}
