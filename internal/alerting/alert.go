// Package alerting publishes detection alerts to downstream sinks.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"layering-detector/internal/domain"
)

// Alert is the JSON payload published for every flagged group.
type Alert struct {
	AlertID            string    `json:"alert_id"`
	RunID              string    `json:"run_id"`
	DetectionID        string    `json:"detection_id"`
	Reason             string    `json:"reason"`
	AccountID          string    `json:"account_id"`
	ProductID          string    `json:"product_id"`
	TotalBuyQty        int64     `json:"total_buy_qty"`
	TotalSellQty       int64     `json:"total_sell_qty"`
	NumCancelledOrders int       `json:"num_cancelled_orders"`
	DetectedTimestamp  string    `json:"detected_timestamp"`
	PublishedAt        time.Time `json:"published_at"`
}

// NewAlert builds the alert for a detection record.
func NewAlert(runID, reason string, d *domain.SuspiciousAccount, now time.Time) Alert {
	return Alert{
		AlertID:            uuid.NewString(),
		RunID:              runID,
		DetectionID:        d.DetectionID,
		Reason:             reason,
		AccountID:          d.AccountID,
		ProductID:          d.ProductID,
		TotalBuyQty:        d.TotalBuyQty,
		TotalSellQty:       d.TotalSellQty,
		NumCancelledOrders: d.NumCancelledOrders,
		DetectedTimestamp:  d.DetectedTimestamp(),
		PublishedAt:        now.UTC(),
	}
}

// Publisher delivers alerts to one sink.
type Publisher interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Publish(ctx context.Context, alerts []Alert) error
	Close() error
}

// Recorder receives per-sink publish outcomes.
type Recorder interface {
	RecordAlert(sink string, err error)
}
