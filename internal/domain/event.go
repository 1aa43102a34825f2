package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the side of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// EventType represents the kind of market event.
type EventType string

const (
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks if the event type is a valid value.
func (t EventType) IsValid() bool {
	switch t {
	case EventOrderPlaced, EventOrderCancelled, EventTradeExecuted:
		return true
	}
	return false
}

// Event represents one order/cancel/trade event for an account on a product.
// Events are immutable once loaded.
type Event struct {
	Timestamp time.Time       // event time
	AccountID string          // trading account
	ProductID string          // instrument
	Side      Side            // BUY | SELL
	Price     decimal.Decimal // carried through, not used by detection
	Quantity  int64           // non-negative
	EventType EventType       // ORDER_PLACED | ORDER_CANCELLED | TRADE_EXECUTED
	Seq       int64           // 1-based position in the source feed, 0 if unknown
}

// Key returns the (account, product) group key of the event.
func (e *Event) Key() GroupKey {
	return GroupKey{AccountID: e.AccountID, ProductID: e.ProductID}
}

// GroupKey identifies all events of one account on one product.
type GroupKey struct {
	AccountID string
	ProductID string
}

// String returns "account/product".
func (k GroupKey) String() string {
	return k.AccountID + "/" + k.ProductID
}
