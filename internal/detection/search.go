package detection

import (
	"time"

	"layering-detector/internal/domain"
)

// sideOrder is the fixed order in which sides are searched.
var sideOrder = [...]domain.Side{domain.SideBuy, domain.SideSell}

// Match describes the first layering instance found in a group.
type Match struct {
	Side        domain.Side // side of the layered orders
	WindowStart time.Time   // first order of the window
	WindowEnd   time.Time   // last order of the window
	LastCancel  time.Time   // latest cancellation at or after WindowStart
	TradeAt     time.Time   // opposite-side trade that completed the pattern
}

// Span returns the time covered by the window of layered orders.
func (m *Match) Span() time.Duration {
	return m.WindowEnd.Sub(m.WindowStart)
}

// partitioned holds a group's events split by event type, original order preserved.
type partitioned struct {
	placed    []*domain.Event
	cancelled []*domain.Event
	traded    []*domain.Event
}

func splitByType(events []*domain.Event) partitioned {
	var p partitioned
	for _, e := range events {
		switch e.EventType {
		case domain.EventOrderPlaced:
			p.placed = append(p.placed, e)
		case domain.EventOrderCancelled:
			p.cancelled = append(p.cancelled, e)
		case domain.EventTradeExecuted:
			p.traded = append(p.traded, e)
		}
	}
	return p
}

// findLayering runs the windowed layering search over one group.
// It stops at the first qualifying window and trade: BUY windows are tried
// before SELL, windows by ascending start index.
func findLayering(cfg Config, events []*domain.Event) (*Match, Reason) {
	p := splitByType(events)
	n := cfg.MinOrdersSameSide

	if len(p.placed) < n {
		return nil, ReasonInsufficientOrders
	}

	for _, side := range sideOrder {
		sameSide := filterSide(p.placed, side)
		if len(sameSide) < n {
			continue
		}

		for i := 0; i+n <= len(sameSide); i++ {
			window := sameSide[i : i+n]
			first, last := window[0], window[n-1]

			if last.Timestamp.Sub(first.Timestamp) > cfg.OrderWindow {
				continue
			}

			if !allCancelledWithin(window, p.cancelled, cfg.CancellationWindow) {
				continue
			}

			lastCancel, ok := latestCancelSince(p.cancelled, first.Timestamp)
			if !ok {
				continue
			}

			trade := firstOppositeTrade(p.traded, side.Opposite(), lastCancel, cfg.OppositeTradeWindow)
			if trade == nil {
				continue
			}

			return &Match{
				Side:        side,
				WindowStart: first.Timestamp,
				WindowEnd:   last.Timestamp,
				LastCancel:  lastCancel,
				TradeAt:     trade.Timestamp,
			}, ReasonLayering
		}
	}

	return nil, ReasonNoPattern
}

func filterSide(events []*domain.Event, side domain.Side) []*domain.Event {
	var out []*domain.Event
	for _, e := range events {
		if e.Side == side {
			out = append(out, e)
		}
	}
	return out
}

// allCancelledWithin reports whether every order has at least one cancellation
// (of any side) in [order.ts, order.ts+window].
func allCancelledWithin(orders, cancels []*domain.Event, window time.Duration) bool {
	for _, o := range orders {
		deadline := o.Timestamp.Add(window)
		found := false
		for _, c := range cancels {
			if !c.Timestamp.Before(o.Timestamp) && !c.Timestamp.After(deadline) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// latestCancelSince returns the maximum cancellation timestamp >= since.
func latestCancelSince(cancels []*domain.Event, since time.Time) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, c := range cancels {
		if c.Timestamp.Before(since) {
			continue
		}
		if !found || c.Timestamp.After(latest) {
			latest = c.Timestamp
			found = true
		}
	}
	return latest, found
}

// firstOppositeTrade returns the first trade on side whose gap from lastCancel is in [0, window].
func firstOppositeTrade(trades []*domain.Event, side domain.Side, lastCancel time.Time, window time.Duration) *domain.Event {
	for _, t := range trades {
		if t.Side != side {
			continue
		}
		gap := t.Timestamp.Sub(lastCancel)
		if gap >= 0 && gap <= window {
			return t
		}
	}
	return nil
}
