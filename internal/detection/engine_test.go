package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"layering-detector/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// ev builds an event offset from t0.
func ev(offset time.Duration, account, product string, side domain.Side, typ domain.EventType, qty int64) *domain.Event {
	return &domain.Event{
		Timestamp: t0.Add(offset),
		AccountID: account,
		ProductID: product,
		Side:      side,
		Price:     decimal.NewFromInt(100),
		Quantity:  qty,
		EventType: typ,
	}
}

func placed(offset time.Duration, side domain.Side) *domain.Event {
	return ev(offset, "ACC001", "IBM", side, domain.EventOrderPlaced, 1000)
}

func cancelled(offset time.Duration, side domain.Side) *domain.Event {
	return ev(offset, "ACC001", "IBM", side, domain.EventOrderCancelled, 1000)
}

func traded(offset time.Duration, side domain.Side, qty int64) *domain.Event {
	return ev(offset, "ACC001", "IBM", side, domain.EventTradeExecuted, qty)
}

func sec(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// textbookLayering is 3 BUY orders at 0,2,4s, cancels at 5,6,7s and a SELL trade at tradeAt.
func textbookLayering(tradeAt time.Duration) []*domain.Event {
	return []*domain.Event{
		placed(sec(0), domain.SideBuy),
		placed(sec(2), domain.SideBuy),
		placed(sec(4), domain.SideBuy),
		cancelled(sec(5), domain.SideBuy),
		cancelled(sec(6), domain.SideBuy),
		cancelled(sec(7), domain.SideBuy),
		traded(tradeAt, domain.SideSell, 1000),
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg, err := NewConfig(opts...)
	require.NoError(t, err)
	engine, err := NewEngine(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return engine
}

func TestDetect_AlwaysSuspiciousSingleEvent(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		ev(0, "ACC050", "TEST", domain.SideBuy, domain.EventOrderPlaced, 1000),
	}

	results := engine.Detect(events)

	require.Len(t, results, 1)
	assert.Equal(t, "ACC050", results[0].AccountID)
	assert.Equal(t, "TEST", results[0].ProductID)
	assert.Equal(t, int64(0), results[0].TotalBuyQty)
	assert.Equal(t, int64(0), results[0].TotalSellQty)
	assert.Equal(t, 0, results[0].NumCancelledOrders)
	assert.Equal(t, t0, results[0].DetectedAt)
}

func TestDetect_AlwaysSuspiciousEveryProduct(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		ev(0, "ACC050", "AAPL", domain.SideBuy, domain.EventTradeExecuted, 10),
		ev(sec(1), "ACC050", "IBM", domain.SideSell, domain.EventOrderCancelled, 10),
	}

	results := engine.Detect(events)

	require.Len(t, results, 2)
	assert.Equal(t, "AAPL", results[0].ProductID)
	assert.Equal(t, "IBM", results[1].ProductID)
}

func TestDetect_AlwaysSuspiciousDisabled(t *testing.T) {
	engine := newTestEngine(t, WithAlwaysSuspicious())
	events := []*domain.Event{
		ev(0, "ACC050", "TEST", domain.SideBuy, domain.EventOrderPlaced, 1000),
	}

	assert.Empty(t, engine.Detect(events))
}

func TestDetect_TextbookLayering(t *testing.T) {
	engine := newTestEngine(t)

	results := engine.Detect(textbookLayering(sec(8)))

	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "ACC001", r.AccountID)
	assert.Equal(t, "IBM", r.ProductID)
	assert.Equal(t, 3, r.NumCancelledOrders)
	assert.Equal(t, int64(1000), r.TotalSellQty)
	assert.Equal(t, int64(0), r.TotalBuyQty)
	assert.Equal(t, t0.Add(sec(8)), r.DetectedAt)
	assert.Equal(t, "2024-01-01T10:00:08Z", r.DetectedTimestamp())
	assert.Len(t, r.DetectionID, 64)
}

func TestDetect_InsufficientOrders(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(1), domain.SideBuy),
	}

	assert.Empty(t, engine.Detect(events))

	findings := engine.Explain(events)
	require.Len(t, findings, 1)
	assert.Equal(t, ReasonInsufficientOrders, findings[0].Reason)
	assert.False(t, findings[0].Flagged())
}

func TestDetect_InsufficientOrdersPerSide(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(1), domain.SideSell),
		placed(sec(2), domain.SideBuy),
		cancelled(sec(3), domain.SideBuy),
		cancelled(sec(3), domain.SideSell),
		cancelled(sec(4), domain.SideBuy),
		traded(sec(5), domain.SideSell, 100),
	}

	findings := engine.Explain(events)
	require.Len(t, findings, 1)
	assert.Equal(t, ReasonNoPattern, findings[0].Reason)
	assert.Empty(t, engine.Detect(events))
}

func TestDetect_OrderWindowViolation(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(6), domain.SideBuy),
		placed(sec(15), domain.SideBuy),
	}

	assert.Empty(t, engine.Detect(events))
}

func TestDetect_NoOppositeTrade(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(2), domain.SideBuy),
		placed(sec(4), domain.SideBuy),
		cancelled(sec(6), domain.SideBuy),
		cancelled(sec(7), domain.SideBuy),
		cancelled(sec(8), domain.SideBuy),
	}

	assert.Empty(t, engine.Detect(events))
}

func TestDetect_SameSideTradeDoesNotCount(t *testing.T) {
	engine := newTestEngine(t)
	events := textbookLayering(sec(8))
	events[6] = traded(sec(8), domain.SideBuy, 1000)

	assert.Empty(t, engine.Detect(events))
}

func TestDetect_EmptyInput(t *testing.T) {
	engine := newTestEngine(t)

	results := engine.Detect(nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results = engine.Detect([]*domain.Event{})
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestDetect_MultipleAccounts(t *testing.T) {
	engine := newTestEngine(t)

	events := textbookLayering(sec(8))
	events = append(events,
		ev(time.Minute, "ACC002", "AAPL", domain.SideBuy, domain.EventTradeExecuted, 500),
		ev(2*time.Minute, "ACC050", "MSFT", domain.SideBuy, domain.EventOrderPlaced, 100),
	)

	results := engine.Detect(events)

	require.Len(t, results, 2)
	assert.Equal(t, "ACC001", results[0].AccountID)
	assert.Equal(t, "IBM", results[0].ProductID)
	assert.Equal(t, "ACC050", results[1].AccountID)
	assert.Equal(t, "MSFT", results[1].ProductID)
}

func TestDetect_OrderWindowBoundary(t *testing.T) {
	build := func(lastOrder time.Duration) []*domain.Event {
		return []*domain.Event{
			placed(0, domain.SideBuy),
			placed(sec(5), domain.SideBuy),
			placed(lastOrder, domain.SideBuy),
			cancelled(sec(4), domain.SideBuy),
			cancelled(sec(9), domain.SideBuy),
			cancelled(sec(12), domain.SideBuy),
			traded(sec(13), domain.SideSell, 100),
		}
	}
	engine := newTestEngine(t)

	assert.Len(t, engine.Detect(build(sec(10))), 1, "span equal to ORDER_WINDOW matches")
	assert.Empty(t, engine.Detect(build(sec(10)+time.Nanosecond)), "span beyond ORDER_WINDOW does not match")
}

func TestDetect_OppositeTradeBoundary(t *testing.T) {
	engine := newTestEngine(t)

	// last cancellation at 7s, window 2s
	assert.Len(t, engine.Detect(textbookLayering(sec(9))), 1, "gap equal to window matches")
	assert.Len(t, engine.Detect(textbookLayering(sec(7))), 1, "zero gap matches")
	assert.Empty(t, engine.Detect(textbookLayering(sec(9)+time.Nanosecond)), "gap beyond window does not match")
	assert.Empty(t, engine.Detect(textbookLayering(sec(7)-time.Nanosecond)), "trade before last cancellation does not match")
}

func TestDetect_CancellationWindowBoundary(t *testing.T) {
	build := func(cancelAt time.Duration) []*domain.Event {
		return []*domain.Event{
			placed(0, domain.SideBuy),
			placed(sec(1), domain.SideBuy),
			placed(sec(2), domain.SideBuy),
			cancelled(cancelAt, domain.SideBuy),
			traded(cancelAt+sec(1), domain.SideSell, 100),
		}
	}
	engine := newTestEngine(t)

	assert.Len(t, engine.Detect(build(sec(5))), 1, "cancellation at order+window counts")
	assert.Empty(t, engine.Detect(build(sec(5)+time.Nanosecond)), "cancellation after order+window does not count")
}

func TestDetect_CancellationBeforeOrderDoesNotCount(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		cancelled(0, domain.SideBuy),
		placed(sec(1), domain.SideBuy),
		placed(sec(2), domain.SideBuy),
		placed(sec(3), domain.SideBuy),
		traded(sec(4), domain.SideSell, 100),
	}

	assert.Empty(t, engine.Detect(events))
}

func TestDetect_CancellationSideAgnostic(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(2), domain.SideBuy),
		placed(sec(4), domain.SideBuy),
		cancelled(sec(5), domain.SideSell),
		cancelled(sec(6), domain.SideSell),
		cancelled(sec(7), domain.SideSell),
		traded(sec(8), domain.SideSell, 300),
	}

	results := engine.Detect(events)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].NumCancelledOrders)
}

func TestDetect_LateCancellationMovesReference(t *testing.T) {
	engine := newTestEngine(t)
	events := textbookLayering(sec(8))
	events = append(events, cancelled(sec(30), domain.SideBuy))

	// lastCancel becomes 30s so the 8s trade precedes it
	assert.Empty(t, engine.Detect(events))
}

func TestDetect_SellSideLayering(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideSell),
		placed(sec(1), domain.SideSell),
		placed(sec(2), domain.SideSell),
		cancelled(sec(3), domain.SideSell),
		cancelled(sec(4), domain.SideSell),
		traded(sec(5), domain.SideBuy, 250),
		traded(sec(6), domain.SideBuy, 50),
	}

	findings := engine.Explain(events)
	require.Len(t, findings, 1)
	require.True(t, findings[0].Flagged())
	assert.Equal(t, ReasonLayering, findings[0].Reason)
	assert.Equal(t, domain.SideSell, findings[0].Match.Side)
	assert.Equal(t, t0.Add(sec(5)), findings[0].Match.TradeAt)
	assert.Equal(t, int64(300), findings[0].Record.TotalBuyQty)
}

func TestDetect_BuyCheckedBeforeSell(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideSell),
		placed(sec(1), domain.SideSell),
		placed(sec(2), domain.SideSell),
		placed(sec(3), domain.SideBuy),
		placed(sec(4), domain.SideBuy),
		placed(sec(5), domain.SideBuy),
		cancelled(sec(5), domain.SideSell),
		cancelled(sec(6), domain.SideBuy),
		cancelled(sec(7), domain.SideBuy),
		traded(sec(8), domain.SideBuy, 10),
		traded(sec(8), domain.SideSell, 20),
	}

	findings := engine.Explain(events)
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].Match)
	assert.Equal(t, domain.SideBuy, findings[0].Match.Side)
}

func TestDetect_SlidingWindowFindsLaterWindow(t *testing.T) {
	engine := newTestEngine(t)
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(20), domain.SideBuy),
		placed(sec(22), domain.SideBuy),
		placed(sec(24), domain.SideBuy),
		cancelled(sec(25), domain.SideBuy),
		cancelled(sec(26), domain.SideBuy),
		cancelled(sec(27), domain.SideBuy),
		traded(sec(28), domain.SideSell, 100),
	}

	findings := engine.Explain(events)
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].Match)
	assert.Equal(t, t0.Add(sec(20)), findings[0].Match.WindowStart)
	assert.Equal(t, t0.Add(sec(24)), findings[0].Match.WindowEnd)
	assert.Equal(t, t0.Add(sec(27)), findings[0].Match.LastCancel)
}

func TestDetect_AtMostOneRecordPerGroup(t *testing.T) {
	engine := newTestEngine(t)
	events := textbookLayering(sec(8))
	// a second, independent layering instance later in the same group
	events = append(events,
		placed(sec(60), domain.SideBuy),
		placed(sec(61), domain.SideBuy),
		placed(sec(62), domain.SideBuy),
		cancelled(sec(63), domain.SideBuy),
		traded(sec(64), domain.SideSell, 5),
	)

	results := engine.Detect(events)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1005), results[0].TotalSellQty)
	assert.Equal(t, 4, results[0].NumCancelledOrders)
	assert.Equal(t, t0.Add(sec(64)), results[0].DetectedAt)
}

func TestDetect_MinOrdersTwo(t *testing.T) {
	engine := newTestEngine(t, WithMinOrdersSameSide(2))
	events := []*domain.Event{
		placed(0, domain.SideBuy),
		placed(sec(1), domain.SideBuy),
		cancelled(sec(2), domain.SideBuy),
		traded(sec(3), domain.SideSell, 100),
	}

	assert.Len(t, engine.Detect(events), 1)
}

func TestDetect_GroupOrderFollowsFirstAppearance(t *testing.T) {
	engine := newTestEngine(t, WithAlwaysSuspicious("A", "B"))
	events := []*domain.Event{
		ev(0, "B", "X", domain.SideBuy, domain.EventOrderPlaced, 1),
		ev(0, "A", "Y", domain.SideBuy, domain.EventOrderPlaced, 1),
		ev(0, "A", "X", domain.SideBuy, domain.EventOrderPlaced, 1),
		ev(sec(1), "B", "X", domain.SideBuy, domain.EventOrderPlaced, 1),
	}

	results := engine.Detect(events)
	require.Len(t, results, 3)
	assert.Equal(t, domain.GroupKey{AccountID: "B", ProductID: "X"}, results[0].Key())
	assert.Equal(t, domain.GroupKey{AccountID: "A", ProductID: "Y"}, results[1].Key())
	assert.Equal(t, domain.GroupKey{AccountID: "A", ProductID: "X"}, results[2].Key())
}

func TestDetect_Idempotent(t *testing.T) {
	engine := newTestEngine(t)
	events := textbookLayering(sec(8))
	events = append(events, ev(time.Minute, "ACC050", "MSFT", domain.SideBuy, domain.EventOrderPlaced, 1))

	first := engine.Detect(events)
	second := engine.Detect(events)

	assert.Equal(t, first, second)
}

func TestDetect_DoesNotMutateInput(t *testing.T) {
	engine := newTestEngine(t)
	events := textbookLayering(sec(8))

	snapshot := make([]domain.Event, len(events))
	for i, e := range events {
		snapshot[i] = *e
	}

	engine.Detect(events)

	for i, e := range events {
		assert.Equal(t, snapshot[i], *e)
	}
}

func TestDetect_SkipsNilEvents(t *testing.T) {
	engine := newTestEngine(t)
	events := append([]*domain.Event{nil}, textbookLayering(sec(8))...)

	assert.Len(t, engine.Detect(events), 1)
}

// manyGroups builds n groups, every third of which contains textbook layering.
func manyGroups(n int) []*domain.Event {
	var events []*domain.Event
	for i := 0; i < n; i++ {
		account := fmt.Sprintf("ACC%04d", i)
		for _, e := range textbookLayering(sec(8)) {
			c := *e
			c.AccountID = account
			if i%3 != 0 && c.EventType == domain.EventTradeExecuted {
				c.Timestamp = c.Timestamp.Add(time.Minute)
			}
			events = append(events, &c)
		}
	}
	return events
}

func TestDetectContext_MatchesSequential(t *testing.T) {
	cfg := DefaultConfig()
	engine, err := NewEngine(cfg, WithWorkers(4))
	require.NoError(t, err)

	events := manyGroups(100)

	sequential := engine.Detect(events)
	parallel, err := engine.DetectContext(context.Background(), events)
	require.NoError(t, err)

	assert.Len(t, sequential, 34)
	assert.Equal(t, sequential, parallel)
}

func TestDetectContext_Cancelled(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.DetectContext(ctx, manyGroups(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDetectContext_EmptyInput(t *testing.T) {
	engine := newTestEngine(t)

	results, err := engine.DetectContext(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

type countingRecorder struct {
	mu         sync.Mutex
	evaluated  int
	detections map[string]int
}

func (r *countingRecorder) RecordGroupEvaluated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated++
}

func (r *countingRecorder) RecordDetection(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detections == nil {
		r.detections = make(map[string]int)
	}
	r.detections[reason]++
}

func TestEngine_Recorder(t *testing.T) {
	rec := &countingRecorder{}
	engine, err := NewEngine(DefaultConfig(), WithRecorder(rec), WithWorkers(2))
	require.NoError(t, err)

	events := textbookLayering(sec(8))
	events = append(events,
		ev(time.Minute, "ACC002", "AAPL", domain.SideBuy, domain.EventTradeExecuted, 500),
		ev(2*time.Minute, "ACC050", "MSFT", domain.SideBuy, domain.EventOrderPlaced, 100),
	)

	_, err = engine.DetectContext(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.evaluated)
	assert.Equal(t, 1, rec.detections[string(ReasonLayering)])
	assert.Equal(t, 1, rec.detections[string(ReasonAlwaysSuspicious)])
}
