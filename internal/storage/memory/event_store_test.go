package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newEvent(account, product string, sec int, seq int64) *domain.Event {
	return &domain.Event{
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
		AccountID: account,
		ProductID: product,
		Side:      domain.SideBuy,
		Price:     decimal.RequireFromString("150.25"),
		Quantity:  100,
		EventType: domain.EventOrderPlaced,
		Seq:       seq,
	}
}

func TestEventStore_InsertBulkAndGetAll(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	events := []*domain.Event{
		newEvent("ACC002", "IBM", 0, 1),
		newEvent("ACC001", "MSFT", 5, 2),
		newEvent("ACC001", "IBM", 3, 3),
		newEvent("ACC001", "IBM", 3, 4),
		newEvent("ACC001", "IBM", 1, 5),
	}

	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(result) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(result))
	}

	wantSeq := []int64{5, 3, 4, 2, 1}
	for i, seq := range wantSeq {
		if result[i].Seq != seq {
			t.Errorf("Index %d: got seq %d, want %d", i, result[i].Seq, seq)
		}
	}

	if !result[0].Price.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("Price mismatch: got %s", result[0].Price)
	}
}

func TestEventStore_InsertBulk_DuplicateKey(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Event{newEvent("ACC001", "IBM", 0, 1)}); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	// Batch containing an existing event is rejected entirely
	err := store.InsertBulk(ctx, []*domain.Event{
		newEvent("ACC001", "IBM", 1, 2),
		newEvent("ACC001", "IBM", 0, 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	result, _ := store.GetAll(ctx)
	if len(result) != 1 {
		t.Errorf("Expected 1 event after failed batch, got %d", len(result))
	}
}

func TestEventStore_InsertBulk_IntraBatchDuplicate(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Event{
		newEvent("ACC001", "IBM", 0, 1),
		newEvent("ACC001", "IBM", 0, 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestEventStore_InsertBulk_InvalidInput(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	bad := newEvent("ACC001", "IBM", 0, 1)
	bad.Side = "HOLD"

	tests := []struct {
		name   string
		events []*domain.Event
	}{
		{"nil event", []*domain.Event{nil}},
		{"empty account", []*domain.Event{newEvent("", "IBM", 0, 1)}},
		{"invalid side", []*domain.Event{bad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.InsertBulk(ctx, tt.events)
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestEventStore_GetByTimeRange(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	events := []*domain.Event{
		newEvent("ACC001", "IBM", 0, 1),
		newEvent("ACC001", "IBM", 10, 2),
		newEvent("ACC001", "IBM", 20, 3),
		newEvent("ACC001", "IBM", 30, 4),
	}
	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	// Inclusive on both ends
	result, err := store.GetByTimeRange(ctx, t0.Add(10*time.Second), t0.Add(20*time.Second))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(result))
	}
	if result[0].Seq != 2 || result[1].Seq != 3 {
		t.Errorf("Unexpected events: seq %d, %d", result[0].Seq, result[1].Seq)
	}
}

func TestEventStore_ReturnsCopies(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	e := newEvent("ACC001", "IBM", 0, 1)
	if err := store.InsertBulk(ctx, []*domain.Event{e}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	e.Quantity = 999

	result, _ := store.GetAll(ctx)
	if result[0].Quantity != 100 {
		t.Errorf("Stored event was mutated through caller pointer: %d", result[0].Quantity)
	}
}
