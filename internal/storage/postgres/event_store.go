package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO events (
		event_id, account_id, product_id, side, price, quantity, event_type, ts, seq
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventQuery,
			storage.EventKey(e),
			e.AccountID,
			e.ProductID,
			e.Side.String(),
			e.Price,
			e.Quantity,
			e.EventType.String(),
			e.Timestamp,
			e.Seq,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return storeError("insert event in bulk", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetAll retrieves all events, ordered by (account_id, product_id, ts, seq) ASC.
func (s *EventStore) GetAll(ctx context.Context) ([]*domain.Event, error) {
	query := `
		SELECT account_id, product_id, side, price::text, quantity, event_type, ts, seq
		FROM events
		ORDER BY account_id ASC, product_id ASC, ts ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Event, error) {
	query := `
		SELECT account_id, product_id, side, price::text, quantity, event_type, ts, seq
		FROM events
		WHERE ts >= $1 AND ts <= $2
		ORDER BY account_id ASC, product_id ASC, ts ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get events by time range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var (
			e         domain.Event
			side      string
			price     string
			eventType string
		)

		err := rows.Scan(
			&e.AccountID,
			&e.ProductID,
			&side,
			&price,
			&e.Quantity,
			&eventType,
			&e.Timestamp,
			&e.Seq,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		e.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse event price %q: %w", price, err)
		}
		e.Side = domain.Side(side)
		e.EventType = domain.EventType(eventType)
		e.Timestamp = e.Timestamp.UTC()

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}
