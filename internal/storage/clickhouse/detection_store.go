package clickhouse

import (
	"context"
	"fmt"
	"time"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

// DetectionStore implements storage.DetectionStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by detection_id; append-only
// semantics are enforced with an existence check before insert.
type DetectionStore struct {
	conn *Conn
}

// NewDetectionStore creates a new DetectionStore.
func NewDetectionStore(conn *Conn) *DetectionStore {
	return &DetectionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DetectionStore = (*DetectionStore)(nil)

const selectDetections = `
	SELECT detection_id, account_id, product_id, total_buy_qty, total_sell_qty,
		num_cancelled_orders, detected_at
	FROM detections FINAL
`

// Insert adds a new detection. Returns ErrDuplicateKey if detection_id exists.
func (s *DetectionStore) Insert(ctx context.Context, d *domain.SuspiciousAccount) error {
	return s.InsertBulk(ctx, []*domain.SuspiciousAccount{d})
}

// InsertBulk adds multiple detections in one batch. Fails entire batch on any duplicate.
func (s *DetectionStore) InsertBulk(ctx context.Context, detections []*domain.SuspiciousAccount) error {
	if len(detections) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(detections))
	for _, d := range detections {
		if err := storage.ValidateDetection(d); err != nil {
			return err
		}
		if _, exists := seen[d.DetectionID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[d.DetectionID] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, d := range detections {
		exists, err := s.exists(ctx, d.DetectionID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO detections (
			detection_id, account_id, product_id, total_buy_qty, total_sell_qty,
			num_cancelled_orders, detected_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, d := range detections {
		err = batch.Append(
			d.DetectionID,
			d.AccountID,
			d.ProductID,
			d.TotalBuyQty,
			d.TotalSellQty,
			int32(d.NumCancelledOrders),
			d.DetectedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByID retrieves a detection by its ID. Returns ErrNotFound if not exists.
func (s *DetectionStore) GetByID(ctx context.Context, detectionID string) (*domain.SuspiciousAccount, error) {
	rows, err := s.conn.Query(ctx, selectDetections+` WHERE detection_id = ? LIMIT 1`, detectionID)
	if err != nil {
		return nil, fmt.Errorf("query by id: %w", err)
	}
	defer rows.Close()

	detections, err := scanDetections(rows)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, storage.ErrNotFound
	}
	return detections[0], nil
}

// GetByAccount retrieves all detections for an account, ordered by (detected_at, product_id) ASC.
func (s *DetectionStore) GetByAccount(ctx context.Context, accountID string) ([]*domain.SuspiciousAccount, error) {
	rows, err := s.conn.Query(ctx,
		selectDetections+` WHERE account_id = ? ORDER BY detected_at ASC, product_id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query by account: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// GetAll retrieves all detections, ordered by (account_id, product_id, detected_at) ASC.
func (s *DetectionStore) GetAll(ctx context.Context) ([]*domain.SuspiciousAccount, error) {
	rows, err := s.conn.Query(ctx,
		selectDetections+` ORDER BY account_id ASC, product_id ASC, detected_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// exists checks if a detection with the given ID exists.
func (s *DetectionStore) exists(ctx context.Context, detectionID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM detections FINAL WHERE detection_id = ?`,
		detectionID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanDetections scans multiple rows into a slice of SuspiciousAccount.
func scanDetections(rows chRows) ([]*domain.SuspiciousAccount, error) {
	var detections []*domain.SuspiciousAccount

	for rows.Next() {
		var (
			d         domain.SuspiciousAccount
			cancelled int32
			at        time.Time
		)
		err := rows.Scan(
			&d.DetectionID,
			&d.AccountID,
			&d.ProductID,
			&d.TotalBuyQty,
			&d.TotalSellQty,
			&cancelled,
			&at,
		)
		if err != nil {
			return nil, fmt.Errorf("scan detection row: %w", err)
		}
		d.NumCancelledOrders = int(cancelled)
		d.DetectedAt = at.UTC()
		detections = append(detections, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection rows: %w", err)
	}

	return detections, nil
}
