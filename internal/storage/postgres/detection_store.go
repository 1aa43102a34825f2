package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

// DetectionStore implements storage.DetectionStore using PostgreSQL.
type DetectionStore struct {
	pool *Pool
}

// NewDetectionStore creates a new DetectionStore.
func NewDetectionStore(pool *Pool) *DetectionStore {
	return &DetectionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DetectionStore = (*DetectionStore)(nil)

const insertDetectionQuery = `
	INSERT INTO detections (
		detection_id, account_id, product_id, total_buy_qty, total_sell_qty,
		num_cancelled_orders, detected_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const selectDetectionColumns = `
	SELECT detection_id, account_id, product_id, total_buy_qty, total_sell_qty,
		num_cancelled_orders, detected_at
	FROM detections
`

// Insert adds a new detection. Returns ErrDuplicateKey if detection_id exists.
func (s *DetectionStore) Insert(ctx context.Context, d *domain.SuspiciousAccount) error {
	if err := storage.ValidateDetection(d); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, insertDetectionQuery,
		d.DetectionID,
		d.AccountID,
		d.ProductID,
		d.TotalBuyQty,
		d.TotalSellQty,
		d.NumCancelledOrders,
		d.DetectedAt,
	)
	if err != nil {
		return storeError("insert detection", err)
	}
	return nil
}

// InsertBulk adds multiple detections atomically. Fails entire batch on any duplicate.
func (s *DetectionStore) InsertBulk(ctx context.Context, detections []*domain.SuspiciousAccount) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, d := range detections {
		if err := storage.ValidateDetection(d); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertDetectionQuery,
			d.DetectionID,
			d.AccountID,
			d.ProductID,
			d.TotalBuyQty,
			d.TotalSellQty,
			d.NumCancelledOrders,
			d.DetectedAt,
		)
		if err != nil {
			return storeError("insert detection in bulk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByID retrieves a detection by its ID. Returns ErrNotFound if not exists.
func (s *DetectionStore) GetByID(ctx context.Context, detectionID string) (*domain.SuspiciousAccount, error) {
	row := s.pool.QueryRow(ctx, selectDetectionColumns+` WHERE detection_id = $1`, detectionID)

	d, err := scanDetection(row)
	if err != nil {
		return nil, storeError("get detection by id", err)
	}
	return d, nil
}

// GetByAccount retrieves all detections for an account, ordered by (detected_at, product_id) ASC.
func (s *DetectionStore) GetByAccount(ctx context.Context, accountID string) ([]*domain.SuspiciousAccount, error) {
	rows, err := s.pool.Query(ctx,
		selectDetectionColumns+` WHERE account_id = $1 ORDER BY detected_at ASC, product_id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("get detections by account: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// GetAll retrieves all detections, ordered by (account_id, product_id, detected_at) ASC.
func (s *DetectionStore) GetAll(ctx context.Context) ([]*domain.SuspiciousAccount, error) {
	rows, err := s.pool.Query(ctx,
		selectDetectionColumns+` ORDER BY account_id ASC, product_id ASC, detected_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("get all detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

func scanDetection(row pgx.Row) (*domain.SuspiciousAccount, error) {
	var d domain.SuspiciousAccount
	err := row.Scan(
		&d.DetectionID,
		&d.AccountID,
		&d.ProductID,
		&d.TotalBuyQty,
		&d.TotalSellQty,
		&d.NumCancelledOrders,
		&d.DetectedAt,
	)
	if err != nil {
		return nil, err
	}
	d.DetectedAt = d.DetectedAt.UTC()
	return &d, nil
}

// scanDetections scans multiple rows into a slice of SuspiciousAccount.
func scanDetections(rows pgx.Rows) ([]*domain.SuspiciousAccount, error) {
	var detections []*domain.SuspiciousAccount

	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection row: %w", err)
		}
		detections = append(detections, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection rows: %w", err)
	}

	return detections, nil
}
