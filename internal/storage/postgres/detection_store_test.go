package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layering-detector/internal/domain"
	"layering-detector/internal/idhash"
	"layering-detector/internal/storage"
	"layering-detector/internal/storage/postgres"
)

func newDetection(account, product string, offset time.Duration) *domain.SuspiciousAccount {
	// Postgres keeps microseconds; offsets in tests stay on that grid
	at := t0.Add(offset)
	return &domain.SuspiciousAccount{
		DetectionID:        idhash.ComputeDetectionID(account, product, at),
		AccountID:          account,
		ProductID:          product,
		TotalBuyQty:        250,
		TotalSellQty:       1000,
		NumCancelledOrders: 3,
		DetectedAt:         at,
	}
}

func TestDetectionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewDetectionStore(pool)
	ctx := context.Background()

	d := newDetection("ACC001", "IBM", 8*time.Second)
	require.NoError(t, store.Insert(ctx, d))

	got, err := store.GetByID(ctx, d.DetectionID)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDetectionStore_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewDetectionStore(pool)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDetectionStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewDetectionStore(pool)
	ctx := context.Background()

	d := newDetection("ACC001", "IBM", 8*time.Second)
	require.NoError(t, store.Insert(ctx, d))
	assert.ErrorIs(t, store.Insert(ctx, d), storage.ErrDuplicateKey)

	err := store.InsertBulk(ctx, []*domain.SuspiciousAccount{
		newDetection("ACC002", "MSFT", time.Second),
		d,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDetectionStore_GetByAccountAndGetAll(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewDetectionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.SuspiciousAccount{
		newDetection("ACC050", "TEST", 0),
		newDetection("ACC001", "MSFT", 20*time.Second),
		newDetection("ACC001", "IBM", 8*time.Second),
	}))

	byAccount, err := store.GetByAccount(ctx, "ACC001")
	require.NoError(t, err)
	require.Len(t, byAccount, 2)
	assert.Equal(t, "IBM", byAccount[0].ProductID)
	assert.Equal(t, "MSFT", byAccount[1].ProductID)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ACC001", all[0].AccountID)
	assert.Equal(t, "ACC050", all[2].AccountID)
}
