package storage

import (
	"context"

	"layering-detector/internal/domain"
)

// MirroredDetectionStore writes to a primary store and copies successful
// writes to a mirror such as an analytics database. Reads go to the primary.
// Mirror failures are reported through onMirrorError and never fail the write.
type MirroredDetectionStore struct {
	primary       DetectionStore
	mirror        DetectionStore
	onMirrorError func(op string, err error)
}

// NewMirroredDetectionStore creates a mirrored store. onMirrorError may be nil.
func NewMirroredDetectionStore(primary, mirror DetectionStore, onMirrorError func(op string, err error)) *MirroredDetectionStore {
	if onMirrorError == nil {
		onMirrorError = func(string, error) {}
	}
	return &MirroredDetectionStore{primary: primary, mirror: mirror, onMirrorError: onMirrorError}
}

// Insert writes d to the primary, then to the mirror.
func (s *MirroredDetectionStore) Insert(ctx context.Context, d *domain.SuspiciousAccount) error {
	if err := s.primary.Insert(ctx, d); err != nil {
		return err
	}
	if err := s.mirror.Insert(ctx, d); err != nil {
		s.onMirrorError("insert", err)
	}
	return nil
}

// InsertBulk writes detections to the primary, then to the mirror.
func (s *MirroredDetectionStore) InsertBulk(ctx context.Context, detections []*domain.SuspiciousAccount) error {
	if err := s.primary.InsertBulk(ctx, detections); err != nil {
		return err
	}
	if err := s.mirror.InsertBulk(ctx, detections); err != nil {
		s.onMirrorError("insert_bulk", err)
	}
	return nil
}

// GetByID reads from the primary.
func (s *MirroredDetectionStore) GetByID(ctx context.Context, detectionID string) (*domain.SuspiciousAccount, error) {
	return s.primary.GetByID(ctx, detectionID)
}

// GetByAccount reads from the primary.
func (s *MirroredDetectionStore) GetByAccount(ctx context.Context, accountID string) ([]*domain.SuspiciousAccount, error) {
	return s.primary.GetByAccount(ctx, accountID)
}

// GetAll reads from the primary.
func (s *MirroredDetectionStore) GetAll(ctx context.Context) ([]*domain.SuspiciousAccount, error) {
	return s.primary.GetAll(ctx)
}

var _ DetectionStore = (*MirroredDetectionStore)(nil)
