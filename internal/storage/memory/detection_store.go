package memory

import (
	"context"
	"sort"
	"sync"

	"layering-detector/internal/domain"
	"layering-detector/internal/storage"
)

// DetectionStore is an in-memory implementation of storage.DetectionStore.
type DetectionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SuspiciousAccount // keyed by detection_id
}

// NewDetectionStore creates a new in-memory detection store.
func NewDetectionStore() *DetectionStore {
	return &DetectionStore{
		data: make(map[string]*domain.SuspiciousAccount),
	}
}

// Insert adds a new detection. Returns ErrDuplicateKey if detection_id exists.
func (s *DetectionStore) Insert(_ context.Context, d *domain.SuspiciousAccount) error {
	if err := storage.ValidateDetection(d); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DetectionID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *d
	s.data[d.DetectionID] = &copy
	return nil
}

// InsertBulk adds multiple detections atomically. Fails entire batch on any duplicate.
func (s *DetectionStore) InsertBulk(_ context.Context, detections []*domain.SuspiciousAccount) error {
	if len(detections) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(detections))
	for _, d := range detections {
		if err := storage.ValidateDetection(d); err != nil {
			return err
		}
		if _, exists := s.data[d.DetectionID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[d.DetectionID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[d.DetectionID] = struct{}{}
	}

	for _, d := range detections {
		copy := *d
		s.data[d.DetectionID] = &copy
	}

	return nil
}

// GetByID retrieves a detection by its ID. Returns ErrNotFound if not exists.
func (s *DetectionStore) GetByID(_ context.Context, detectionID string) (*domain.SuspiciousAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data[detectionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *d
	return &copy, nil
}

// GetByAccount retrieves all detections for an account, ordered by (detected_at, product_id) ASC.
func (s *DetectionStore) GetByAccount(_ context.Context, accountID string) ([]*domain.SuspiciousAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SuspiciousAccount
	for _, d := range s.data {
		if d.AccountID == accountID {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].DetectedAt.Equal(result[j].DetectedAt) {
			return result[i].DetectedAt.Before(result[j].DetectedAt)
		}
		return result[i].ProductID < result[j].ProductID
	})

	return result, nil
}

// GetAll retrieves all detections, ordered by (account_id, product_id, detected_at) ASC.
func (s *DetectionStore) GetAll(_ context.Context) ([]*domain.SuspiciousAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SuspiciousAccount, 0, len(s.data))
	for _, d := range s.data {
		copy := *d
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.DetectedAt.Before(b.DetectedAt)
	})

	return result, nil
}

var _ storage.DetectionStore = (*DetectionStore)(nil)
