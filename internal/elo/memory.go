package elo

import (
	"context"
	"sync"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

// MemoryStore is an in-memory Store used by tests and dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	ratings     map[string]model.EloRating
	comparisons []model.ComparisonRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings: make(map[string]model.EloRating),
	}
}

func (s *MemoryStore) Load(ctx context.Context) error { return nil }

func (s *MemoryStore) Flush(ctx context.Context) error { return nil }

func (s *MemoryStore) GetRating(ctx context.Context, variantID string) (model.EloRating, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rating, ok := s.ratings[variantID]
	return rating, ok, nil
}

func (s *MemoryStore) PutRating(ctx context.Context, rating model.EloRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ratings[rating.VariantID] = rating
	return nil
}

func (s *MemoryStore) AppendComparison(ctx context.Context, rec model.ComparisonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.comparisons = append(s.comparisons, rec)
	return nil
}

func (s *MemoryStore) Ratings(ctx context.Context) ([]model.EloRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.EloRating, 0, len(s.ratings))
	for _, r := range s.ratings {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Comparisons(ctx context.Context, limit int) ([]model.ComparisonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.comparisons)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]model.ComparisonRecord, n)
	// Newest first, matching the persistent store's read order.
	for i := 0; i < n; i++ {
		out[i] = s.comparisons[len(s.comparisons)-1-i]
	}
	return out, nil
}
