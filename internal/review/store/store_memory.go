package store

import (
	"context"
	"slices"
	"sync"

	"veritas/internal/review/models"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded review store. ClaimNext and Execute hold the
// write lock across validate and mutate so concurrent claims never overlap.
type InMemory struct {
	mu      sync.RWMutex
	reviews map[id.ReviewID]*models.Review
	seq     int64
}

func NewInMemory() *InMemory {
	return &InMemory{reviews: make(map[id.ReviewID]*models.Review)}
}

func (s *InMemory) Create(_ context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reviews[r.ID]; exists {
		return sentinel.ErrConflict
	}
	if r.Status.IsActive() {
		for _, existing := range s.reviews {
			if existing.CertificateID == r.CertificateID && existing.Status.IsActive() {
				return sentinel.ErrConflict
			}
		}
	}
	s.seq++
	r.Seq = s.seq
	s.reviews[r.ID] = clone(r)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, reviewID id.ReviewID) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

func (s *InMemory) FindActiveByCertificate(_ context.Context, certID id.CertificateID) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reviews {
		if r.CertificateID == certID && r.Status.IsActive() {
			return clone(r), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ClaimNext(_ context.Context, mutate func(*models.Review)) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *models.Review
	for _, r := range s.reviews {
		if r.Status != models.StatusPending {
			continue
		}
		if next == nil || models.Less(r, next) {
			next = r
		}
	}
	if next == nil {
		return nil, sentinel.ErrNotFound
	}
	mutate(next)
	return clone(next), nil
}

func (s *InMemory) Execute(_ context.Context, reviewID id.ReviewID, validate func(*models.Review) error, mutate func(*models.Review)) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := clone(r)
	if err := validate(cp); err != nil {
		return nil, err
	}
	mutate(cp)
	s.reviews[reviewID] = cp
	return clone(cp), nil
}

func (s *InMemory) List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Review, int, error) {
	all, err := s.ListAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	start := min(page.Offset(), total)
	end := min(start+page.Size, total)
	return all[start:end], total, nil
}

// ListAll returns every matching review in queue order.
func (s *InMemory) ListAll(_ context.Context, filter models.Filter) ([]*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Review{}
	for _, r := range s.reviews {
		if filter.Matches(r) {
			out = append(out, clone(r))
		}
	}
	slices.SortFunc(out, func(a, b *models.Review) int {
		switch {
		case models.Less(a, b):
			return -1
		case models.Less(b, a):
			return 1
		}
		return 0
	})
	return out, nil
}

func clone(r *models.Review) *models.Review {
	cp := *r
	if r.VerificationID != nil {
		v := *r.VerificationID
		cp.VerificationID = &v
	}
	if r.VerifierID != nil {
		v := *r.VerifierID
		cp.VerifierID = &v
	}
	if r.Decision != nil {
		d := *r.Decision
		cp.Decision = &d
	}
	return &cp
}
