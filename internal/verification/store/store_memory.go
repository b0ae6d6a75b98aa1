package store

import (
	"context"
	"slices"
	"sync"

	"veritas/internal/verification/models"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// InMemory keeps verifications and their steps in process memory.
type InMemory struct {
	mu            sync.RWMutex
	verifications map[id.VerificationID]*models.Verification
	steps         map[id.VerificationID][]*models.Step
}

func NewInMemory() *InMemory {
	return &InMemory{
		verifications: make(map[id.VerificationID]*models.Verification),
		steps:         make(map[id.VerificationID][]*models.Step),
	}
}

func (s *InMemory) Create(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.verifications[v.ID]; exists {
		return sentinel.ErrConflict
	}
	s.verifications[v.ID] = cloneVerification(v)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, verificationID id.VerificationID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifications[verificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneVerification(v), nil
}

func (s *InMemory) ListByCertificate(_ context.Context, certID id.CertificateID) ([]*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Verification
	for _, v := range s.verifications {
		if v.CertificateID == certID {
			out = append(out, cloneVerification(v))
		}
	}
	slices.SortFunc(out, func(a, b *models.Verification) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Update(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.verifications[v.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.verifications[v.ID] = cloneVerification(v)
	return nil
}

func (s *InMemory) AppendStep(_ context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.verifications[step.VerificationID]; !ok {
		return sentinel.ErrNotFound
	}
	for _, existing := range s.steps[step.VerificationID] {
		if existing.SequenceNumber == step.SequenceNumber {
			return sentinel.ErrConflict
		}
	}
	cp := *step
	s.steps[step.VerificationID] = append(s.steps[step.VerificationID], &cp)
	return nil
}

func (s *InMemory) UpdateStep(_ context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.steps[step.VerificationID] {
		if existing.ID == step.ID {
			cp := *step
			s.steps[step.VerificationID][i] = &cp
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemory) ListSteps(_ context.Context, verificationID id.VerificationID) ([]*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[verificationID]
	out := make([]*models.Step, 0, len(steps))
	for _, st := range steps {
		cp := *st
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Step) int {
		return a.SequenceNumber - b.SequenceNumber
	})
	return out, nil
}

func (s *InMemory) DeleteSteps(_ context.Context, verificationID id.VerificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, verificationID)
	return nil
}

func cloneVerification(v *models.Verification) *models.Verification {
	cp := *v
	if v.Result != nil {
		r := *v.Result
		cp.Result = &r
	}
	if v.ConfidenceScore != nil {
		sc := *v.ConfidenceScore
		cp.ConfidenceScore = &sc
	}
	if v.DurationMs != nil {
		d := *v.DurationMs
		cp.DurationMs = &d
	}
	cp.ResultData = slices.Clone(v.ResultData)
	return &cp
}
