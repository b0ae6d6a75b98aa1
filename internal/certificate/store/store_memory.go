package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"veritas/internal/certificate/models"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// InMemory is a thread-safe certificate store for development and tests.
type InMemory struct {
	mu    sync.RWMutex
	certs map[id.CertificateID]*models.Certificate
}

func NewInMemory() *InMemory {
	return &InMemory{certs: make(map[id.CertificateID]*models.Certificate)}
}

func (s *InMemory) Create(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[cert.ID]; exists {
		return sentinel.ErrConflict
	}
	s.certs[cert.ID] = clone(cert)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(cert), nil
}

func (s *InMemory) UpdateStatus(_ context.Context, certID id.CertificateID, status models.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cert.Status = status
	cert.UpdatedAt = now
	return nil
}

func (s *InMemory) MarkIdentityVerified(_ context.Context, certID id.CertificateID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cert.MarkIdentityVerified(now)
	return nil
}

func clone(c *models.Certificate) *models.Certificate {
	cp := *c
	cp.Payload = maps.Clone(c.Payload)
	if c.IdentityVerifiedAt != nil {
		at := *c.IdentityVerifiedAt
		cp.IdentityVerifiedAt = &at
	}
	return &cp
}
