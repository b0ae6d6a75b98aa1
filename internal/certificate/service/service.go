package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"veritas/internal/certificate/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

type Store interface {
	Create(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
}

// Service registers submitted documents. Uploading and field extraction happen
// upstream; this service only records what was extracted.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	OwnerID             id.UserID
	Type                models.Type
	IssuerType          string
	Payload             map[string]any
	HasQRCode           bool
	HasDigitalSignature bool
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Certificate, error) {
	if req.OwnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	cert, err := models.NewCertificate(id.NewCertificateID(), req.OwnerID, req.Type, req.IssuerType,
		req.Payload, req.HasQRCode, req.HasDigitalSignature, s.now())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}
	if err := s.store.Create(ctx, cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "certificate registered", "certificate_id", cert.ID, "type", cert.Type)
	}
	return cert, nil
}

func (s *Service) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.store.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}
