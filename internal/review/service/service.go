package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"veritas/internal/audit"
	certModels "veritas/internal/certificate/models"
	"veritas/internal/review/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
	"veritas/pkg/platform/tx"
)

type Store interface {
	Create(ctx context.Context, r *models.Review) error
	FindByID(ctx context.Context, reviewID id.ReviewID) (*models.Review, error)
	FindActiveByCertificate(ctx context.Context, certID id.CertificateID) (*models.Review, error)
	ClaimNext(ctx context.Context, mutate func(*models.Review)) (*models.Review, error)
	Execute(ctx context.Context, reviewID id.ReviewID, validate func(*models.Review) error, mutate func(*models.Review)) (*models.Review, error)
	List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Review, int, error)
	ListAll(ctx context.Context, filter models.Filter) ([]*models.Review, error)
}

type CertificateStore interface {
	UpdateStatus(ctx context.Context, certID id.CertificateID, status certModels.Status, now time.Time) error
}

type Auditor interface {
	Append(ctx context.Context, req audit.AppendRequest) (*audit.Entry, error)
}

type Metrics interface {
	IncReviewCreated(priority string)
	IncReviewCompleted(decision string, slaBreached bool)
}

// Service runs the manual-review queue.
type Service struct {
	reviews      Store
	certificates CertificateStore
	auditor      Auditor
	tx           tx.Runner
	metrics      Metrics
	logger       *slog.Logger
	slaWindow    time.Duration
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTxRunner makes every review mutation commit together with its audit
// entry and certificate update.
func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func WithSLAWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.slaWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(reviews Store, certificates CertificateStore, auditor Auditor, opts ...Option) *Service {
	s := &Service{
		reviews:      reviews,
		certificates: certificates,
		auditor:      auditor,
		tx:           tx.NoopRunner{},
		slaWindow:    models.DefaultSLAWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	CertificateID  id.CertificateID
	VerificationID *id.VerificationID
	Reason         string
	Priority       models.Priority
}

// Create opens a review for a certificate. If one is already open it is
// returned unchanged.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Review, error) {
	if existing, err := s.reviews.FindActiveByCertificate(ctx, req.CertificateID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up active review")
	}

	r, err := models.NewReview(id.NewReviewID(), req.CertificateID, req.VerificationID, req.Reason, req.Priority, s.now())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.reviews.Create(ctx, r); err != nil {
			return err
		}
		return s.audit(ctx, r, audit.ActionReviewCreated, id.UserID{}, map[string]any{
			"certificate_id": r.CertificateID.String(),
			"priority":       string(r.Priority),
			"reason":         r.Reason,
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// lost a race with a concurrent create for the same certificate
			existing, ferr := s.reviews.FindActiveByCertificate(ctx, req.CertificateID)
			if ferr == nil {
				return existing, nil
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create review")
	}

	if s.metrics != nil {
		s.metrics.IncReviewCreated(string(r.Priority))
	}
	s.logInfo(ctx, "review created", "review_id", r.ID, "certificate_id", r.CertificateID, "priority", r.Priority)
	return r, nil
}

// DequeueNext claims the highest priority, oldest pending review for reviewerID.
func (s *Service) DequeueNext(ctx context.Context, reviewerID id.UserID) (*models.Review, error) {
	if reviewerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "reviewer id is required")
	}
	now := s.now()
	var claimed *models.Review
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.reviews.ClaimNext(ctx, func(r *models.Review) {
			r.ApplyAssignment(reviewerID, now, s.slaWindow)
		})
		if err != nil {
			return err
		}
		claimed = r
		return s.audit(ctx, r, audit.ActionReviewAssigned, reviewerID, map[string]any{
			"verifier_id":  reviewerID.String(),
			"sla_deadline": r.SLADeadline.UTC().Format(time.RFC3339),
			"dequeued":     true,
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no pending reviews")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to dequeue review")
	}
	s.logInfo(ctx, "review dequeued", "review_id", claimed.ID, "verifier_id", reviewerID)
	return claimed, nil
}

// Assign binds a pending review to verifierID.
func (s *Service) Assign(ctx context.Context, reviewID id.ReviewID, verifierID id.UserID) (*models.Review, error) {
	if verifierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "verifier id is required")
	}
	now := s.now()
	var assigned *models.Review
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.reviews.Execute(ctx, reviewID,
			func(r *models.Review) error { return r.CanAssign() },
			func(r *models.Review) { r.ApplyAssignment(verifierID, now, s.slaWindow) },
		)
		if err != nil {
			return err
		}
		assigned = r
		return s.audit(ctx, r, audit.ActionReviewAssigned, verifierID, map[string]any{
			"verifier_id":  verifierID.String(),
			"sla_deadline": r.SLADeadline.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, translate(err, "failed to assign review")
	}
	s.logInfo(ctx, "review assigned", "review_id", reviewID, "verifier_id", verifierID)
	return assigned, nil
}

// Submit records a verifier's decision. APPROVED and REJECTED settle the
// certificate; NEEDS_INFO and ESCALATED leave it in manual review.
func (s *Service) Submit(ctx context.Context, reviewID id.ReviewID, verifierID id.UserID, decision models.Decision, comments string) (*models.Review, error) {
	if verifierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "verifier id is required")
	}
	now := s.now()
	var decided *models.Review
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.reviews.Execute(ctx, reviewID,
			func(r *models.Review) error { return r.CanSubmit(verifierID, decision) },
			func(r *models.Review) { r.ApplyDecision(verifierID, decision, comments, now, s.slaWindow) },
		)
		if err != nil {
			return err
		}
		decided = r

		if status, ok := certificateStatusFor(decision); ok {
			if err := s.certificates.UpdateStatus(ctx, r.CertificateID, status, now); err != nil {
				return err
			}
		}

		action := audit.ActionReviewCompleted
		if r.Status == models.StatusEscalated {
			action = audit.ActionReviewEscalated
		}
		return s.audit(ctx, r, action, verifierID, map[string]any{
			"decision":     string(decision),
			"comments":     comments,
			"sla_breached": r.SLABreached,
		})
	})
	if err != nil {
		return nil, translate(err, "failed to submit review")
	}

	if s.metrics != nil {
		s.metrics.IncReviewCompleted(string(decision), decided.SLABreached)
	}
	s.logInfo(ctx, "review decided", "review_id", reviewID, "decision", decision, "sla_breached", decided.SLABreached)
	return decided, nil
}

func certificateStatusFor(d models.Decision) (certModels.Status, bool) {
	switch d {
	case models.DecisionApproved:
		return certModels.StatusVerified, true
	case models.DecisionRejected:
		return certModels.StatusUnverified, true
	}
	return "", false
}

func (s *Service) Get(ctx context.Context, reviewID id.ReviewID) (*models.Review, error) {
	r, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return nil, translate(err, "failed to load review")
	}
	r.RefreshSLA(s.now())
	return r, nil
}

// ListQueue returns one page of reviews in queue order.
func (s *Service) ListQueue(ctx context.Context, filter models.Filter, page models.Page) (*models.PageResult, error) {
	page = page.Normalize()
	items, total, err := s.reviews.List(ctx, filter, page)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reviews")
	}
	now := s.now()
	for _, r := range items {
		r.RefreshSLA(now)
	}
	return &models.PageResult{
		Items:      items,
		Total:      total,
		Page:       page.Number,
		PageSize:   page.Size,
		TotalPages: int(math.Ceil(float64(total) / float64(page.Size))),
	}, nil
}

// GetStatistics aggregates reviews created within rng, or all reviews when rng is nil.
func (s *Service) GetStatistics(ctx context.Context, rng *models.DateRange) (*models.Statistics, error) {
	var filter models.Filter
	if rng != nil {
		if !rng.From.IsZero() {
			filter.CreatedFrom = &rng.From
		}
		if !rng.To.IsZero() {
			filter.CreatedTo = &rng.To
		}
	}
	reviews, err := s.reviews.ListAll(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reviews")
	}

	now := s.now()
	stats := &models.Statistics{
		Total:      len(reviews),
		ByStatus:   map[models.Status]int{},
		ByPriority: map[models.Priority]int{},
		ByDecision: map[models.Decision]int{},
	}
	var (
		resolved int
		total    time.Duration
	)
	for _, r := range reviews {
		r.RefreshSLA(now)
		stats.ByStatus[r.Status]++
		stats.ByPriority[r.Priority]++
		if r.Decision != nil {
			stats.ByDecision[*r.Decision]++
		}
		if r.SLABreached {
			stats.SLABreached++
		}
		if d, ok := r.ResolutionTime(); ok {
			resolved++
			total += d
		}
	}
	if resolved > 0 {
		stats.AverageResolutionSecs = math.Round(total.Seconds()/float64(resolved)*100) / 100
	}
	return stats, nil
}

func (s *Service) audit(ctx context.Context, r *models.Review, action audit.Action, userID id.UserID, metadata map[string]any) error {
	if s.auditor == nil {
		return nil
	}
	metadata["status"] = string(r.Status)
	_, err := s.auditor.Append(ctx, audit.AppendRequest{
		EntityType: audit.EntityReview,
		EntityID:   r.ID.String(),
		Action:     action,
		UserID:     userID,
		Metadata:   metadata,
	})
	return err
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg, args...)
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "review not found")
	case dErrors.HasCode(err, dErrors.CodeInvalidState), dErrors.HasCode(err, dErrors.CodeValidation):
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
