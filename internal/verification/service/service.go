// Package service orchestrates verification pipelines: it records the request,
// runs the checks on the worker pool, scores the evidence and settles the
// certificate, the audit chain and the review queue in one unit of work.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"veritas/internal/audit"
	certModels "veritas/internal/certificate/models"
	"veritas/internal/notification"
	"veritas/internal/platform/workerpool"
	reviewModels "veritas/internal/review/models"
	reviewService "veritas/internal/review/service"
	"veritas/internal/verification/confidence"
	"veritas/internal/verification/models"
	"veritas/internal/verification/providers"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
	"veritas/pkg/platform/tx"
)

const DefaultCheckTimeout = 30 * time.Second

type VerificationStore interface {
	Create(ctx context.Context, v *models.Verification) error
	FindByID(ctx context.Context, verificationID id.VerificationID) (*models.Verification, error)
	ListByCertificate(ctx context.Context, certID id.CertificateID) ([]*models.Verification, error)
	Update(ctx context.Context, v *models.Verification) error
	AppendStep(ctx context.Context, step *models.Step) error
	UpdateStep(ctx context.Context, step *models.Step) error
	ListSteps(ctx context.Context, verificationID id.VerificationID) ([]*models.Step, error)
	DeleteSteps(ctx context.Context, verificationID id.VerificationID) error
}

type CertificateStore interface {
	FindByID(ctx context.Context, certID id.CertificateID) (*certModels.Certificate, error)
	UpdateStatus(ctx context.Context, certID id.CertificateID, status certModels.Status, now time.Time) error
	MarkIdentityVerified(ctx context.Context, certID id.CertificateID, now time.Time) error
}

// ReviewQueue receives inconclusive verifications.
type ReviewQueue interface {
	Create(ctx context.Context, req reviewService.CreateRequest) (*reviewModels.Review, error)
}

type Auditor interface {
	Append(ctx context.Context, req audit.AppendRequest) (*audit.Entry, error)
}

type Metrics interface {
	IncPipelineStarted()
	ObservePipeline(status, result string, d time.Duration)
	ObserveStep(stepType, status string, d time.Duration)
	ObserveScore(score float64)
}

// Service is the verification orchestrator.
type Service struct {
	verifications VerificationStore
	certificates  CertificateStore
	reviews       ReviewQueue
	auditor       Auditor
	checks        providers.Set
	calculator    *confidence.Calculator
	pool          *workerpool.Pool
	tx            tx.Runner
	notifier      notification.Notifier
	metrics       Metrics
	tracer        trace.Tracer
	logger        *slog.Logger
	checkTimeout  time.Duration
	now           func() time.Time

	mu       sync.Mutex
	launches uint64
	tasks    map[id.VerificationID]pipelineRun
	retrying map[id.VerificationID]struct{}
}

// pipelineRun is a scheduled pipeline; seq orders launches of the same
// verification.
type pipelineRun struct {
	task *workerpool.Task
	seq  uint64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func WithCalculator(c *confidence.Calculator) Option {
	return func(s *Service) { s.calculator = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithCheckTimeout bounds every provider call.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(
	verifications VerificationStore,
	certificates CertificateStore,
	reviews ReviewQueue,
	auditor Auditor,
	checks providers.Set,
	pool *workerpool.Pool,
	opts ...Option,
) *Service {
	s := &Service{
		verifications: verifications,
		certificates:  certificates,
		reviews:       reviews,
		auditor:       auditor,
		checks:        checks,
		calculator:    confidence.NewDefault(),
		pool:          pool,
		tx:            tx.NoopRunner{},
		tracer:        otel.Tracer("veritas/verification"),
		checkTimeout:  DefaultCheckTimeout,
		now:           time.Now,
		tasks:         make(map[id.VerificationID]pipelineRun),
		retrying:      make(map[id.VerificationID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start records a verification for certID and schedules its pipeline. The
// returned verification is already IN_PROGRESS; use Wait to observe the outcome.
func (s *Service) Start(ctx context.Context, certID id.CertificateID, typ models.Type, requestedBy id.UserID) (*models.Verification, error) {
	if typ == "" {
		typ = models.TypeCombined
	}
	if _, err := s.certificates.FindByID(ctx, certID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}

	now := s.now()
	v, err := models.NewVerification(id.NewVerificationID(), certID, typ, requestedBy, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}
	if err := v.Begin(now); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.verifications.Create(ctx, v); err != nil {
			return err
		}
		if err := s.certificates.UpdateStatus(ctx, certID, certModels.StatusInProgress, now); err != nil {
			return err
		}
		return s.audit(ctx, v, audit.ActionVerificationStarted, requestedBy, map[string]any{
			"certificate_id": certID.String(),
			"type":           string(typ),
		})
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start verification")
	}

	if err := s.launch(ctx, v); err != nil {
		return nil, err
	}
	s.logInfo(ctx, "verification started", "verification_id", v.ID, "certificate_id", certID, "type", typ)
	return v, nil
}

// Retry reruns a FAILED verification from scratch. Every step of the previous
// run is deleted and numbering restarts at 1.
func (s *Service) Retry(ctx context.Context, verificationID id.VerificationID, userID id.UserID) (*models.Verification, error) {
	if !s.acquireRetry(verificationID) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "verification retry already in progress")
	}
	defer s.releaseRetry(verificationID)

	v, err := s.verifications.FindByID(ctx, verificationID)
	if err != nil {
		return nil, translate(err, "failed to load verification")
	}
	if err := v.CanRetry(); err != nil {
		return nil, err
	}

	now := s.now()
	previous := v.Status
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.verifications.DeleteSteps(ctx, v.ID); err != nil {
			return err
		}
		v.ResetForRetry(now)
		if err := s.verifications.Update(ctx, v); err != nil {
			return err
		}
		if err := s.certificates.UpdateStatus(ctx, v.CertificateID, certModels.StatusInProgress, now); err != nil {
			return err
		}
		return s.audit(ctx, v, audit.ActionVerificationRetried, userID, map[string]any{
			"previous_status": string(previous),
		})
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset verification")
	}

	if err := s.launch(ctx, v); err != nil {
		return nil, err
	}
	s.logInfo(ctx, "verification retried", "verification_id", v.ID, "user_id", userID)
	return v, nil
}

func (s *Service) Get(ctx context.Context, verificationID id.VerificationID) (*models.Verification, error) {
	v, err := s.verifications.FindByID(ctx, verificationID)
	if err != nil {
		return nil, translate(err, "failed to load verification")
	}
	return v, nil
}

// GetSteps returns the steps of the latest run in sequence order.
func (s *Service) GetSteps(ctx context.Context, verificationID id.VerificationID) ([]*models.Step, error) {
	if _, err := s.verifications.FindByID(ctx, verificationID); err != nil {
		return nil, translate(err, "failed to load verification")
	}
	steps, err := s.verifications.ListSteps(ctx, verificationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load steps")
	}
	return steps, nil
}

func (s *Service) ListByCertificate(ctx context.Context, certID id.CertificateID) ([]*models.Verification, error) {
	list, err := s.verifications.ListByCertificate(ctx, certID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verifications")
	}
	return list, nil
}

// Wait blocks until the most recent pipeline run of verificationID finishes and
// returns the error that failed it, if any. A verification with no run in this
// process returns immediately when it is already terminal.
func (s *Service) Wait(ctx context.Context, verificationID id.VerificationID) error {
	s.mu.Lock()
	run, ok := s.tasks[verificationID]
	s.mu.Unlock()
	if ok {
		return run.task.Wait(ctx)
	}

	v, err := s.verifications.FindByID(ctx, verificationID)
	if err != nil {
		return translate(err, "failed to load verification")
	}
	if v.IsTerminal() {
		return nil
	}
	return dErrors.New(dErrors.CodeInvalidState, "verification has no pipeline running in this process")
}

// acquireRetry claims the right to reset verificationID. The FAILED check and
// the reset that follows must not interleave with another retry of the same run.
func (s *Service) acquireRetry(verificationID id.VerificationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.retrying[verificationID]; busy {
		return false
	}
	s.retrying[verificationID] = struct{}{}
	return true
}

func (s *Service) releaseRetry(verificationID id.VerificationID) {
	s.mu.Lock()
	delete(s.retrying, verificationID)
	s.mu.Unlock()
}

// launch submits the pipeline. The run context keeps request values such as
// the acting user but is never cancelled with the request. Submit may block on
// a full queue, so s.mu is only taken to record the task.
func (s *Service) launch(ctx context.Context, v *models.Verification) error {
	s.mu.Lock()
	s.launches++
	seq := s.launches
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	task, err := s.pool.Submit(ctx, runCtx, "verification:"+v.ID.String(), func(ctx context.Context) error {
		return s.runPipeline(ctx, v.ID)
	})
	if err != nil {
		s.failPipeline(runCtx, v.ID, stageSchedule, err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule verification pipeline")
	}
	s.track(v.ID, pipelineRun{task: task, seq: seq})
	if s.metrics != nil {
		s.metrics.IncPipelineStarted()
	}

	go func() {
		<-task.Done()
		s.mu.Lock()
		if s.tasks[v.ID].task == task {
			delete(s.tasks, v.ID)
		}
		s.mu.Unlock()
	}()
	return nil
}

// track records run as the current pipeline of verificationID unless a later
// launch got there first.
func (s *Service) track(verificationID id.VerificationID, run pipelineRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[verificationID]; ok && cur.seq > run.seq {
		return
	}
	s.tasks[verificationID] = run
}

func (s *Service) audit(ctx context.Context, v *models.Verification, action audit.Action, userID id.UserID, metadata map[string]any) error {
	return s.appendAudit(ctx, audit.EntityVerification, v.ID.String(), action, userID, metadata)
}

func (s *Service) appendAudit(ctx context.Context, entity audit.EntityType, entityID string, action audit.Action, userID id.UserID, metadata map[string]any) error {
	if s.auditor == nil {
		return nil
	}
	_, err := s.auditor.Append(ctx, audit.AppendRequest{
		EntityType: entity,
		EntityID:   entityID,
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
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
