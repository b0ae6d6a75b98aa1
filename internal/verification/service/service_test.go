package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"veritas/internal/audit"
	auditmemory "veritas/internal/audit/store/memory"
	certModels "veritas/internal/certificate/models"
	certStore "veritas/internal/certificate/store"
	"veritas/internal/notification"
	"veritas/internal/platform/metrics"
	"veritas/internal/platform/workerpool"
	reviewModels "veritas/internal/review/models"
	reviewService "veritas/internal/review/service"
	reviewStore "veritas/internal/review/store"
	"veritas/internal/verification/models"
	"veritas/internal/verification/providers"
	"veritas/internal/verification/providers/mocks"
	verificationStore "veritas/internal/verification/store"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Completion
}

func (n *recordingNotifier) NotifyVerificationComplete(_ context.Context, c notification.Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return nil
}

func (n *recordingNotifier) all() []notification.Completion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Completion(nil), n.sent...)
}

// flakyCertificates fails UpdateStatus for one target status a fixed number of times.
type flakyCertificates struct {
	*certStore.InMemory
	mu       sync.Mutex
	target   certModels.Status
	failures int
}

func (f *flakyCertificates) UpdateStatus(ctx context.Context, certID id.CertificateID, status certModels.Status, now time.Time) error {
	f.mu.Lock()
	if status == f.target && f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("certificate store unavailable")
	}
	f.mu.Unlock()
	return f.InMemory.UpdateStatus(ctx, certID, status, now)
}

// flakyAuditor rejects the first append of one action.
type flakyAuditor struct {
	*audit.Chain
	mu     sync.Mutex
	target audit.Action
	failed bool
}

func (f *flakyAuditor) Append(ctx context.Context, req audit.AppendRequest) (*audit.Entry, error) {
	f.mu.Lock()
	if req.Action == f.target && !f.failed {
		f.failed = true
		f.mu.Unlock()
		return nil, errors.New("audit store unavailable")
	}
	f.mu.Unlock()
	return f.Chain.Append(ctx, req)
}

type OrchestratorSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	digital  *mocks.MockDigitalAuthenticityChecker
	portal   *mocks.MockIssuerPortal
	forensic *mocks.MockForensicAnalyzer
	identity *mocks.MockIdentityVerifier

	verifications *verificationStore.InMemory
	certs         *flakyCertificates
	reviewStore   *reviewStore.InMemory
	chain         *audit.Chain
	notifier      *recordingNotifier
	metrics       *metrics.Metrics
	pool          *workerpool.Pool
	requester     id.UserID
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.digital = mocks.NewMockDigitalAuthenticityChecker(s.ctrl)
	s.portal = mocks.NewMockIssuerPortal(s.ctrl)
	s.forensic = mocks.NewMockForensicAnalyzer(s.ctrl)
	s.identity = mocks.NewMockIdentityVerifier(s.ctrl)

	s.verifications = verificationStore.NewInMemory()
	s.certs = &flakyCertificates{InMemory: certStore.NewInMemory()}
	s.reviewStore = reviewStore.NewInMemory()
	s.chain = audit.NewChain(auditmemory.NewInMemoryStore())
	s.notifier = &recordingNotifier{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.pool = workerpool.New(2, 8, nil)
	s.requester = id.UserID(id.NewCertificateID())
}

func (s *OrchestratorSuite) TearDownTest() {
	s.Require().NoError(s.pool.Shutdown(context.Background()))
}

func (s *OrchestratorSuite) service(checks providers.Set, opts ...Option) *Service {
	return s.serviceWithAuditor(s.chain, checks, opts...)
}

func (s *OrchestratorSuite) serviceWithAuditor(auditor Auditor, checks providers.Set, opts ...Option) *Service {
	reviews := reviewService.New(s.reviewStore, s.certs, auditor)
	base := []Option{
		WithNotifier(s.notifier),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(s.verifications, s.certs, reviews, auditor, checks, s.pool, append(base, opts...)...)
}

// failedVerification stores a FAILED run for cert without going through the pipeline.
func (s *OrchestratorSuite) failedVerification(cert *certModels.Certificate) *models.Verification {
	now := time.Now()
	v, err := models.NewVerification(id.NewVerificationID(), cert.ID, models.TypeCombined, s.requester, now)
	s.Require().NoError(err)
	s.Require().NoError(v.Begin(now))
	v.Fail(now)
	s.Require().NoError(s.verifications.Create(s.ctx, v))
	return v
}

func (s *OrchestratorSuite) allChecks() providers.Set {
	return providers.Set{Digital: s.digital, Portal: s.portal, Forensic: s.forensic, Identity: s.identity}
}

func (s *OrchestratorSuite) certificate(typ certModels.Type, hasQR bool, payload map[string]any) *certModels.Certificate {
	cert, err := certModels.NewCertificate(id.NewCertificateID(), s.requester, typ, "university", payload, hasQR, false, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.certs.Create(s.ctx, cert))
	return cert
}

func (s *OrchestratorSuite) runToEnd(svc *Service, cert *certModels.Certificate) *models.Verification {
	v, err := svc.Start(s.ctx, cert.ID, models.TypeCombined, s.requester)
	s.Require().NoError(err)
	s.Require().NoError(svc.Wait(s.ctx, v.ID))
	v, err = svc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	return v
}

func (s *OrchestratorSuite) certStatus(certID id.CertificateID) certModels.Status {
	cert, err := s.certs.FindByID(s.ctx, certID)
	s.Require().NoError(err)
	return cert.Status
}

func (s *OrchestratorSuite) actions(entity audit.EntityType, entityID string) []audit.Action {
	entries, err := s.chain.List(s.ctx, audit.Filter{EntityType: entity, EntityID: entityID})
	s.Require().NoError(err)
	out := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *OrchestratorSuite) stepTypes(svc *Service, vid id.VerificationID) ([]models.StepType, []int) {
	steps, err := svc.GetSteps(s.ctx, vid)
	s.Require().NoError(err)
	var types []models.StepType
	var seqs []int
	for _, st := range steps {
		types = append(types, st.Type)
		seqs = append(seqs, st.SequenceNumber)
	}
	return types, seqs
}

func (s *OrchestratorSuite) TestScenarioA_AllChecksPass() {
	cert := s.certificate(certModels.TypeDegree, true, nil)
	s.digital.EXPECT().CheckAuthenticity(gomock.Any(), gomock.Any()).
		Return(&providers.DigitalResult{Status: providers.StatusSuccess, Authentic: true, QRValid: true}, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true, IssuerName: "State University"}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, RiskScore: 5, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(models.StatusCompleted, v.Status)
	s.Require().NotNil(v.Result)
	s.Equal(models.ResultVerified, *v.Result)
	s.Equal(95.0, *v.ConfidenceScore)
	s.Equal(certModels.StatusVerified, s.certStatus(cert.ID))

	types, seqs := s.stepTypes(svc, v.ID)
	s.Equal([]models.StepType{models.StepDigitalAuthenticity, models.StepIssuerPortal, models.StepForensicAnalysis}, types)
	s.Equal([]int{1, 2, 3}, seqs)

	var data ResultData
	s.Require().NoError(json.Unmarshal(v.ResultData, &data))
	s.Equal(pathStandard, data.Path)
	s.Equal(3, data.Evidence.PassedChecks)
	s.Len(data.Confidence.Breakdown, 5)

	s.Equal([]audit.Action{audit.ActionVerificationStarted, audit.ActionVerificationCompleted},
		s.actions(audit.EntityVerification, v.ID.String()))
	ok, err := s.chain.Verify(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	sent := s.notifier.all()
	s.Require().Len(sent, 1)
	s.Equal("COMPLETED", sent[0].Status)
	s.Equal("VERIFIED", *sent[0].Result)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.PipelinesStarted))
}

func (s *OrchestratorSuite) TestScenarioB_Unverified() {
	cert := s.certificate(certModels.TypeDiploma, true, nil)
	s.digital.EXPECT().CheckAuthenticity(gomock.Any(), gomock.Any()).
		Return(&providers.DigitalResult{Status: providers.StatusSuccess, Authentic: true}, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusFailure, Found: false, Reason: "no matching record"}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, RiskScore: 60, Recommendation: providers.RecommendReject}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(models.ResultUnverified, *v.Result)
	s.Equal(8.0, *v.ConfidenceScore)
	s.Equal(certModels.StatusUnverified, s.certStatus(cert.ID))

	steps, err := svc.GetSteps(s.ctx, v.ID)
	s.Require().NoError(err)
	for _, st := range steps {
		s.Equal(models.StepStatusCompleted, st.Status, "a check that ran but did not pass is still a completed step")
	}
}

// Zero forensic risk with a valid QR code: portal 50, digital 20, forensic 20, QR 5.
func (s *OrchestratorSuite) TestZeroRiskWithValidQRScores95() {
	cert := s.certificate(certModels.TypeDegree, true, nil)
	s.digital.EXPECT().CheckAuthenticity(gomock.Any(), gomock.Any()).
		Return(&providers.DigitalResult{Status: providers.StatusSuccess, Authentic: true, QRValid: true}, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, RiskScore: 0, Recommendation: providers.RecommendAccept}, nil)

	v := s.runToEnd(s.service(s.allChecks()), cert)

	s.Equal(models.ResultVerified, *v.Result)
	s.Equal(95.0, *v.ConfidenceScore)
}

// Risk 85 rejected: digital 20, portal miss 0, forensic penalty 85/100*20 = 17.
func (s *OrchestratorSuite) TestHighRiskRejectWithoutQRScores3() {
	cert := s.certificate(certModels.TypeDiploma, true, nil)
	s.digital.EXPECT().CheckAuthenticity(gomock.Any(), gomock.Any()).
		Return(&providers.DigitalResult{Status: providers.StatusSuccess, Authentic: true, QRValid: false}, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusFailure, Found: false, Reason: "no matching record"}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, RiskScore: 85, Recommendation: providers.RecommendReject}, nil)

	v := s.runToEnd(s.service(s.allChecks()), cert)

	s.Equal(models.ResultUnverified, *v.Result)
	s.InDelta(3.0, *v.ConfidenceScore, 1e-9)
	s.Equal(certModels.StatusUnverified, s.certStatus(cert.ID))
	_, err := s.reviewStore.FindActiveByCertificate(s.ctx, cert.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *OrchestratorSuite) TestScenarioC_InconclusiveQueuesReview() {
	cert := s.certificate(certModels.TypeMarksheet, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, RiskScore: 50, Recommendation: providers.RecommendReview}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(models.ResultInconclusive, *v.Result)
	s.Equal(40.0, *v.ConfidenceScore)
	s.Equal(certModels.StatusManualReview, s.certStatus(cert.ID))

	types, _ := s.stepTypes(svc, v.ID)
	s.Equal([]models.StepType{models.StepIssuerPortal, models.StepForensicAnalysis}, types)

	review, err := s.reviewStore.FindActiveByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(reviewModels.PriorityHigh, review.Priority)
	s.Require().NotNil(review.VerificationID)
	s.Equal(v.ID, *review.VerificationID)
}

func (s *OrchestratorSuite) TestInconclusiveAboveFiftyIsMediumPriority() {
	cert := s.certificate(certModels.TypeSchool, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(nil, providers.NewProviderError(providers.ErrorProviderOutage, "forensic", "unavailable", nil))

	v := s.runToEnd(s.service(s.allChecks()), cert)
	s.Equal(50.0, *v.ConfidenceScore)

	review, err := s.reviewStore.FindActiveByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(reviewModels.PriorityMedium, review.Priority)
}

func (s *OrchestratorSuite) TestIdentityPath() {
	cert := s.certificate(certModels.TypeNationalID, false, map[string]any{certModels.PayloadNationalIDNumber: "ID-12345"})
	s.identity.EXPECT().VerifyIdentity(gomock.Any(), providers.IdentityNationalID, "ID-12345", gomock.Any()).
		Return(&providers.IdentityResult{Status: providers.StatusSuccess, Kind: providers.IdentityNationalID, Verified: true}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(models.ResultVerified, *v.Result)
	s.Equal(80.0, *v.ConfidenceScore)

	types, _ := s.stepTypes(svc, v.ID)
	s.Equal([]models.StepType{models.StepIdentityNationalID}, types)

	got, err := s.certs.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.True(got.IdentityVerified)
	s.NotNil(got.IdentityVerifiedAt)
	s.Equal([]audit.Action{audit.ActionIdentityVerified}, s.actions(audit.EntityCertificate, cert.ID.String()))
}

func (s *OrchestratorSuite) TestIdentityPathWithoutNumberFails() {
	cert := s.certificate(certModels.TypeTaxID, false, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(models.ResultUnverified, *v.Result)
	steps, err := svc.GetSteps(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 1)
	s.Equal(models.StepIdentityTaxID, steps[0].Type)
	s.Equal(models.StepStatusFailed, steps[0].Status)
	s.Contains(steps[0].ErrorMessage, certModels.PayloadTaxIDNumber)

	got, err := s.certs.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.False(got.IdentityVerified)
}

func (s *OrchestratorSuite) TestSupplementaryIdentityChecks() {
	cert := s.certificate(certModels.TypeDegree, false, map[string]any{
		certModels.PayloadTaxIDNumber: "TAX-9",
		"holderName":                  "A. Student",
	})
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)
	s.identity.EXPECT().VerifyIdentity(gomock.Any(), providers.IdentityTaxID, "TAX-9", gomock.Any()).
		Return(&providers.IdentityResult{Status: providers.StatusSuccess, Verified: true}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(80.0, *v.ConfidenceScore)
	types, seqs := s.stepTypes(svc, v.ID)
	s.Equal([]models.StepType{models.StepIssuerPortal, models.StepForensicAnalysis, models.StepIdentityTaxID}, types)
	s.Equal([]int{1, 2, 3}, seqs)

	got, err := s.certs.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.False(got.IdentityVerified, "supplementary checks never mark the identity flag")
}

func (s *OrchestratorSuite) TestProviderErrorFailsStepAndPipelineContinues() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(nil, providers.NewProviderError(providers.ErrorProviderOutage, "portal", "unexpected status 502", nil))
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	s.Equal(models.StatusCompleted, v.Status)
	s.Equal(20.0, *v.ConfidenceScore)

	steps, err := svc.GetSteps(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 2)
	s.Equal(models.StepStatusFailed, steps[0].Status)
	s.Contains(steps[0].ErrorMessage, "502")
	s.Equal(models.StepStatusCompleted, steps[1].Status)
}

func (s *OrchestratorSuite) TestCheckTimeoutFailsStep() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ *certModels.Certificate) (*providers.PortalResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks(), WithCheckTimeout(20*time.Millisecond))
	v := s.runToEnd(svc, cert)

	steps, err := svc.GetSteps(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusFailed, steps[0].Status)

	var data ResultData
	s.Require().NoError(json.Unmarshal(v.ResultData, &data))
	s.Equal(string(providers.ErrorTimeout), data.Evidence.Items[0].ErrorCategory)
}

func (s *OrchestratorSuite) TestMissingProviderFailsStep() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)

	svc := s.service(providers.Set{Portal: s.portal})
	v := s.runToEnd(svc, cert)

	steps, err := svc.GetSteps(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 2)
	s.Equal(models.StepStatusFailed, steps[1].Status)
	s.Equal(50.0, *v.ConfidenceScore)
}

func (s *OrchestratorSuite) TestFinalizeFailureThenRetry() {
	cert := s.certificate(certModels.TypeDegree, true, nil)
	s.digital.EXPECT().CheckAuthenticity(gomock.Any(), gomock.Any()).Times(2).
		Return(&providers.DigitalResult{Status: providers.StatusSuccess, Authentic: true, QRValid: true}, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).Times(2).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).Times(2).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	s.certs.target = certModels.StatusVerified
	s.certs.failures = 1
	svc := s.service(s.allChecks())

	v, err := svc.Start(s.ctx, cert.ID, models.TypeCombined, s.requester)
	s.Require().NoError(err)

	waitErr := svc.Wait(s.ctx, v.ID)
	var perr *PipelineError
	s.Require().ErrorAs(waitErr, &perr)
	s.Equal(stageFinalize, perr.Stage)

	failed, err := svc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, failed.Status)
	s.Nil(failed.Result)
	s.Nil(failed.ConfidenceScore)
	s.Equal(certModels.StatusFailed, s.certStatus(cert.ID))

	retried, err := svc.Retry(s.ctx, v.ID, s.requester)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, retried.Status)
	s.Require().NoError(svc.Wait(s.ctx, v.ID))

	done, err := svc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.ResultVerified, *done.Result)

	_, seqs := s.stepTypes(svc, v.ID)
	s.Equal([]int{1, 2, 3}, seqs, "retry clears the previous run's steps")

	s.Equal([]audit.Action{
		audit.ActionVerificationStarted,
		audit.ActionVerificationFailed,
		audit.ActionVerificationRetried,
		audit.ActionVerificationCompleted,
	}, s.actions(audit.EntityVerification, v.ID.String()))

	ok, err := s.chain.Verify(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	sent := s.notifier.all()
	s.Require().Len(sent, 2)
	s.Equal("FAILED", sent[0].Status)
	s.Nil(sent[0].Result)
}

func (s *OrchestratorSuite) TestFailedCompletionAuditLeavesNoReview() {
	cert := s.certificate(certModels.TypeMarksheet, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, RiskScore: 50, Recommendation: providers.RecommendReview}, nil)

	auditor := &flakyAuditor{Chain: s.chain, target: audit.ActionVerificationCompleted}
	svc := s.serviceWithAuditor(auditor, s.allChecks())

	v, err := svc.Start(s.ctx, cert.ID, models.TypeCombined, s.requester)
	s.Require().NoError(err)
	var perr *PipelineError
	s.Require().ErrorAs(svc.Wait(s.ctx, v.ID), &perr)
	s.Equal(stageFinalize, perr.Stage)

	failed, err := svc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, failed.Status)
	s.Equal(certModels.StatusFailed, s.certStatus(cert.ID))

	_, err = s.reviewStore.FindActiveByCertificate(s.ctx, cert.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal([]audit.Action{audit.ActionVerificationStarted, audit.ActionVerificationFailed},
		s.actions(audit.EntityVerification, v.ID.String()))
}

func (s *OrchestratorSuite) TestFailedIdentityFinalizeLeavesFlagUnset() {
	for _, target := range []audit.Action{audit.ActionVerificationCompleted, audit.ActionIdentityVerified} {
		cert := s.certificate(certModels.TypeNationalID, false, map[string]any{certModels.PayloadNationalIDNumber: "ID-777"})
		s.identity.EXPECT().VerifyIdentity(gomock.Any(), providers.IdentityNationalID, "ID-777", gomock.Any()).
			Return(&providers.IdentityResult{Status: providers.StatusSuccess, Kind: providers.IdentityNationalID, Verified: true}, nil)

		auditor := &flakyAuditor{Chain: s.chain, target: target}
		svc := s.serviceWithAuditor(auditor, s.allChecks())

		v, err := svc.Start(s.ctx, cert.ID, models.TypeCombined, s.requester)
		s.Require().NoError(err)
		s.Error(svc.Wait(s.ctx, v.ID), string(target))

		got, err := s.certs.FindByID(s.ctx, cert.ID)
		s.Require().NoError(err)
		s.False(got.IdentityVerified, string(target))
		s.Nil(got.IdentityVerifiedAt, string(target))
		s.Equal(certModels.StatusFailed, got.Status, string(target))
	}
}

func (s *OrchestratorSuite) TestStartReturnsInProgress() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	release := make(chan struct{})
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *certModels.Certificate) (*providers.PortalResult, error) {
			<-release
			return &providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil
		})
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks())
	v, err := svc.Start(s.ctx, cert.ID, models.TypeCombined, s.requester)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, v.Status)
	s.NotNil(v.StartedAt)

	stored, err := svc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, stored.Status)
	s.Equal(v.StartedAt, stored.StartedAt)

	close(release)
	s.Require().NoError(svc.Wait(s.ctx, v.ID))
}

// A retry blocked on a full pool must not stall other callers, and a second
// retry of the same run is turned away.
func (s *OrchestratorSuite) TestRetryBlockedOnPoolDoesNotHoldService() {
	s.Require().NoError(s.pool.Shutdown(s.ctx))
	s.pool = workerpool.New(1, 0, nil)

	hold := make(chan struct{})
	_, err := s.pool.Submit(s.ctx, s.ctx, "hold", func(context.Context) error {
		<-hold
		return nil
	})
	s.Require().NoError(err)

	cert := s.certificate(certModels.TypeDegree, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks())
	failed := s.failedVerification(cert)
	other := s.failedVerification(s.certificate(certModels.TypeDegree, false, nil))

	type result struct {
		v   *models.Verification
		err error
	}
	first := make(chan result, 1)
	go func() {
		v, err := svc.Retry(s.ctx, failed.ID, s.requester)
		first <- result{v, err}
	}()

	s.Eventually(func() bool {
		v, err := svc.Get(s.ctx, failed.ID)
		return err == nil && v.Status == models.StatusInProgress
	}, 2*time.Second, 5*time.Millisecond)

	_, err = svc.Retry(s.ctx, failed.ID, s.requester)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	waited := make(chan error, 1)
	go func() { waited <- svc.Wait(s.ctx, other.ID) }()
	select {
	case err := <-waited:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("Wait blocked behind a pending retry")
	}

	close(hold)
	res := <-first
	s.Require().NoError(res.err)
	s.Equal(models.StatusInProgress, res.v.Status)
	s.Require().NoError(svc.Wait(s.ctx, failed.ID))

	done, err := svc.Get(s.ctx, failed.ID)
	s.Require().NoError(err)
	s.Equal(models.ResultVerified, *done.Result)
}

func (s *OrchestratorSuite) TestRetryRequiresFailed() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(&providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil)
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks())
	v := s.runToEnd(svc, cert)

	_, err := svc.Retry(s.ctx, v.ID, s.requester)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = svc.Retry(s.ctx, id.NewVerificationID(), s.requester)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *OrchestratorSuite) TestStartValidation() {
	svc := s.service(s.allChecks())

	_, err := svc.Start(s.ctx, id.NewCertificateID(), models.TypeCombined, s.requester)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	cert := s.certificate(certModels.TypeDegree, false, nil)
	_, err = svc.Start(s.ctx, cert.ID, "AUTOMATIC", s.requester)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.True(dErrors.HasCode(svc.Wait(s.ctx, id.NewVerificationID()), dErrors.CodeNotFound))
	_, err = svc.GetSteps(s.ctx, id.NewVerificationID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *OrchestratorSuite) TestStartAfterShutdownMarksFailed() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	svc := s.service(s.allChecks())
	s.Require().NoError(s.pool.Shutdown(s.ctx))

	_, err := svc.Start(s.ctx, cert.ID, models.TypeCombined, s.requester)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	list, err := svc.ListByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(models.StatusFailed, list[0].Status)
	s.Equal(certModels.StatusFailed, s.certStatus(cert.ID))
}

func (s *OrchestratorSuite) TestStartIsDetachedFromRequestCancellation() {
	cert := s.certificate(certModels.TypeDegree, false, nil)
	release := make(chan struct{})
	s.portal.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ *certModels.Certificate) (*providers.PortalResult, error) {
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &providers.PortalResult{Status: providers.StatusSuccess, Found: true}, nil
		})
	s.forensic.EXPECT().Analyze(gomock.Any(), gomock.Any()).
		Return(&providers.ForensicResult{Status: providers.StatusSuccess, Recommendation: providers.RecommendAccept}, nil)

	svc := s.service(s.allChecks())
	reqCtx, cancel := context.WithCancel(s.ctx)
	v, err := svc.Start(reqCtx, cert.ID, models.TypeCombined, s.requester)
	s.Require().NoError(err)
	cancel()
	close(release)

	s.Require().NoError(svc.Wait(s.ctx, v.ID))
	done, err := svc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.ResultVerified, *done.Result)
}
