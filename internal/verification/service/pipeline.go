package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veritas/internal/audit"
	certModels "veritas/internal/certificate/models"
	"veritas/internal/notification"
	reviewModels "veritas/internal/review/models"
	reviewService "veritas/internal/review/service"
	"veritas/internal/verification/confidence"
	"veritas/internal/verification/evidence"
	"veritas/internal/verification/models"
	"veritas/internal/verification/providers"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

const (
	stageSchedule = "schedule"
	stageLoad     = "load"
	stageChecks   = "checks"
	stageFinalize = "finalize"
)

// HighPriorityBelow is the score under which an inconclusive result is queued
// as HIGH priority rather than MEDIUM.
const HighPriorityBelow = 50.0

const (
	attrVerificationID = attribute.Key("veritas.verification.id")
	attrCertificateID  = attribute.Key("veritas.certificate.id")
	attrStepType       = attribute.Key("veritas.step.type")
	attrStepStatus     = attribute.Key("veritas.step.status")
	attrResult         = attribute.Key("veritas.verification.result")
	attrScore          = attribute.Key("veritas.verification.score")
)

const (
	pathIdentity = "identity"
	pathStandard = "standard"
)

// PipelineError reports the stage a pipeline run failed in.
type PipelineError struct {
	VerificationID id.VerificationID
	Stage          string
	Err            error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("verification %s failed at %s: %v", e.VerificationID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ResultData is stored on a completed verification.
type ResultData struct {
	Path       string            `json:"path"`
	Evidence   evidence.Record   `json:"evidence"`
	Confidence confidence.Result `json:"confidence"`
}

type outcome struct {
	result   models.Result
	score    confidence.Result
	evidence evidence.Record
	path     string
}

// run carries one pipeline execution. seq numbers steps from 1.
type run struct {
	s    *Service
	v    *models.Verification
	cert *certModels.Certificate
	seq  int
}

func (s *Service) runPipeline(ctx context.Context, verificationID id.VerificationID) (err error) {
	ctx, span := s.tracer.Start(ctx, "verification.pipeline",
		trace.WithAttributes(attrVerificationID.String(verificationID.String())))
	defer span.End()
	started := s.now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline failed")
		}
	}()

	v, cert, err := s.begin(ctx, verificationID)
	if err != nil {
		return s.abort(ctx, verificationID, stageLoad, err, started)
	}
	span.SetAttributes(attrCertificateID.String(cert.ID.String()))

	r := &run{s: s, v: v, cert: cert}
	out, err := r.execute(ctx)
	if err != nil {
		return s.abort(ctx, verificationID, stageChecks, err, started)
	}

	if err := s.finalize(ctx, v, cert, out); err != nil {
		return s.abort(ctx, verificationID, stageFinalize, err, started)
	}
	span.SetAttributes(attrResult.String(string(out.result)), attrScore.Float64(out.score.Score))

	if s.metrics != nil {
		s.metrics.ObservePipeline(string(models.StatusCompleted), string(out.result), s.now().Sub(started))
		s.metrics.ObserveScore(out.score.Score)
	}
	s.notify(ctx, v)
	s.logInfo(ctx, "verification completed",
		"verification_id", v.ID,
		"certificate_id", cert.ID,
		"result", out.result,
		"score", out.score.Score,
		"checks", out.evidence.TotalChecks,
		"passed", out.evidence.PassedChecks,
	)
	return nil
}

// begin loads the verification and moves a queued run to IN_PROGRESS. Retries
// arrive already IN_PROGRESS.
func (s *Service) begin(ctx context.Context, verificationID id.VerificationID) (*models.Verification, *certModels.Certificate, error) {
	v, err := s.verifications.FindByID(ctx, verificationID)
	if err != nil {
		return nil, nil, err
	}
	// Start and Retry both hand over an IN_PROGRESS record.
	if v.Status != models.StatusInProgress {
		return nil, nil, dErrors.New(dErrors.CodeInvalidState, "verification is "+string(v.Status))
	}

	cert, err := s.certificates.FindByID(ctx, v.CertificateID)
	if err != nil {
		return nil, nil, err
	}
	return v, cert, nil
}

func (r *run) execute(ctx context.Context) (*outcome, error) {
	if r.cert.Type.IsIdentityDocument() {
		return r.identityPath(ctx)
	}
	return r.standardPath(ctx)
}

// identityPath runs the single registry check matching the document type.
func (r *run) identityPath(ctx context.Context) (*outcome, error) {
	kind, stepType, key := providers.IdentityNationalID, models.StepIdentityNationalID, certModels.PayloadNationalIDNumber
	if r.cert.Type == certModels.TypeTaxID {
		kind, stepType, key = providers.IdentityTaxID, models.StepIdentityTaxID, certModels.PayloadTaxIDNumber
	}
	obs, err := r.identity(ctx, kind, stepType, key)
	if err != nil {
		return nil, err
	}

	rec := evidence.Collect(evidence.Responses{Identity: []evidence.IdentityObservation{obs}})
	factors := confidence.IdentityFactors{Identity: checkOf(rec.Identity()[0])}
	return r.decide(rec, factors, pathIdentity), nil
}

// standardPath runs digital (when declared), portal, forensic, then one
// supplementary identity check per identity number in the payload.
func (r *run) standardPath(ctx context.Context) (*outcome, error) {
	var (
		in  evidence.Responses
		err error
	)
	checks := r.s.checks

	if r.cert.HasDigitalFeatures() {
		in.Digital, err = runCheck(ctx, r, models.StepDigitalAuthenticity,
			func(ctx context.Context) (*providers.DigitalResult, error) {
				if checks.Digital == nil {
					return nil, notConfigured(models.StepDigitalAuthenticity)
				}
				return checks.Digital.CheckAuthenticity(ctx, r.cert)
			},
			func(res *providers.DigitalResult) json.RawMessage { return providers.RawPayload(res.Raw, res) })
		if err != nil {
			return nil, err
		}
	}

	in.Portal, err = runCheck(ctx, r, models.StepIssuerPortal,
		func(ctx context.Context) (*providers.PortalResult, error) {
			if checks.Portal == nil {
				return nil, notConfigured(models.StepIssuerPortal)
			}
			return checks.Portal.Lookup(ctx, r.cert)
		},
		func(res *providers.PortalResult) json.RawMessage { return providers.RawPayload(res.Raw, res) })
	if err != nil {
		return nil, err
	}

	in.Forensic, err = runCheck(ctx, r, models.StepForensicAnalysis,
		func(ctx context.Context) (*providers.ForensicResult, error) {
			if checks.Forensic == nil {
				return nil, notConfigured(models.StepForensicAnalysis)
			}
			return checks.Forensic.Analyze(ctx, r.cert)
		},
		func(res *providers.ForensicResult) json.RawMessage { return providers.RawPayload(res.Raw, res) })
	if err != nil {
		return nil, err
	}

	supplementary := []struct {
		kind providers.IdentityKind
		step models.StepType
		key  string
	}{
		{providers.IdentityNationalID, models.StepIdentityNationalID, certModels.PayloadNationalIDNumber},
		{providers.IdentityTaxID, models.StepIdentityTaxID, certModels.PayloadTaxIDNumber},
	}
	for _, sup := range supplementary {
		if _, ok := r.cert.PayloadString(sup.key); !ok {
			continue
		}
		obs, err := r.identity(ctx, sup.kind, sup.step, sup.key)
		if err != nil {
			return nil, err
		}
		in.Identity = append(in.Identity, obs)
	}

	rec := evidence.Collect(in)
	return r.decide(rec, r.standardFactors(rec), pathStandard), nil
}

func (r *run) identity(ctx context.Context, kind providers.IdentityKind, step models.StepType, key string) (evidence.IdentityObservation, error) {
	checks := r.s.checks
	obs, err := runCheck(ctx, r, step,
		func(ctx context.Context) (*providers.IdentityResult, error) {
			number, ok := r.cert.PayloadString(key)
			if !ok {
				return nil, providers.NewProviderError(providers.ErrorBadData, string(step), key+" missing from payload", nil)
			}
			if checks.Identity == nil {
				return nil, notConfigured(step)
			}
			return checks.Identity.VerifyIdentity(ctx, kind, number, r.cert)
		},
		func(res *providers.IdentityResult) json.RawMessage { return providers.RawPayload(res.Raw, res) })
	if err != nil {
		return evidence.IdentityObservation{}, err
	}
	return evidence.IdentityObservation{Kind: kind, Observation: *obs}, nil
}

func (r *run) standardFactors(rec evidence.Record) confidence.StandardFactors {
	var f confidence.StandardFactors
	if item, ok := rec.Find(evidence.KindPortal); ok {
		f.Portal = checkOf(item)
	}
	if item, ok := rec.Find(evidence.KindDigital); ok {
		f.Digital = checkOf(item)
		if d, ok := item.Detail.(evidence.DigitalDetail); ok && item.Outcome != evidence.OutcomeError {
			f.QRValid = d.QRValid && r.cert.HasQRCode
			f.SignatureValid = d.SignatureValid && r.cert.HasDigitalSignature
		}
	}
	if item, ok := rec.Find(evidence.KindForensic); ok {
		f.Forensic.Check = checkOf(item)
		if d, ok := item.Detail.(evidence.ForensicDetail); ok {
			f.Forensic.RiskScore = d.RiskScore
		}
	}
	for _, item := range rec.Identity() {
		f.SupplementaryIdentity = append(f.SupplementaryIdentity, checkOf(item))
	}
	return f
}

// checkOf maps an evidence item onto a scoring factor. An errored check never ran.
func checkOf(item evidence.Item) confidence.Check {
	return confidence.Check{Ran: item.Outcome != evidence.OutcomeError, Passed: item.Passed()}
}

func (r *run) decide(rec evidence.Record, factors confidence.FactorSet, path string) *outcome {
	score := r.s.calculator.Calculate(factors)
	result := models.ResultInconclusive
	switch score.Recommendation {
	case confidence.RecommendAccept:
		result = models.ResultVerified
	case confidence.RecommendReject:
		result = models.ResultUnverified
	}
	return &outcome{result: result, score: score, evidence: rec, path: path}
}

// runCheck records a step around one provider call. Provider errors and
// timeouts end up on the step; only store errors are returned.
func runCheck[T any](ctx context.Context, r *run, typ models.StepType, call func(context.Context) (*T, error), payload func(*T) json.RawMessage) (*evidence.Observation[T], error) {
	s := r.s
	r.seq++
	started := s.now()
	step := models.NewStep(r.v.ID, r.seq, typ, started)
	if err := s.verifications.AppendStep(ctx, step); err != nil {
		return nil, fmt.Errorf("record step %d %s: %w", step.SequenceNumber, typ, err)
	}

	ctx, span := s.tracer.Start(ctx, "verification.step", trace.WithAttributes(attrStepType.String(string(typ))))
	defer span.End()

	res, callErr := callWithTimeout(ctx, s.checkTimeout, call)

	finished := s.now()
	var raw json.RawMessage
	if res != nil {
		raw = payload(res)
	}
	switch {
	case callErr != nil:
		step.Failed(callErr.Error(), raw, finished)
		span.RecordError(callErr)
	case res == nil:
		step.Failed("provider returned no result", nil, finished)
	default:
		step.Succeed(raw, finished)
	}
	span.SetAttributes(attrStepStatus.String(string(step.Status)))

	if err := s.verifications.UpdateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("update step %d %s: %w", step.SequenceNumber, typ, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveStep(string(typ), string(step.Status), finished.Sub(started))
	}
	if callErr != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "verification step failed",
			"verification_id", r.v.ID,
			"step", typ,
			"sequence", step.SequenceNumber,
			"category", providers.GetCategory(callErr),
			"error", callErr,
		)
	}
	return &evidence.Observation[T]{Result: res, Err: callErr}, nil
}

// callWithTimeout enforces the deadline even when the provider ignores ctx.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (*T, error)) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		res *T
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- reply{err: providers.NewProviderError(providers.ErrorInternal, "pipeline", fmt.Sprintf("provider panicked: %v", p), nil)}
			}
		}()
		res, err := call(ctx)
		ch <- reply{res: res, err: err}
	}()

	select {
	case rep := <-ch:
		return rep.res, rep.err
	case <-ctx.Done():
		return nil, providers.NewProviderError(providers.ErrorTimeout, "pipeline",
			fmt.Sprintf("check timed out after %s", timeout), ctx.Err())
	}
}

func notConfigured(step models.StepType) error {
	return providers.NewProviderError(providers.ErrorNotConfigured, string(step), "no provider configured", providers.ErrNotConfigured)
}

// finalize persists the decision. The verification, certificate, review and
// audit writes commit together.
func (s *Service) finalize(ctx context.Context, v *models.Verification, cert *certModels.Certificate, out *outcome) error {
	now := s.now()
	data, err := json.Marshal(ResultData{Path: out.path, Evidence: out.evidence, Confidence: out.score})
	if err != nil {
		return fmt.Errorf("encode result data: %w", err)
	}

	// The completion audit precedes every side effect outside the verification
	// so that, without a real transaction, a failed audit leaves no review and
	// no identity flag behind. The review is opened last for the same reason.
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := v.Complete(out.result, out.score.Score, data, now); err != nil {
			return err
		}
		if err := s.verifications.Update(ctx, v); err != nil {
			return err
		}
		if err := s.audit(ctx, v, audit.ActionVerificationCompleted, v.RequestedBy, map[string]any{
			"certificate_id":   cert.ID.String(),
			"result":           string(out.result),
			"confidence_score": out.score.Score,
			"recommendation":   string(out.score.Recommendation),
			"total_checks":     out.evidence.TotalChecks,
			"passed_checks":    out.evidence.PassedChecks,
		}); err != nil {
			return err
		}
		if err := s.certificates.UpdateStatus(ctx, cert.ID, certificateStatusFor(out.result), now); err != nil {
			return err
		}

		if out.path == pathIdentity && out.result == models.ResultVerified {
			if err := s.appendAudit(ctx, audit.EntityCertificate, cert.ID.String(), audit.ActionIdentityVerified, v.RequestedBy, map[string]any{
				"verification_id": v.ID.String(),
				"type":            string(cert.Type),
			}); err != nil {
				return err
			}
			if err := s.certificates.MarkIdentityVerified(ctx, cert.ID, now); err != nil {
				return err
			}
		}

		if out.result == models.ResultInconclusive {
			priority := reviewModels.PriorityMedium
			if out.score.Score < HighPriorityBelow {
				priority = reviewModels.PriorityHigh
			}
			vid := v.ID
			if _, err := s.reviews.Create(ctx, reviewService.CreateRequest{
				CertificateID:  cert.ID,
				VerificationID: &vid,
				Reason:         fmt.Sprintf("inconclusive verification, confidence score %.2f", out.score.Score),
				Priority:       priority,
			}); err != nil {
				return fmt.Errorf("queue manual review: %w", err)
			}
		}
		return nil
	})
}

func certificateStatusFor(result models.Result) certModels.Status {
	switch result {
	case models.ResultVerified:
		return certModels.StatusVerified
	case models.ResultUnverified:
		return certModels.StatusUnverified
	}
	return certModels.StatusManualReview
}

func (s *Service) abort(ctx context.Context, verificationID id.VerificationID, stage string, cause error, started time.Time) error {
	s.failPipeline(ctx, verificationID, stage, cause)
	if s.metrics != nil {
		s.metrics.ObservePipeline(string(models.StatusFailed), "", s.now().Sub(started))
	}
	return &PipelineError{VerificationID: verificationID, Stage: stage, Err: cause}
}

// failPipeline marks the verification and its certificate FAILED. It reloads
// the verification so a half-applied completion is discarded.
func (s *Service) failPipeline(ctx context.Context, verificationID id.VerificationID, stage string, cause error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "verification pipeline failed",
			"verification_id", verificationID,
			"stage", stage,
			"error", cause,
		)
	}

	now := s.now()
	var failed *models.Verification
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := s.verifications.FindByID(ctx, verificationID)
		if err != nil {
			return err
		}
		v.Fail(now)
		if err := s.verifications.Update(ctx, v); err != nil {
			return err
		}
		if err := s.certificates.UpdateStatus(ctx, v.CertificateID, certModels.StatusFailed, now); err != nil {
			return err
		}
		failed = v
		return s.audit(ctx, v, audit.ActionVerificationFailed, v.RequestedBy, map[string]any{
			"stage": stage,
			"error": cause.Error(),
		})
	})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to record pipeline failure",
				"verification_id", verificationID,
				"stage", stage,
				"error", err,
			)
		}
		return
	}
	s.notify(ctx, failed)
}

// notify is best effort; a delivery failure never changes the outcome.
func (s *Service) notify(ctx context.Context, v *models.Verification) {
	if s.notifier == nil {
		return
	}
	c := notification.Completion{
		VerificationID: v.ID,
		CertificateID:  v.CertificateID,
		Status:         string(v.Status),
		Score:          v.ConfidenceScore,
		CompletedAt:    s.now(),
	}
	if v.CompletedAt != nil {
		c.CompletedAt = *v.CompletedAt
	}
	if v.Result != nil {
		result := string(*v.Result)
		c.Result = &result
	}
	if err := s.notifier.NotifyVerificationComplete(ctx, c); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "verification notification failed",
			"verification_id", v.ID,
			"error", err,
		)
	}
}
