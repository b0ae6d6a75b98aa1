package models

import (
	"encoding/json"
	"time"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// Type is the kind of verification requested.
type Type string

const (
	TypeDigital  Type = "DIGITAL"
	TypePortal   Type = "PORTAL"
	TypeManual   Type = "MANUAL"
	TypeForensic Type = "FORENSIC"
	TypeCombined Type = "COMBINED"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeDigital, TypePortal, TypeManual, TypeForensic, TypeCombined:
		return true
	}
	return false
}

// Status is the lifecycle state of a verification.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Result is the trust decision of a completed verification.
type Result string

const (
	ResultVerified     Result = "VERIFIED"
	ResultUnverified   Result = "UNVERIFIED"
	ResultInconclusive Result = "INCONCLUSIVE"
)

// Verification is one attempt at verifying a certificate.
//
// Invariants:
//   - Result and ConfidenceScore are set iff Status is COMPLETED
//   - FAILED never carries a result
//   - PENDING → IN_PROGRESS → {COMPLETED | FAILED}; FAILED → IN_PROGRESS via retry only
type Verification struct {
	ID              id.VerificationID `json:"id"`
	CertificateID   id.CertificateID  `json:"certificate_id"`
	RequestedBy     id.UserID         `json:"requested_by,omitempty"`
	Type            Type              `json:"type"`
	Status          Status            `json:"status"`
	Result          *Result           `json:"result,omitempty"`
	ConfidenceScore *float64          `json:"confidence_score,omitempty"`
	ResultData      json.RawMessage   `json:"result_data,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationMs      *int64            `json:"duration_ms,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewVerification returns a PENDING verification.
func NewVerification(verificationID id.VerificationID, certID id.CertificateID, typ Type, requestedBy id.UserID, now time.Time) (*Verification, error) {
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate id is required")
	}
	if !typ.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown verification type "+string(typ))
	}
	return &Verification{
		ID:            verificationID,
		CertificateID: certID,
		RequestedBy:   requestedBy,
		Type:          typ,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Begin moves a PENDING verification to IN_PROGRESS.
func (v *Verification) Begin(now time.Time) error {
	if v.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvalidState, "verification is not pending")
	}
	v.Status = StatusInProgress
	v.StartedAt = &now
	v.UpdatedAt = now
	return nil
}

// Complete records the trust decision.
func (v *Verification) Complete(result Result, score float64, data json.RawMessage, now time.Time) error {
	if v.Status != StatusInProgress {
		return dErrors.New(dErrors.CodeInvalidState, "verification is not in progress")
	}
	v.Status = StatusCompleted
	v.Result = &result
	v.ConfidenceScore = &score
	v.ResultData = data
	v.finish(now)
	return nil
}

// Fail marks the pipeline as failed. No result is recorded.
func (v *Verification) Fail(now time.Time) {
	v.Status = StatusFailed
	v.Result = nil
	v.ConfidenceScore = nil
	v.ResultData = nil
	v.finish(now)
}

// CanRetry checks that a retry is legal from the current state.
func (v *Verification) CanRetry() error {
	if v.Status != StatusFailed {
		return dErrors.New(dErrors.CodeInvalidState,
			"only failed verifications can be retried, current status is "+string(v.Status))
	}
	return nil
}

// ResetForRetry clears the outcome and restarts the run. Call CanRetry first.
func (v *Verification) ResetForRetry(now time.Time) {
	v.Status = StatusInProgress
	v.Result = nil
	v.ConfidenceScore = nil
	v.ResultData = nil
	v.CompletedAt = nil
	v.DurationMs = nil
	v.StartedAt = &now
	v.UpdatedAt = now
}

func (v *Verification) finish(now time.Time) {
	v.CompletedAt = &now
	v.UpdatedAt = now
	if v.StartedAt != nil {
		ms := now.Sub(*v.StartedAt).Milliseconds()
		v.DurationMs = &ms
	}
}

// IsTerminal reports whether the pipeline has finished, successfully or not.
func (v *Verification) IsTerminal() bool {
	return v.Status == StatusCompleted || v.Status == StatusFailed
}
