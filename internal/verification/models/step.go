package models

import (
	"encoding/json"
	"time"

	id "veritas/pkg/domain"
)

// StepType is the kind of external check a step runs.
type StepType string

const (
	StepDigitalAuthenticity StepType = "DIGITAL_AUTHENTICITY"
	StepIssuerPortal        StepType = "ISSUER_PORTAL"
	StepForensicAnalysis    StepType = "FORENSIC_ANALYSIS"
	StepIdentityNationalID  StepType = "IDENTITY_NATIONAL_ID"
	StepIdentityTaxID       StepType = "IDENTITY_TAX_ID"
)

// StepStatus is the execution state of a step. A step that ran but whose check
// did not pass is still COMPLETED; FAILED means the check could not be run.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// Step is one check within a verification, ordered by SequenceNumber.
type Step struct {
	ID             id.StepID         `json:"id"`
	VerificationID id.VerificationID `json:"verification_id"`
	SequenceNumber int               `json:"sequence_number"`
	Type           StepType          `json:"step_type"`
	Status         StepStatus        `json:"status"`
	Result         json.RawMessage   `json:"result,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	DurationMs     *int64            `json:"duration_ms,omitempty"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewStep returns a step that is about to execute.
func NewStep(verificationID id.VerificationID, seq int, typ StepType, now time.Time) *Step {
	return &Step{
		ID:             id.NewStepID(),
		VerificationID: verificationID,
		SequenceNumber: seq,
		Type:           typ,
		Status:         StepStatusInProgress,
		ExecutedAt:     &now,
		CreatedAt:      now,
	}
}

// Succeed records the check's payload.
func (s *Step) Succeed(result json.RawMessage, now time.Time) {
	s.Status = StepStatusCompleted
	s.Result = result
	s.stamp(now)
}

// Failed records a check that could not run, keeping whatever partial payload exists.
func (s *Step) Failed(errMsg string, result json.RawMessage, now time.Time) {
	s.Status = StepStatusFailed
	s.ErrorMessage = errMsg
	s.Result = result
	s.stamp(now)
}

func (s *Step) stamp(now time.Time) {
	if s.ExecutedAt != nil {
		ms := now.Sub(*s.ExecutedAt).Milliseconds()
		s.DurationMs = &ms
	}
}
