package models

import (
	"time"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// DefaultSLAWindow is how long a claimed review may stay open.
const DefaultSLAWindow = 24 * time.Hour

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusEscalated  Status = "ESCALATED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusEscalated:
		return true
	}
	return false
}

// IsActive reports whether a review still occupies its certificate's slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank orders priorities; higher is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

func (p Priority) IsValid() bool { return p.Rank() > 0 }

type Decision string

const (
	DecisionApproved  Decision = "APPROVED"
	DecisionRejected  Decision = "REJECTED"
	DecisionNeedsInfo Decision = "NEEDS_INFO"
	DecisionEscalated Decision = "ESCALATED"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionNeedsInfo, DecisionEscalated:
		return true
	}
	return false
}

// Review is a human verification task.
//
// Seq is assigned by the store and breaks ties between reviews created in the
// same instant.
type Review struct {
	ID             id.ReviewID        `json:"id"`
	Seq            int64              `json:"seq"`
	CertificateID  id.CertificateID   `json:"certificate_id"`
	VerificationID *id.VerificationID `json:"verification_id,omitempty"`
	Reason         string             `json:"reason"`
	VerifierID     *id.UserID         `json:"verifier_id,omitempty"`
	Status         Status             `json:"status"`
	Priority       Priority           `json:"priority"`
	Decision       *Decision          `json:"decision,omitempty"`
	Comments       string             `json:"comments,omitempty"`
	SLADeadline    *time.Time         `json:"sla_deadline,omitempty"`
	SLABreached    bool               `json:"sla_breached"`
	AssignedAt     *time.Time         `json:"assigned_at,omitempty"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func NewReview(reviewID id.ReviewID, certID id.CertificateID, verificationID *id.VerificationID, reason string, priority Priority, now time.Time) (*Review, error) {
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate id is required")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown priority "+string(priority))
	}
	return &Review{
		ID:             reviewID,
		CertificateID:  certID,
		VerificationID: verificationID,
		Reason:         reason,
		Status:         StatusPending,
		Priority:       priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (r *Review) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusEscalated
}

// CanAssign checks that the review is waiting for a verifier.
func (r *Review) CanAssign() error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvalidState, "review is not pending, current status is "+string(r.Status))
	}
	return nil
}

// ApplyAssignment binds the verifier and starts the SLA clock.
func (r *Review) ApplyAssignment(verifierID id.UserID, now time.Time, slaWindow time.Duration) {
	r.VerifierID = &verifierID
	r.Status = StatusInProgress
	r.AssignedAt = &now
	r.StartedAt = &now
	deadline := now.Add(slaWindow)
	r.SLADeadline = &deadline
	r.SLABreached = false
	r.UpdatedAt = now
}

// CanSubmit checks that verifierID may decide this review.
func (r *Review) CanSubmit(verifierID id.UserID, decision Decision) error {
	if !decision.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown decision "+string(decision))
	}
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "review is already "+string(r.Status))
	}
	if r.VerifierID != nil && *r.VerifierID != verifierID {
		return dErrors.New(dErrors.CodeInvalidState, "review is assigned to another verifier")
	}
	return nil
}

// ApplyDecision records the outcome. ESCALATED moves the review to ESCALATED;
// every other decision completes it. The breach flag is frozen at this point.
func (r *Review) ApplyDecision(verifierID id.UserID, decision Decision, comments string, now time.Time, slaWindow time.Duration) {
	if r.VerifierID == nil {
		r.ApplyAssignment(verifierID, now, slaWindow)
	}
	r.Decision = &decision
	r.Comments = comments
	r.CompletedAt = &now
	r.UpdatedAt = now
	r.SLABreached = r.SLADeadline != nil && now.After(*r.SLADeadline)
	if decision == DecisionEscalated {
		r.Status = StatusEscalated
	} else {
		r.Status = StatusCompleted
	}
}

// RefreshSLA derives the breach flag for open reviews as of now.
func (r *Review) RefreshSLA(now time.Time) {
	if r.IsTerminal() || r.SLADeadline == nil {
		return
	}
	r.SLABreached = now.After(*r.SLADeadline)
}

// ResolutionTime is the time from creation to decision.
func (r *Review) ResolutionTime() (time.Duration, bool) {
	if r.CompletedAt == nil {
		return 0, false
	}
	return r.CompletedAt.Sub(r.CreatedAt), true
}

// Less reports whether a should be served before b: priority first, then age,
// then insertion order.
func Less(a, b *Review) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
