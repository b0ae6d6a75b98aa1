// Package audit keeps a hash-chained, append-only log of every decision the
// service makes. Each entry commits to its predecessor so any edit, deletion or
// reordering is detectable by recomputing the chain.
package audit

import (
	"time"

	id "veritas/pkg/domain"
)

type EntityType string

const (
	EntityCertificate  EntityType = "certificate"
	EntityVerification EntityType = "verification"
	EntityReview       EntityType = "manual_review"
)

type Action string

const (
	ActionVerificationStarted   Action = "verification.started"
	ActionVerificationCompleted Action = "verification.completed"
	ActionVerificationFailed    Action = "verification.failed"
	ActionVerificationRetried   Action = "verification.retried"
	ActionIdentityVerified      Action = "certificate.identity_verified"
	ActionReviewCreated         Action = "review.created"
	ActionReviewAssigned        Action = "review.assigned"
	ActionReviewCompleted       Action = "review.completed"
	ActionReviewEscalated       Action = "review.escalated"
)

// Entry is one link of the chain. PreviousHash is empty only for the first entry.
type Entry struct {
	ID           id.AuditEntryID `json:"id"`
	Seq          int64           `json:"seq"`
	EntityType   EntityType      `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Action       Action          `json:"action"`
	UserID       id.UserID       `json:"user_id,omitempty"`
	Metadata     map[string]any  `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previous_hash"`
}

// AppendRequest is what callers supply; the chain fills in the rest.
type AppendRequest struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	UserID     id.UserID
	Metadata   map[string]any
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	EntityType EntityType
	EntityID   string
	Limit      int
}
