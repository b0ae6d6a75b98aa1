package models

import (
	"time"

	id "veritas/pkg/domain"
)

// Filter narrows a queue listing. Empty slices match everything.
type Filter struct {
	Statuses      []Status
	Priorities    []Priority
	VerifierID    *id.UserID
	CertificateID *id.CertificateID
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

// Matches applies the filter in memory.
func (f Filter) Matches(r *Review) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, r.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, r.Priority) {
		return false
	}
	if f.VerifierID != nil && (r.VerifierID == nil || *r.VerifierID != *f.VerifierID) {
		return false
	}
	if f.CertificateID != nil && r.CertificateID != *f.CertificateID {
		return false
	}
	if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && !r.CreatedAt.Before(*f.CreatedTo) {
		return false
	}
	return true
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

type PageResult struct {
	Items      []*Review `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// DateRange bounds statistics by creation time, [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

type Statistics struct {
	Total                 int              `json:"total"`
	ByStatus              map[Status]int   `json:"by_status"`
	ByPriority            map[Priority]int `json:"by_priority"`
	ByDecision            map[Decision]int `json:"by_decision"`
	SLABreached           int              `json:"sla_breached"`
	AverageResolutionSecs float64          `json:"average_resolution_seconds"`
}
