// Package evidence normalizes provider responses into the record attached to a
// completed verification. The record keeps every raw payload so a decision can
// be inspected later without calling the providers again.
package evidence

import (
	"encoding/json"

	"veritas/internal/verification/providers"
)

// Kind names the check an item came from.
type Kind string

const (
	KindDigital  Kind = "digital_authenticity"
	KindPortal   Kind = "issuer_portal"
	KindForensic Kind = "forensic_analysis"
	KindIdentity Kind = "identity"
)

// Outcome distinguishes a failed check from one that could not be run.
// Both count as not passed.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
	OutcomeError  Outcome = "error"
)

// Detail is the check-specific part of an item. Implemented by DigitalDetail,
// PortalDetail, ForensicDetail and IdentityDetail.
type Detail interface {
	kind() Kind
}

type DigitalDetail struct {
	Status         providers.Status `json:"status"`
	Authentic      bool             `json:"authentic"`
	QRValid        bool             `json:"qrValid"`
	SignatureValid bool             `json:"signatureValid"`
	Reason         string           `json:"reason,omitempty"`
}

type PortalDetail struct {
	Status        providers.Status `json:"status"`
	Found         bool             `json:"found"`
	IssuerName    string           `json:"issuerName,omitempty"`
	MatchedFields []string         `json:"matchedFields,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

type ForensicDetail struct {
	Status         providers.Status         `json:"status"`
	RiskScore      float64                  `json:"riskScore"`
	Recommendation providers.Recommendation `json:"recommendation"`
	Findings       []string                 `json:"findings,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}

type IdentityDetail struct {
	IdentityKind providers.IdentityKind `json:"identityKind"`
	Status       providers.Status       `json:"status,omitempty"`
	Verified     bool                   `json:"verified"`
	Reason       string                 `json:"reason,omitempty"`
}

func (DigitalDetail) kind() Kind  { return KindDigital }
func (PortalDetail) kind() Kind   { return KindPortal }
func (ForensicDetail) kind() Kind { return KindForensic }
func (IdentityDetail) kind() Kind { return KindIdentity }

// Item is one normalized check.
type Item struct {
	Kind          Kind            `json:"kind"`
	Outcome       Outcome         `json:"outcome"`
	Error         string          `json:"error,omitempty"`
	ErrorCategory string          `json:"errorCategory,omitempty"`
	Detail        Detail          `json:"detail,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

func (i Item) Passed() bool { return i.Outcome == OutcomePassed }

// Record is the aggregated evidence for one verification run.
type Record struct {
	Items        []Item `json:"items"`
	TotalChecks  int    `json:"totalChecks"`
	PassedChecks int    `json:"passedChecks"`
	FailedChecks int    `json:"failedChecks"`
}

// Find returns the first item of kind k.
func (r Record) Find(k Kind) (Item, bool) {
	for _, it := range r.Items {
		if it.Kind == k {
			return it, true
		}
	}
	return Item{}, false
}

// Identity returns the identity items in collection order.
func (r Record) Identity() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Kind == KindIdentity {
			out = append(out, it)
		}
	}
	return out
}
