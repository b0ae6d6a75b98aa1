package providers

import (
	"context"
	"encoding/json"

	certModels "veritas/internal/certificate/models"
)

// Status is the outcome a provider reports for a check it was able to run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Recommendation is a forensic analyzer's verdict.
type Recommendation string

const (
	RecommendAccept Recommendation = "ACCEPT"
	RecommendReview Recommendation = "REVIEW"
	RecommendReject Recommendation = "REJECT"
)

// IdentityKind selects which national registry an identity check goes to.
type IdentityKind string

const (
	IdentityNationalID IdentityKind = "NATIONAL_ID"
	IdentityTaxID      IdentityKind = "TAX_ID"
)

// DigitalResult is returned by a digital authenticity check.
type DigitalResult struct {
	Status         Status          `json:"status"`
	Authentic      bool            `json:"authentic"`
	QRValid        bool            `json:"qrValid"`
	SignatureValid bool            `json:"signatureValid"`
	Reason         string          `json:"reason,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// PortalResult is returned by an issuer portal lookup.
type PortalResult struct {
	Status        Status          `json:"status"`
	Found         bool            `json:"found"`
	IssuerName    string          `json:"issuerName,omitempty"`
	MatchedFields []string        `json:"matchedFields,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// ForensicResult is returned by a forensic document analysis.
type ForensicResult struct {
	Status         Status          `json:"status"`
	RiskScore      float64         `json:"riskScore"`
	Recommendation Recommendation  `json:"recommendation"`
	Findings       []string        `json:"findings,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// IdentityResult is returned by a national identity registry check.
type IdentityResult struct {
	Status   Status          `json:"status"`
	Kind     IdentityKind    `json:"kind"`
	Verified bool            `json:"verified"`
	Reason   string          `json:"reason,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// DigitalAuthenticityChecker validates embedded QR codes and digital signatures.
type DigitalAuthenticityChecker interface {
	CheckAuthenticity(ctx context.Context, cert *certModels.Certificate) (*DigitalResult, error)
}

// IssuerPortal looks a certificate up in the issuing institution's records.
type IssuerPortal interface {
	Lookup(ctx context.Context, cert *certModels.Certificate) (*PortalResult, error)
}

// ForensicAnalyzer inspects the document for signs of tampering.
type ForensicAnalyzer interface {
	Analyze(ctx context.Context, cert *certModels.Certificate) (*ForensicResult, error)
}

// IdentityVerifier checks an identity number against the national registry.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, kind IdentityKind, number string, cert *certModels.Certificate) (*IdentityResult, error)
}

// Set bundles the providers a pipeline can call. Nil members are treated as
// unavailable and the matching step is recorded as failed.
type Set struct {
	Digital  DigitalAuthenticityChecker
	Portal   IssuerPortal
	Forensic ForensicAnalyzer
	Identity IdentityVerifier
}

// RawPayload returns the provider's original body, or the result re-encoded
// when the provider did not keep one.
func RawPayload(raw json.RawMessage, v any) json.RawMessage {
	if len(raw) > 0 {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
