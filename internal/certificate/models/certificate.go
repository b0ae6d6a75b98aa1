package models

import (
	"time"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// Type classifies the submitted document.
type Type string

const (
	TypeSchool     Type = "SCHOOL"
	TypeDegree     Type = "DEGREE"
	TypeDiploma    Type = "DIPLOMA"
	TypeMarksheet  Type = "MARKSHEET"
	TypeNationalID Type = "NATIONAL_ID"
	TypeTaxID      Type = "TAX_ID"
	TypeOther      Type = "OTHER"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeSchool, TypeDegree, TypeDiploma, TypeMarksheet, TypeNationalID, TypeTaxID, TypeOther:
		return true
	}
	return false
}

// IsIdentityDocument reports whether the certificate is a national identity
// document rather than an educational record.
func (t Type) IsIdentityDocument() bool {
	return t == TypeNationalID || t == TypeTaxID
}

// Status is the certificate's verification state.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusVerified     Status = "VERIFIED"
	StatusUnverified   Status = "UNVERIFIED"
	StatusManualReview Status = "MANUAL_REVIEW"
	StatusFailed       Status = "FAILED"
)

// Payload keys the pipeline reads from the opaque document bag.
const (
	PayloadNationalIDNumber = "nationalIdNumber"
	PayloadTaxIDNumber      = "taxIdNumber"
	PayloadHolderName       = "holderName"
	PayloadDateOfBirth      = "dateOfBirth"
)

// Certificate is an uploaded document. Identity fields are immutable once
// created; Status and the identity-verified flag change as verifications run.
type Certificate struct {
	ID                  id.CertificateID `json:"id"`
	UserID              id.UserID        `json:"user_id"`
	Type                Type             `json:"type"`
	IssuerType          string           `json:"issuer_type"`
	Payload             map[string]any   `json:"payload"`
	HasQRCode           bool             `json:"has_qr_code"`
	HasDigitalSignature bool             `json:"has_digital_signature"`
	Status              Status           `json:"status"`
	IdentityVerified    bool             `json:"identity_verified"`
	IdentityVerifiedAt  *time.Time       `json:"identity_verified_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// NewCertificate validates invariants and returns a PENDING certificate.
func NewCertificate(certID id.CertificateID, userID id.UserID, typ Type, issuerType string, payload map[string]any, hasQR, hasSignature bool, now time.Time) (*Certificate, error) {
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate id is required")
	}
	if !typ.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown certificate type "+string(typ))
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Certificate{
		ID:                  certID,
		UserID:              userID,
		Type:                typ,
		IssuerType:          issuerType,
		Payload:             payload,
		HasQRCode:           hasQR,
		HasDigitalSignature: hasSignature,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// HasDigitalFeatures reports whether a digital-authenticity check applies.
func (c *Certificate) HasDigitalFeatures() bool {
	return c.HasQRCode || c.HasDigitalSignature
}

// PayloadString returns a non-empty string field from the payload.
func (c *Certificate) PayloadString(key string) (string, bool) {
	v, ok := c.Payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// MarkIdentityVerified sets the identity flag. Setting it twice is harmless.
func (c *Certificate) MarkIdentityVerified(now time.Time) {
	c.IdentityVerified = true
	c.IdentityVerifiedAt = &now
	c.UpdatedAt = now
}
