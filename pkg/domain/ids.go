package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "veritas/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so that a certificate id can never be
// passed where a verification id is expected.
type (
	UserID         uuid.UUID
	CertificateID  uuid.UUID
	VerificationID uuid.UUID
	StepID         uuid.UUID
	ReviewID       uuid.UUID
	AuditEntryID   uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID("certificate id", s)
	return CertificateID(u), err
}

func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID("verification id", s)
	return VerificationID(u), err
}

func ParseStepID(s string) (StepID, error) {
	u, err := parseUUID("step id", s)
	return StepID(u), err
}

func ParseReviewID(s string) (ReviewID, error) {
	u, err := parseUUID("review id", s)
	return ReviewID(u), err
}

func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID("audit entry id", s)
	return AuditEntryID(u), err
}

func NewCertificateID() CertificateID   { return CertificateID(uuid.New()) }
func NewVerificationID() VerificationID { return VerificationID(uuid.New()) }
func NewStepID() StepID                 { return StepID(uuid.New()) }
func NewReviewID() ReviewID             { return ReviewID(uuid.New()) }
func NewAuditEntryID() AuditEntryID     { return AuditEntryID(uuid.New()) }

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id CertificateID) String() string  { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id StepID) String() string         { return uuid.UUID(id).String() }
func (id ReviewID) String() string       { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string   { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ReviewID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// JSON encodes ids in their canonical string form. The nil user id encodes as
// an empty string since it means "no acting user".
func (id UserID) MarshalText() ([]byte, error) {
	if id.IsNil() {
		return []byte{}, nil
	}
	return uuid.UUID(id).MarshalText()
}

func (id *UserID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = UserID{}
		return nil
	}
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id CertificateID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *CertificateID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id VerificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *VerificationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id StepID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *StepID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ReviewID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *ReviewID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *AuditEntryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
