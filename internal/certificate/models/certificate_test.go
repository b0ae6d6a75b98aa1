package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

func TestNewCertificate(t *testing.T) {
	now := time.Now()

	t.Run("starts pending with an empty payload bag", func(t *testing.T) {
		cert, err := NewCertificate(id.NewCertificateID(), id.UserID{}, TypeDegree, "UNIVERSITY", nil, true, false, now)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, cert.Status)
		assert.NotNil(t, cert.Payload)
		assert.True(t, cert.HasDigitalFeatures())
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := NewCertificate(id.NewCertificateID(), id.UserID{}, Type("PASSPORT"), "", nil, false, false, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestType_IsIdentityDocument(t *testing.T) {
	assert.True(t, TypeNationalID.IsIdentityDocument())
	assert.True(t, TypeTaxID.IsIdentityDocument())
	assert.False(t, TypeMarksheet.IsIdentityDocument())
}

func TestPayloadString(t *testing.T) {
	cert := &Certificate{Payload: map[string]any{
		PayloadNationalIDNumber: "1234-5678",
		PayloadTaxIDNumber:      "",
		"rollNumber":            42,
	}}

	v, ok := cert.PayloadString(PayloadNationalIDNumber)
	assert.True(t, ok)
	assert.Equal(t, "1234-5678", v)

	_, ok = cert.PayloadString(PayloadTaxIDNumber)
	assert.False(t, ok, "empty strings are absent")
	_, ok = cert.PayloadString("rollNumber")
	assert.False(t, ok, "non-strings are absent")
}
