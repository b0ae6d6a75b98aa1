package httpprovider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	certModels "veritas/internal/certificate/models"
	"veritas/internal/verification/providers"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/circuit"
)

func testCert(t *testing.T) *certModels.Certificate {
	t.Helper()
	cert, err := certModels.NewCertificate(id.NewCertificateID(), id.UserID{}, certModels.TypeDegree, "UNIVERSITY",
		map[string]any{"certificateNumber": "D-1001"}, true, false, time.Now())
	require.NoError(t, err)
	return cert
}

func quietOpts(extra ...Option) []Option {
	opts := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetry(0, time.Millisecond, time.Millisecond),
	}
	return append(opts, extra...)
}

func TestPortal_Lookup(t *testing.T) {
	var got checkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/lookup", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"SUCCESS","found":true,"issuerName":"State University"}`))
	}))
	defer srv.Close()

	cert := testCert(t)
	portal := NewPortal(srv.URL, quietOpts(WithAPIKey("secret"))...)
	res, err := portal.Lookup(context.Background(), cert)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, providers.StatusSuccess, res.Status)
	assert.Equal(t, "State University", res.IssuerName)
	assert.JSONEq(t, `{"status":"SUCCESS","found":true,"issuerName":"State University"}`, string(res.Raw))
	assert.Equal(t, cert.ID.String(), got.CertificateID)
	assert.Equal(t, "D-1001", got.Payload["certificateNumber"])
}

func TestIdentity_SendsKindAndNumber(t *testing.T) {
	var got checkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"FAILURE","verified":false,"reason":"number not registered"}`))
	}))
	defer srv.Close()

	res, err := NewIdentity(srv.URL, quietOpts()...).VerifyIdentity(context.Background(), providers.IdentityTaxID, "TX-9", testCert(t))
	require.NoError(t, err)
	assert.Equal(t, providers.StatusFailure, res.Status)
	assert.Equal(t, providers.IdentityTaxID, res.Kind)
	assert.Equal(t, "number not registered", res.Reason)
	assert.Equal(t, "TAX_ID", got.IdentityKind)
	assert.Equal(t, "TX-9", got.IdentityNumber)
}

func TestClient_ErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected providers.ErrorCategory
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, expected: providers.ErrorAuthentication},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: providers.ErrorRateLimited},
		{name: "outage", status: http.StatusServiceUnavailable, expected: providers.ErrorProviderOutage},
		{name: "bad request", status: http.StatusBadRequest, expected: providers.ErrorContractMismatch},
		{name: "malformed body", status: http.StatusOK, body: "not-json", expected: providers.ErrorBadData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewForensic(srv.URL, quietOpts()...).Analyze(context.Background(), testCert(t))
			require.Error(t, err)
			assert.Equal(t, tt.expected, providers.GetCategory(err))
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewDigital(srv.URL, quietOpts()...).CheckAuthenticity(ctx, testCert(t))
	require.Error(t, err)
	assert.Equal(t, providers.ErrorTimeout, providers.GetCategory(err))
}

func TestClient_BreakerOpensOnOutage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuit.New("portal", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	portal := NewPortal(srv.URL, quietOpts(WithBreaker(breaker))...)

	for range 2 {
		_, err := portal.Lookup(context.Background(), testCert(t))
		require.Error(t, err)
	}
	require.True(t, breaker.IsOpen())

	_, err := portal.Lookup(context.Background(), testCert(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	breaker := circuit.New("portal", circuit.WithFailureThreshold(1))
	portal := NewPortal(srv.URL, quietOpts(WithBreaker(breaker))...)
	_, err := portal.Lookup(context.Background(), testCert(t))
	require.Error(t, err)
	assert.Equal(t, providers.ErrorNotFound, providers.GetCategory(err))
	assert.False(t, breaker.IsOpen())
}

func TestClient_RecordCountsOnlyProviderHealth(t *testing.T) {
	tests := []struct {
		category providers.ErrorCategory
		opens    bool
	}{
		{providers.ErrorProviderOutage, true},
		{providers.ErrorTimeout, true},
		{providers.ErrorNotFound, false},
		{providers.ErrorBadData, false},
		{providers.ErrorRateLimited, false},
		{providers.ErrorAuthentication, false},
		{providers.ErrorContractMismatch, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			breaker := circuit.New("digital", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
			c := New("digital", "http://127.0.0.1:0", quietOpts(WithBreaker(breaker))...)

			c.record(providers.NewProviderError(tt.category, "digital", "check failed", nil))
			assert.Equal(t, tt.opens, breaker.IsOpen())

			if tt.opens {
				_, err := c.post(context.Background(), "/v1/check", checkRequest{}, &struct{}{})
				require.Error(t, err)
				assert.Equal(t, providers.ErrorProviderOutage, providers.GetCategory(err))
				assert.Contains(t, err.Error(), "circuit open")
			}
		})
	}
}

// Outages must be consecutive; a provider answering "not found" is healthy.
func TestClient_RecordHealthyAnswerResetsOutageRun(t *testing.T) {
	breaker := circuit.New("portal", circuit.WithFailureThreshold(2))
	c := New("portal", "http://127.0.0.1:0", quietOpts(WithBreaker(breaker))...)

	c.record(providers.NewProviderError(providers.ErrorProviderOutage, "portal", "unexpected status 503", nil))
	c.record(providers.NewProviderError(providers.ErrorNotFound, "portal", "unexpected status 404", nil))
	c.record(providers.NewProviderError(providers.ErrorTimeout, "portal", "request timed out", nil))
	assert.False(t, breaker.IsOpen())

	c.record(providers.NewProviderError(providers.ErrorProviderOutage, "portal", "unexpected status 502", nil))
	assert.True(t, breaker.IsOpen())
}
