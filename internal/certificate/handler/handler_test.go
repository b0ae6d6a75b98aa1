package handler

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/certificate/models"
	"veritas/internal/certificate/service"
	"veritas/internal/certificate/store"
	"veritas/internal/platform/logger"
	id "veritas/pkg/domain"
	"veritas/pkg/testutil"
)

func TestCertificateRoutes(t *testing.T) {
	owner := id.UserID(uuid.New())
	r := chi.NewRouter()
	r.Use(testutil.AsUser(owner))
	New(service.New(store.NewInMemory()), logger.Discard()).Register(r)

	rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/certificates", map[string]any{
		"type":    "national_id",
		"payload": map[string]any{models.PayloadNationalIDNumber: "X1"},
	}))
	require.Equal(t, http.StatusCreated, rr.Code)
	cert := testutil.UnmarshalResponse[models.Certificate](t, rr)
	assert.Equal(t, models.TypeNationalID, cert.Type)
	assert.Equal(t, owner, cert.UserID)
	assert.Equal(t, models.StatusPending, cert.Status)

	rr = testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/certificates/"+cert.ID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	got := testutil.UnmarshalResponse[models.Certificate](t, rr)
	assert.Equal(t, "X1", got.Payload[models.PayloadNationalIDNumber])
}

func TestCertificateRoutes_Errors(t *testing.T) {
	r := chi.NewRouter()
	r.Use(testutil.AsUser(id.UserID(uuid.New())))
	New(service.New(store.NewInMemory()), logger.Discard()).Register(r)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"unknown type", testutil.NewJSONRequest(t, http.MethodPost, "/certificates", map[string]any{"type": "scroll"}), http.StatusBadRequest, "validation_error"},
		{"unknown field", testutil.NewJSONRequest(t, http.MethodPost, "/certificates", map[string]any{"kind": "DEGREE"}), http.StatusBadRequest, "bad_request"},
		{"bad id", testutil.NewJSONRequest(t, http.MethodGet, "/certificates/nope", nil), http.StatusBadRequest, "bad_request"},
		{"missing", testutil.NewJSONRequest(t, http.MethodGet, "/certificates/"+uuid.NewString(), nil), http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertStatusAndError(t, testutil.DoRequest(r, tt.req), tt.status, tt.code)
		})
	}
}

func TestCertificateRoutes_Anonymous(t *testing.T) {
	r := chi.NewRouter()
	New(service.New(store.NewInMemory()), logger.Discard()).Register(r)

	rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/certificates", map[string]any{"type": "DEGREE"}))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}
