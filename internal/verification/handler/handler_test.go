package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/verification/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/requestcontext"
)

type stubService struct {
	verifications map[id.VerificationID]*models.Verification
	started       []models.Type
	startedBy     []id.UserID
}

func newStub() *stubService {
	return &stubService{verifications: map[id.VerificationID]*models.Verification{}}
}

func (s *stubService) add(status models.Status) *models.Verification {
	v, _ := models.NewVerification(id.NewVerificationID(), id.NewCertificateID(), models.TypeCombined, id.UserID{}, time.Now())
	v.Status = status
	s.verifications[v.ID] = v
	return v
}

func (s *stubService) Start(_ context.Context, certID id.CertificateID, typ models.Type, by id.UserID) (*models.Verification, error) {
	if typ == "" {
		typ = models.TypeCombined
	}
	if !typ.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown verification type")
	}
	s.started = append(s.started, typ)
	s.startedBy = append(s.startedBy, by)
	now := time.Now()
	v, _ := models.NewVerification(id.NewVerificationID(), certID, typ, by, now)
	_ = v.Begin(now)
	s.verifications[v.ID] = v
	return v, nil
}

func (s *stubService) Retry(_ context.Context, vid id.VerificationID, _ id.UserID) (*models.Verification, error) {
	v, ok := s.verifications[vid]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	if err := v.CanRetry(); err != nil {
		return nil, err
	}
	v.ResetForRetry(time.Now())
	return v, nil
}

func (s *stubService) Get(_ context.Context, vid id.VerificationID) (*models.Verification, error) {
	v, ok := s.verifications[vid]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	return v, nil
}

func (s *stubService) GetSteps(ctx context.Context, vid id.VerificationID) ([]*models.Step, error) {
	if _, err := s.Get(ctx, vid); err != nil {
		return nil, err
	}
	return []*models.Step{models.NewStep(vid, 1, models.StepIssuerPortal, time.Now())}, nil
}

func (s *stubService) ListByCertificate(_ context.Context, certID id.CertificateID) ([]*models.Verification, error) {
	var out []*models.Verification
	for _, v := range s.verifications {
		if v.CertificateID == certID {
			out = append(out, v)
		}
	}
	return out, nil
}

func newRouter(svc Service, caller id.UserID) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(requestcontext.WithUserID(req.Context(), caller)))
		})
	})
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandleStart(t *testing.T) {
	stub := newStub()
	caller := id.UserID(id.NewVerificationID())
	router := newRouter(stub, caller)
	certID := id.NewCertificateID()

	rec := serve(router, http.MethodPost, "/certificates/"+certID.String()+"/verifications", `{"type":"portal"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var v models.Verification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, certID, v.CertificateID)
	assert.Equal(t, models.StatusInProgress, v.Status)
	assert.NotNil(t, v.StartedAt)
	assert.Equal(t, []models.Type{models.TypePortal}, stub.started)
	assert.Equal(t, []id.UserID{caller}, stub.startedBy)

	rec = serve(router, http.MethodPost, "/certificates/"+certID.String()+"/verifications", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.TypeCombined, stub.started[1])

	rec = serve(router, http.MethodGet, "/certificates/"+certID.String()+"/verifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Verifications, 2)
}

func TestHandleRetry(t *testing.T) {
	stub := newStub()
	router := newRouter(stub, id.UserID{})
	failed := stub.add(models.StatusFailed)
	completed := stub.add(models.StatusCompleted)

	rec := serve(router, http.MethodPost, "/verifications/"+failed.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(router, http.MethodPost, "/verifications/"+completed.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleErrors(t *testing.T) {
	stub := newStub()
	router := newRouter(stub, id.UserID{})
	existing := stub.add(models.StatusPending)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"get", http.MethodGet, "/verifications/" + existing.ID.String(), "", http.StatusOK},
		{"steps", http.MethodGet, "/verifications/" + existing.ID.String() + "/steps", "", http.StatusOK},
		{"unknown verification", http.MethodGet, "/verifications/" + id.NewVerificationID().String(), "", http.StatusNotFound},
		{"unknown steps", http.MethodGet, "/verifications/" + id.NewVerificationID().String() + "/steps", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/verifications/123", "", http.StatusBadRequest},
		{"bad certificate id", http.MethodPost, "/certificates/abc/verifications", "", http.StatusBadRequest},
		{"bad type", http.MethodPost, "/certificates/" + id.NewCertificateID().String() + "/verifications", `{"type":"psychic"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/certificates/" + id.NewCertificateID().String() + "/verifications", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(router, tt.method, tt.path, tt.body).Code)
		})
	}
}
