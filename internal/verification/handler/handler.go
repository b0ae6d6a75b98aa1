package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"veritas/internal/verification/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

type Service interface {
	Start(ctx context.Context, certID id.CertificateID, typ models.Type, requestedBy id.UserID) (*models.Verification, error)
	Retry(ctx context.Context, verificationID id.VerificationID, userID id.UserID) (*models.Verification, error)
	Get(ctx context.Context, verificationID id.VerificationID) (*models.Verification, error)
	GetSteps(ctx context.Context, verificationID id.VerificationID) ([]*models.Step, error)
	ListByCertificate(ctx context.Context, certID id.CertificateID) ([]*models.Verification, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates/{id}/verifications", h.HandleStart)
	r.Get("/certificates/{id}/verifications", h.HandleListByCertificate)
	r.Get("/verifications/{id}", h.HandleGet)
	r.Get("/verifications/{id}/steps", h.HandleSteps)
	r.Post("/verifications/{id}/retry", h.HandleRetry)
}

type startRequest struct {
	Type string `json:"type,omitempty"`
}

// HandleStart handles POST /certificates/{id}/verifications. The pipeline runs
// in the background so the response is 202 with the IN_PROGRESS record.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}
	req, err := httputil.DecodeJSON[startRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	v, err := h.service.Start(ctx, certID, models.Type(strings.ToUpper(req.Type)), requestcontext.UserID(ctx))
	if err != nil {
		h.fail(ctx, w, "start verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, v)
}

type listResponse struct {
	Verifications []*models.Verification `json:"verifications"`
}

func (h *Handler) HandleListByCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}
	list, err := h.service.ListByCertificate(ctx, certID)
	if err != nil {
		h.fail(ctx, w, "list verifications failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Verifications: list})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, ok := parseVerificationID(w, r)
	if !ok {
		return
	}
	v, err := h.service.Get(ctx, vid)
	if err != nil {
		h.fail(ctx, w, "get verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

type stepsResponse struct {
	Steps []*models.Step `json:"steps"`
}

func (h *Handler) HandleSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, ok := parseVerificationID(w, r)
	if !ok {
		return
	}
	steps, err := h.service.GetSteps(ctx, vid)
	if err != nil {
		h.fail(ctx, w, "get verification steps failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stepsResponse{Steps: steps})
}

// HandleRetry handles POST /verifications/{id}/retry. Only FAILED
// verifications can be retried; anything else is a 409.
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, ok := parseVerificationID(w, r)
	if !ok {
		return
	}
	v, err := h.service.Retry(ctx, vid, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(ctx, w, "retry verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, v)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}

func parseVerificationID(w http.ResponseWriter, r *http.Request) (id.VerificationID, bool) {
	vid, err := id.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid verification id"))
		return id.VerificationID{}, false
	}
	return vid, true
}
