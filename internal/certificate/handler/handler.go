package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"veritas/internal/certificate/models"
	"veritas/internal/certificate/service"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.Certificate, error)
	Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates", h.HandleCreate)
	r.Get("/certificates/{id}", h.HandleGet)
}

type createRequest struct {
	Type                string         `json:"type"`
	IssuerType          string         `json:"issuer_type"`
	Payload             map[string]any `json:"payload"`
	HasQRCode           bool           `json:"has_qr_code"`
	HasDigitalSignature bool           `json:"has_digital_signature"`
}

// HandleCreate handles POST /certificates for the authenticated caller.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[createRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.Create(ctx, service.CreateRequest{
		OwnerID:             requestcontext.UserID(ctx),
		Type:                models.Type(strings.ToUpper(req.Type)),
		IssuerType:          req.IssuerType,
		Payload:             req.Payload,
		HasQRCode:           req.HasQRCode,
		HasDigitalSignature: req.HasDigitalSignature,
	})
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "create certificate failed", "request_id", requestcontext.RequestID(ctx), "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cert)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}
	cert, err := h.service.Get(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}
