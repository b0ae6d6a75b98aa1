package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"veritas/internal/audit"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

// Service is the read side of the audit chain.
type Service interface {
	List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
	Verify(ctx context.Context) (bool, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.HandleList)
	r.Get("/audit/verify", h.HandleVerify)
}

type listResponse struct {
	Entries []*audit.Entry `json:"entries"`
}

// HandleList handles GET /audit?entity_type=&entity_id=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := audit.Filter{
		EntityType: audit.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := h.service.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit entries failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Entries: entries})
}

type verifyResponse struct {
	Valid   bool   `json:"valid"`
	Index   *int   `json:"broken_at_index,omitempty"`
	EntryID string `json:"broken_entry_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// HandleVerify handles GET /audit/verify. A broken chain is reported in the
// body with 200; only failures to load the chain are errors.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ok, err := h.service.Verify(ctx)

	var integrity *audit.ChainIntegrityError
	switch {
	case ok:
		httputil.WriteJSON(w, http.StatusOK, verifyResponse{Valid: true})
	case errors.As(err, &integrity):
		h.logger.WarnContext(ctx, "audit chain integrity failure reported",
			"request_id", requestcontext.RequestID(ctx),
			"index", integrity.Index,
			"entry_id", integrity.EntryID,
		)
		httputil.WriteJSON(w, http.StatusOK, verifyResponse{
			Index:   &integrity.Index,
			EntryID: integrity.EntryID.String(),
			Reason:  integrity.Reason,
		})
	default:
		h.logger.ErrorContext(ctx, "verify audit chain failed", "error", err)
		httputil.WriteError(w, err)
	}
}
