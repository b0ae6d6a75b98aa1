package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"veritas/internal/review/models"
	"veritas/internal/review/service"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.Review, error)
	DequeueNext(ctx context.Context, reviewerID id.UserID) (*models.Review, error)
	Assign(ctx context.Context, reviewID id.ReviewID, verifierID id.UserID) (*models.Review, error)
	Submit(ctx context.Context, reviewID id.ReviewID, verifierID id.UserID, decision models.Decision, comments string) (*models.Review, error)
	Get(ctx context.Context, reviewID id.ReviewID) (*models.Review, error)
	ListQueue(ctx context.Context, filter models.Filter, page models.Page) (*models.PageResult, error)
	GetStatistics(ctx context.Context, rng *models.DateRange) (*models.Statistics, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/reviews", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Post("/next", h.HandleDequeue)
		r.Get("/statistics", h.HandleStatistics)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/assign", h.HandleAssign)
		r.Post("/{id}/decision", h.HandleSubmit)
	})
}

type createRequest struct {
	CertificateID  string `json:"certificate_id"`
	VerificationID string `json:"verification_id,omitempty"`
	Reason         string `json:"reason"`
	Priority       string `json:"priority,omitempty"`
}

// HandleCreate handles POST /reviews.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[createRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certID, err := id.ParseCertificateID(req.CertificateID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid certificate_id"))
		return
	}
	create := service.CreateRequest{
		CertificateID: certID,
		Reason:        req.Reason,
		Priority:      models.Priority(strings.ToUpper(req.Priority)),
	}
	if req.VerificationID != "" {
		vid, err := id.ParseVerificationID(req.VerificationID)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid verification_id"))
			return
		}
		create.VerificationID = &vid
	}

	review, err := h.service.Create(ctx, create)
	if err != nil {
		h.fail(ctx, w, "create review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, review)
}

// HandleDequeue handles POST /reviews/next. The caller becomes the verifier.
func (h *Handler) HandleDequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	review, err := h.service.DequeueNext(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(ctx, w, "dequeue review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, review)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviewID, ok := parseReviewID(w, r)
	if !ok {
		return
	}
	review, err := h.service.Get(ctx, reviewID)
	if err != nil {
		h.fail(ctx, w, "get review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, review)
}

type assignRequest struct {
	VerifierID string `json:"verifier_id,omitempty"`
}

// HandleAssign handles POST /reviews/{id}/assign. Without a verifier_id the
// caller is assigned.
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviewID, ok := parseReviewID(w, r)
	if !ok {
		return
	}
	req, err := httputil.DecodeJSON[assignRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	verifierID := requestcontext.UserID(ctx)
	if req.VerifierID != "" {
		if verifierID, err = id.ParseUserID(req.VerifierID); err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid verifier_id"))
			return
		}
	}

	review, err := h.service.Assign(ctx, reviewID, verifierID)
	if err != nil {
		h.fail(ctx, w, "assign review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, review)
}

type submitRequest struct {
	Decision string `json:"decision"`
	Comments string `json:"comments,omitempty"`
}

// HandleSubmit handles POST /reviews/{id}/decision on behalf of the caller.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviewID, ok := parseReviewID(w, r)
	if !ok {
		return
	}
	req, err := httputil.DecodeJSON[submitRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	review, err := h.service.Submit(ctx, reviewID, requestcontext.UserID(ctx),
		models.Decision(strings.ToUpper(req.Decision)), req.Comments)
	if err != nil {
		h.fail(ctx, w, "submit review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, review)
}

// HandleList handles GET /reviews?status=&priority=&verifier_id=&certificate_id=&page=&page_size=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var filter models.Filter
	for _, s := range splitList(q["status"]) {
		st := models.Status(strings.ToUpper(s))
		if !st.IsValid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown status "+s))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, p := range splitList(q["priority"]) {
		pr := models.Priority(strings.ToUpper(p))
		if !pr.IsValid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown priority "+p))
			return
		}
		filter.Priorities = append(filter.Priorities, pr)
	}
	if raw := q.Get("verifier_id"); raw != "" {
		v, err := id.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid verifier_id"))
			return
		}
		filter.VerifierID = &v
	}
	if raw := q.Get("certificate_id"); raw != "" {
		c, err := id.ParseCertificateID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid certificate_id"))
			return
		}
		filter.CertificateID = &c
	}

	var page models.Page
	var err error
	if page.Number, err = intParam(q.Get("page")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if page.Size, err = intParam(q.Get("page_size")); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.ListQueue(ctx, filter, page)
	if err != nil {
		h.fail(ctx, w, "list reviews failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleStatistics handles GET /reviews/statistics?from=&to= with RFC 3339 bounds.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var rng *models.DateRange
	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		rng = &models.DateRange{}
		var err error
		if rng.From, err = timeParam(from); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if rng.To, err = timeParam(to); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	stats, err := h.service.GetStatistics(ctx, rng)
	if err != nil {
		h.fail(ctx, w, "review statistics failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.DebugContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}

func parseReviewID(w http.ResponseWriter, r *http.Request) (id.ReviewID, bool) {
	reviewID, err := id.ParseReviewID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid review id"))
		return id.ReviewID{}, false
	}
	return reviewID, true
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "pagination parameters must be integers")
	}
	return n, nil
}

func timeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, "dates must be RFC 3339")
	}
	return t, nil
}
