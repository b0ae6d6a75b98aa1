// Package request copies chi's request id into requestcontext so services can
// correlate logs and audit metadata without importing chi.
package request

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"veritas/pkg/requestcontext"
)

// RequestID must run after chi's middleware.RequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithRequestID(ctx, reqID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
