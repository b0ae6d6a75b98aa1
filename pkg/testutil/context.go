package testutil

import (
	"net/http"

	id "veritas/pkg/domain"
	"veritas/pkg/requestcontext"
)

// WithUserID puts the caller on the request context the way the auth
// middleware does. An unparseable id leaves the request anonymous.
func WithUserID(req *http.Request, userID string) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
}

// AsUser returns middleware that authenticates every request as userID.
func AsUser(userID id.UserID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(r.Context(), userID)))
		})
	}
}
