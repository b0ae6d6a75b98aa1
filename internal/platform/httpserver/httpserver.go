package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// New builds an HTTP server whose internal errors (TLS handshakes, panics in
// handlers) go to the structured log. Write timeout is generous because
// verification routes only enqueue work.
func New(addr string, handler http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if log != nil {
		srv.ErrorLog = slog.NewLogLogger(log.Handler(), slog.LevelWarn)
	}
	return srv
}
