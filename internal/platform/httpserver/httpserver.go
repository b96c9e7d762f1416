package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for the kiosk. WriteTimeout is
// left unset because /flow/events is a long-lived SSE stream.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
