// Command validation-backend is a stand-in for the CleanPoints validation
// API. Codes starting with RECICLAJE_ are accepted once; anything else, or a
// code seen before, is rejected.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	validPrefix   = "RECICLAJE_"
	pointsPerCode = 50
)

type validateRequest struct {
	QRCode    string `json:"qr_code"`
	ImageData string `json:"image_data"`
	UserID    int64  `json:"user_id"`
}

type backend struct {
	mu       sync.Mutex
	used     map[string]bool
	balances map[int64]int
}

func main() {
	addr := ":" + envOr("PORT", "8000")
	b := &backend{used: map[string]bool{}, balances: map[int64]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /qr/validate", b.validate)
	mux.HandleFunc("GET /usuarios/{id}/cleanpoints", b.cleanpoints)

	slog.Info("mock validation backend listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (b *backend) validate(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid JSON body"})
		return
	}
	switch {
	case strings.TrimSpace(req.QRCode) == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "qr_code is required"})
		return
	case req.ImageData == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "image_data is required"})
		return
	case req.UserID <= 0:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "user_id is required"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !strings.HasPrefix(req.QRCode, validPrefix) {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "cleanpoints_earned": 0, "message": "Código QR no reconocido"})
		return
	}
	if b.used[req.QRCode] {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "cleanpoints_earned": 0, "message": "Este código ya fue utilizado"})
		return
	}
	b.used[req.QRCode] = true
	b.balances[req.UserID] += pointsPerCode
	slog.Info("validated", "qr_code", req.QRCode, "user_id", req.UserID, "image_chars", len(req.ImageData))
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "cleanpoints_earned": pointsPerCode, "message": "Reciclaje validado"})
}

func (b *backend) cleanpoints(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid user id"})
		return
	}
	b.mu.Lock()
	points := b.balances[id]
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"cleanpoints": points})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
