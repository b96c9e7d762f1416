package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cleanpoints/internal/flow"
	"cleanpoints/internal/platform/middleware"
	"cleanpoints/internal/session"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/httputil"
	"cleanpoints/pkg/platform/sentinel"
)

// SessionHandler lets the presentation layer hand over the token and
// profile it obtained at login, and sign the kiosk out again.
type SessionHandler struct {
	store  session.Store
	flow   FlowService
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionHandler builds the handler. flow may be nil; when set, signing
// out also cancels any flow in progress.
func NewSessionHandler(store session.Store, flow FlowService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{store: store, flow: flow, logger: logger, now: time.Now}
}

func (h *SessionHandler) Register(r chi.Router) {
	r.Get("/session", h.handleGet)
	r.Put("/session", h.handleSignIn)
	r.Delete("/session", h.handleSignOut)
}

func (h *SessionHandler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid sign-in request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	switch {
	case req.Token == "":
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "token is required"))
		return
	case req.User.ID.IsNil():
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "user.id is required"))
		return
	case session.Expired(req.Token, h.now()):
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "token has expired"))
		return
	}

	if err := h.store.SetToken(ctx, req.Token); err != nil {
		h.internal(w, r, "storing token failed", err)
		return
	}
	if err := h.store.SetProfile(ctx, req.User); err != nil {
		h.internal(w, r, "storing profile failed", err)
		return
	}
	h.logger.InfoContext(ctx, "kiosk user signed in",
		"user_id", req.User.ID,
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, h.describe(req.Token, &req.User))
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.store.Profile(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteJSON(w, http.StatusOK, sessionUserResponse{})
		return
	}
	if err != nil {
		h.internal(w, r, "loading profile failed", err)
		return
	}
	token, err := h.store.Token(ctx)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		h.internal(w, r, "loading token failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.describe(token, &profile))
}

func (h *SessionHandler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.flow != nil {
		if _, err := h.flow.Cancel(ctx); err != nil && !errors.Is(err, flow.ErrStopped) {
			h.logger.WarnContext(ctx, "cancelling flow on sign-out failed", "error", err)
		}
	}
	if err := h.store.Clear(ctx); err != nil {
		h.internal(w, r, "clearing session failed", err)
		return
	}
	h.logger.InfoContext(ctx, "kiosk user signed out", "request_id", middleware.GetRequestID(ctx))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) describe(token string, p *session.Profile) sessionUserResponse {
	resp := sessionUserResponse{SignedIn: token != "" && !session.Expired(token, h.now()), User: p}
	if exp, ok := session.TokenExpiry(token); ok {
		resp.TokenExpiresAt = &exp
	}
	return resp
}

func (h *SessionHandler) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, msg,
		"error", err,
		"request_id", middleware.GetRequestID(ctx),
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
}
