package httptransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cleanpoints/internal/flow"
	"cleanpoints/internal/platform/middleware"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/httputil"
	"cleanpoints/pkg/platform/sentinel"
)

//go:generate mockgen -source=handlers_flow.go -destination=mocks/flow-mocks.go -package=mocks FlowService

// FlowService is the controller as seen by the transport.
type FlowService interface {
	Start(ctx context.Context) (flow.Session, error)
	Capture(ctx context.Context) (flow.Session, error)
	Retake(ctx context.Context) (flow.Session, error)
	Confirm(ctx context.Context) (flow.Session, error)
	Restart(ctx context.Context) (flow.Session, error)
	Cancel(ctx context.Context) (flow.Session, error)
	Session(ctx context.Context) (flow.Session, error)
}

const defaultHeartbeat = 15 * time.Second

// FlowHandler exposes the recycling flow: commands, the session snapshot,
// the preview photo and the event stream.
type FlowHandler struct {
	flow      FlowService
	events    *Broker
	logger    *slog.Logger
	heartbeat time.Duration
}

func NewFlowHandler(flow FlowService, events *Broker, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{
		flow:      flow,
		events:    events,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// Register registers the flow routes with the chi router.
func (h *FlowHandler) Register(r chi.Router) {
	r.Get("/flow", h.handleSession)
	r.Post("/flow/start", h.command("start", h.flow.Start))
	r.Post("/flow/capture", h.command("capture", h.flow.Capture))
	r.Post("/flow/retake", h.command("retake", h.flow.Retake))
	r.Post("/flow/confirm", h.command("confirm", h.flow.Confirm))
	r.Post("/flow/restart", h.command("restart", h.flow.Restart))
	r.Post("/flow/cancel", h.command("cancel", h.flow.Cancel))
	r.Get("/flow/photo", h.handlePhoto)
	if h.events != nil {
		r.Get("/flow/events", h.handleEvents)
	}
}

func (h *FlowHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.flow.Session(r.Context())
	if err != nil {
		h.writeError(w, r, "session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *FlowHandler) command(name string, fn func(context.Context) (flow.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := fn(ctx)
		if err != nil {
			h.writeError(w, r, name, err)
			return
		}
		h.logger.InfoContext(ctx, "flow command applied",
			"command", name,
			"step", sess.Step(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func (h *FlowHandler) handlePhoto(w http.ResponseWriter, r *http.Request) {
	sess, err := h.flow.Session(r.Context())
	if err != nil {
		h.writeError(w, r, "photo", err)
		return
	}
	img := sess.Image()
	if img == nil || img.Size() == 0 {
		httputil.WriteError(w, fmt.Errorf("evidence photo: %w", sentinel.ErrNotFound))
		return
	}
	w.Header().Set("Content-Type", img.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(img.Size()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (h *FlowHandler) writeError(w http.ResponseWriter, r *http.Request, command string, err error) {
	ctx := r.Context()
	if errors.Is(err, flow.ErrStopped) {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "flow controller is not running")
	}
	if errors.Is(err, context.Canceled) {
		// Client went away; nothing to answer.
		return
	}
	h.logger.WarnContext(ctx, "flow command failed",
		"command", command,
		"code", dErrors.CodeOf(err),
		"error", err,
		"request_id", middleware.GetRequestID(ctx),
	)
	httputil.WriteError(w, err)
}
