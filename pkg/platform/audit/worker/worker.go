package worker

import (
	"context"
	"log/slog"

	audit "cleanpoints/pkg/platform/audit"
)

// Worker drains an event channel into a store. A failed append is logged and
// the event dropped; audit is never allowed to stall the flow.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run returns nil once inbox is closed and drained, or ctx.Err() when ctx
// ends first.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "audit append failed",
					"action", event.Action,
					"session_id", event.SessionID,
					"error", err,
				)
			}
		}
	}
}
