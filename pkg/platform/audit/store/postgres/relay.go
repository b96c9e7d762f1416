package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "cleanpoints/pkg/platform/audit"
)

const (
	DefaultRelayInterval = time.Second
	DefaultRelayBatch    = 100
)

// Relay moves pending outbox rows to a target store in the order they were
// written. A row is marked published only after the target accepted it.
type Relay struct {
	store    *Store
	target   audit.Store
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type RelayOption func(*Relay)

func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRelayBatch(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(store *Store, target audit.Store, opts ...RelayOption) *Relay {
	r := &Relay{
		store:    store,
		target:   target,
		interval: DefaultRelayInterval,
		batch:    DefaultRelayBatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type outboxRow struct {
	id      uuid.UUID
	payload []byte
}

// RelayOnce forwards up to one batch and returns how many rows were
// published. A target failure ends the batch: that row and the ones after it
// stay pending for the next round.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin relay tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batch)
	if err != nil {
		return 0, fmt.Errorf("query pending audit events: %w", err)
	}
	var pending []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan pending audit event: %w", err)
		}
		pending = append(pending, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate pending audit events: %w", err)
	}

	sent := 0
	var sendErr error
	for _, row := range pending {
		var event audit.Event
		if err := json.Unmarshal(row.payload, &event); err != nil {
			// unreadable rows would block the queue forever
			r.logger.ErrorContext(ctx, "skipping unreadable outbox entry", "id", row.id, "error", err)
		} else if err := r.target.Append(ctx, event); err != nil {
			sendErr = fmt.Errorf("relaying audit event %s: %w", row.id, err)
			break
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = $1 WHERE id = $2`,
			r.store.now(), row.id,
		); err != nil {
			return 0, fmt.Errorf("mark audit event published: %w", err)
		}
		sent++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit relay tx: %w", err)
	}
	return sent, sendErr
}

// Run relays until ctx ends. A full batch is followed immediately by the
// next one; otherwise it waits one interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "audit relay failed", "published", n, "error", err)
		}
		if err == nil && n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
