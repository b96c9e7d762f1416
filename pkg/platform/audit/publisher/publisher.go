// Package publisher fronts an audit store. In async mode events go through a
// bounded buffer drained by a background worker, so emitting never blocks on
// the store.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "cleanpoints/pkg/platform/audit"
	"cleanpoints/pkg/platform/audit/worker"
)

// DefaultDrainTimeout is how long Close waits for the buffer to drain before
// abandoning the events still queued.
const DefaultDrainTimeout = 5 * time.Second

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time
	buffer int
	drain  time.Duration

	mu     sync.RWMutex
	closed bool
	inbox  chan audit.Event
	done   chan struct{}
	cancel context.CancelFunc
}

type Option func(*Publisher)

// WithAsyncBuffer switches to async mode with a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.buffer = n
	}
}

// WithDrainTimeout bounds how long Close waits for queued events.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.drain = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		drain:  DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer > 0 {
		p.inbox = make(chan audit.Event, p.buffer)
		p.done = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		w := worker.NewWorker(store, p.inbox, p.logger)
		go func() {
			defer close(p.done)
			_ = w.Run(ctx)
		}()
	}
	return p
}

// Emit stamps and records event. In async mode it fails with ErrBufferFull
// instead of waiting when the buffer is full.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.logger.WarnContext(ctx, "audit event dropped", "action", event.Action, "reason", "buffer full")
		return ErrBufferFull
	}
}

// Close stops accepting events and, in async mode, waits until the buffer
// has been drained into the store. After the drain timeout the worker's
// context is cancelled and whatever is still queued is dropped.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
	p.mu.Unlock()

	if p.done == nil {
		return
	}
	timer := time.NewTimer(p.drain)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Warn("audit drain timed out", "pending", len(p.inbox))
		p.cancel()
		<-p.done
	}
	p.cancel()
}
