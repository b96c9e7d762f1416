package camera

import (
	"context"
	"image"
	"sync/atomic"
	"time"
)

// DefaultReadyPoll is how often WaitReady re-checks the sink.
const DefaultReadyPoll = 50 * time.Millisecond

// Handle is one acquired stream. It is owned by whoever acquired it until
// Manager.Release is called.
type Handle struct {
	id          uint64
	constraints Constraints
	stream      Stream
	acquiredAt  time.Time

	ready    atomic.Bool
	released atomic.Bool
}

func (h *Handle) ID() uint64 { return h.id }

func (h *Handle) Mode() Mode { return h.constraints.Mode }

func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// Released reports whether the handle has been given back to the manager.
func (h *Handle) Released() bool { return h.released.Load() }

// Ready reports whether the sink has produced frames with non-zero
// dimensions. It latches: once true it stays true until release.
func (h *Handle) Ready() bool {
	if h.released.Load() {
		return false
	}
	if h.ready.Load() {
		return true
	}
	w, ht := h.stream.Dimensions()
	if w > 0 && ht > 0 {
		h.ready.Store(true)
		return true
	}
	return false
}

// Dimensions returns the sink's frame size, or zero after release.
func (h *Handle) Dimensions() (width, height int) {
	if h.released.Load() {
		return 0, 0
	}
	return h.stream.Dimensions()
}

// Frame returns the latest frame from the sink.
func (h *Handle) Frame(ctx context.Context) (image.Image, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	return h.stream.Frame(ctx)
}

// WaitReady polls Ready until it turns true or ctx ends.
func (h *Handle) WaitReady(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultReadyPoll
	}
	if h.Ready() {
		return nil
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if h.released.Load() {
				return ErrReleased
			}
			if h.Ready() {
				return nil
			}
		}
	}
}
