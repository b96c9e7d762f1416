package camera

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cleanpoints/internal/platform/metrics"
	dErrors "cleanpoints/pkg/domain-errors"
)

// Manager hands out at most one live Handle at a time.
type Manager struct {
	device  Device
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	active   *Handle
	seq      uint64
	acquired int
	released int
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager wraps device. A nil device models a platform without camera
// support: every Acquire fails with device_unsupported.
func NewManager(device Device, opts ...Option) *Manager {
	m := &Manager{
		device: device,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Acquire opens a stream with the given constraints. It fails with ErrBusy
// (camera_unknown) while another handle is active, and with a classified
// camera error when the device refuses.
func (m *Manager) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	if c.Mode != ModeDecode && c.Mode != ModeCapture {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown camera mode "+string(c.Mode))
	}
	if c.Facing == "" {
		c.Facing = FacingEnvironment
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		m.metrics.ObserveAcquire(string(c.Mode), string(dErrors.CodeDeviceUnsupported))
		return nil, Classify(ErrNoDevice)
	}
	if m.active != nil {
		return nil, dErrors.Wrap(ErrBusy, dErrors.CodeCameraUnknown, "another camera stream is still active")
	}
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCameraUnknown, "camera acquisition cancelled")
	}

	stream, err := m.device.Open(ctx, c)
	if err != nil {
		cerr := Classify(err)
		m.metrics.ObserveAcquire(string(c.Mode), string(cerr.Code))
		m.logger.WarnContext(ctx, "camera acquire failed",
			"mode", c.Mode,
			"code", cerr.Code,
			"error", err,
		)
		return nil, cerr
	}

	m.seq++
	h := &Handle{
		id:          m.seq,
		constraints: c,
		stream:      stream,
		acquiredAt:  m.now(),
	}
	m.active = h
	m.acquired++
	m.metrics.ObserveAcquire(string(c.Mode), "ok")
	m.logger.DebugContext(ctx, "camera acquired", "handle", h.id, "mode", c.Mode)
	return h, nil
}

// Release stops h's stream. Releasing nil, an already released handle, or a
// handle from another manager is a no-op.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	if m.active != h || !h.released.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.released++
	m.mu.Unlock()

	m.metrics.ObserveRelease()
	if err := h.stream.Close(); err != nil {
		m.logger.Warn("camera stream close failed", "handle", h.id, "error", err)
	}
	m.logger.Debug("camera released", "handle", h.id, "held_ms", m.now().Sub(h.acquiredAt).Milliseconds())
}

// Active returns the live handle, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Counts returns how many handles were acquired and released so far.
func (m *Manager) Counts() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}
