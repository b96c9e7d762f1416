// Package qrscan turns frames from a camera handle into a decoded QR payload.
package qrscan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"time"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/platform/metrics"
	dErrors "cleanpoints/pkg/domain-errors"
)

// Decoder extracts a QR payload from one frame. A frame without a code must
// fail with an error matching one of the miss patterns.
type Decoder interface {
	Decode(ctx context.Context, frame image.Image) (string, error)
}

// Outcome classifies one decode attempt.
type Outcome string

const (
	OutcomeDecoded Outcome = "decoded"
	OutcomeMiss    Outcome = "miss"
	OutcomeFailure Outcome = "failure"
)

// Attempt is the result of decoding one frame.
type Attempt struct {
	Outcome Outcome
	Payload string
	Err     error
}

// errSourceNotReady mirrors the browser decoder's complaint about a sink
// without dimensions, so it is filtered as a miss.
var errSourceNotReady = errors.New("source width is 0")

// NotifyFunc receives notices while a scan is running.
type NotifyFunc func(Notice)

// Scanner runs decode attempts against a camera handle at a fixed rate.
type Scanner struct {
	decoder Decoder
	policy  Policy
	filter  *MissFilter
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Scanner)

func WithPolicy(p Policy) Option {
	return func(s *Scanner) {
		s.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// WithClock sets the clock the noise filter is evaluated against.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		s.now = now
	}
}

func New(decoder Decoder, opts ...Option) (*Scanner, error) {
	if decoder == nil {
		return nil, errors.New("decoder is required")
	}
	s := &Scanner{
		decoder: decoder,
		policy:  DefaultPolicy(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.filter = NewMissFilter(s.policy)
	return s, nil
}

// Attempts yields one decode attempt per interval until ctx ends, the handle
// is released, or the consumer stops. Only one attempt is in flight at a
// time. The sequence can be ranged over again to restart scanning.
func (s *Scanner) Attempts(ctx context.Context, h *camera.Handle) iter.Seq[Attempt] {
	return func(yield func(Attempt) bool) {
		if h == nil {
			return
		}
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			if ctx.Err() != nil || h.Released() {
				return
			}
			a := s.attempt(ctx, h)
			if errors.Is(a.Err, camera.ErrReleased) || (a.Err != nil && ctx.Err() != nil) {
				return
			}
			s.metrics.ObserveScanAttempt(string(a.Outcome))
			if !yield(a) {
				return
			}
			if s.policy.Interval <= 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.policy.Interval)
			} else {
				timer.Reset(s.policy.Interval)
			}
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
	}
}

func (s *Scanner) attempt(ctx context.Context, h *camera.Handle) Attempt {
	if !h.Ready() {
		return Attempt{Outcome: OutcomeMiss, Err: errSourceNotReady}
	}
	frame, err := h.Frame(ctx)
	if err != nil {
		return s.failed(err)
	}
	payload, err := s.decoder.Decode(ctx, frame)
	if err != nil {
		return s.failed(err)
	}
	if payload == "" {
		return Attempt{Outcome: OutcomeMiss, Err: errors.New("No QR code found")}
	}
	return Attempt{Outcome: OutcomeDecoded, Payload: payload}
}

func (s *Scanner) failed(err error) Attempt {
	if s.filter.IsMiss(err) {
		return Attempt{Outcome: OutcomeMiss, Err: err}
	}
	return Attempt{Outcome: OutcomeFailure, Err: err}
}

// Scan runs attempts until a payload is decoded and returns it. Misses and
// failures go through the noise filter; surviving notices are passed to
// notify. The miss count starts from zero on every call.
func (s *Scanner) Scan(ctx context.Context, h *camera.Handle, notify NotifyFunc) (string, error) {
	if h == nil || h.Released() {
		return "", dErrors.Wrap(camera.ErrReleased, dErrors.CodeCameraUnknown, "no camera stream to scan")
	}
	s.filter.ResetMisses()
	started := s.now()

	for a := range s.Attempts(ctx, h) {
		if a.Outcome == OutcomeDecoded {
			s.logger.InfoContext(ctx, "qr decoded",
				"handle", h.ID(),
				"elapsed_ms", s.now().Sub(started).Milliseconds(),
			)
			return a.Payload, nil
		}
		if a.Outcome == OutcomeFailure {
			s.logger.DebugContext(ctx, "scanner failure", "error", a.Err)
		}
		n, ok := s.filter.Observe(s.now(), a.Err)
		if !ok {
			continue
		}
		s.metrics.ObserveScanNotice(string(n.Code))
		if notify != nil {
			notify(n)
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("scan stopped: %w", camera.ErrReleased)
}
