// Package camtest provides a scripted camera.Device for tests.
package camtest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"cleanpoints/internal/camera"
)

// Device is an in-memory camera that counts opens and closes and can be told
// to fail or to start without frame dimensions.
type Device struct {
	mu sync.Mutex

	width, height int
	// warmup is how many Dimensions calls report 0x0 before the real size.
	warmup int
	// openErrs are returned by successive Open calls, nil entries succeed.
	openErrs []error
	frame    func(n int) (image.Image, error)

	opens, closes, live, maxLive int
	lastConstraints             camera.Constraints
}

type Option func(*Device)

// WithSize sets the frame size reported once warm.
func WithSize(width, height int) Option {
	return func(d *Device) {
		d.width, d.height = width, height
	}
}

// WithWarmup makes each new stream report zero dimensions for n polls.
func WithWarmup(n int) Option {
	return func(d *Device) {
		d.warmup = n
	}
}

// WithOpenErrors queues results for successive Open calls.
func WithOpenErrors(errs ...error) Option {
	return func(d *Device) {
		d.openErrs = append(d.openErrs, errs...)
	}
}

// WithFrames replaces the default solid frame source. n counts frames
// requested from the stream, starting at 0.
func WithFrames(fn func(n int) (image.Image, error)) Option {
	return func(d *Device) {
		d.frame = fn
	}
}

// NewDevice returns a 640x480 device that is ready immediately.
func NewDevice(opts ...Option) *Device {
	d := &Device{width: 640, height: 480}
	for _, opt := range opts {
		opt(d)
	}
	if d.frame == nil {
		img := Solid(d.width, d.height, color.RGBA{R: 90, G: 140, B: 60, A: 255})
		d.frame = func(int) (image.Image, error) {
			return img, nil
		}
	}
	return d
}

// FailNextOpen queues err for the next Open call.
func (d *Device) FailNextOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErrs = append(d.openErrs, err)
}

func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	d.opens++
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	d.lastConstraints = c
	return &stream{dev: d, warmup: d.warmup}, nil
}

// Opens, Closes, Live and MaxLive expose the stream bookkeeping.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Device) MaxLive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

func (d *Device) LastConstraints() camera.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastConstraints
}

var errClosed = errors.New("stream closed")

type stream struct {
	dev    *Device
	mu     sync.Mutex
	warmup int
	frames int
	closed bool
}

func (s *stream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0
	}
	if s.warmup > 0 {
		s.warmup--
		return 0, 0
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.dev.width, s.dev.height
}

func (s *stream) Frame(context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errClosed
	}
	n := s.frames
	s.frames++
	s.mu.Unlock()
	return s.dev.frame(n)
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.mu.Lock()
	s.dev.closes++
	s.dev.live--
	s.dev.mu.Unlock()
	return nil
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}
