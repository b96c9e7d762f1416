// Package evidence snapshots a still photo from a capture-mode camera handle.
package evidence

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/platform/metrics"
	dErrors "cleanpoints/pkg/domain-errors"
)

const (
	DefaultQuality = 85
	ContentType    = "image/jpeg"

	// sampleGrid is how many points per axis the blank check reads.
	sampleGrid = 5
)

// Image is an encoded evidence photo.
type Image struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

func (i Image) ContentType() string { return ContentType }

func (i Image) Size() int { return len(i.Data) }

// Base64 is the payload form the validation endpoint expects.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL is Base64 with a data: prefix, for previews.
func (i Image) DataURL() string {
	return "data:" + ContentType + ";base64," + i.Base64()
}

// Capturer encodes the current frame of a handle as JPEG.
type Capturer struct {
	quality int
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Capturer)

// WithQuality sets the JPEG quality (1..100).
func WithQuality(q int) Option {
	return func(c *Capturer) {
		if q >= 1 && q <= 100 {
			c.quality = q
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Capturer) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Capturer) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Capturer) {
		c.now = now
	}
}

func NewCapturer(opts ...Option) *Capturer {
	c := &Capturer{
		quality: DefaultQuality,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture takes one still from h. It fails fast with capture_failed when the
// handle cannot produce a usable frame, and never returns an empty image.
func (c *Capturer) Capture(ctx context.Context, h *camera.Handle) (Image, error) {
	img, err := c.capture(ctx, h)
	if err != nil {
		c.metrics.ObserveCapture("failed")
		c.logger.WarnContext(ctx, "evidence capture failed", "error", err)
		return Image{}, err
	}
	c.metrics.ObserveCapture("ok")
	c.logger.InfoContext(ctx, "evidence captured",
		"width", img.Width,
		"height", img.Height,
		"bytes", img.Size(),
	)
	return img, nil
}

func (c *Capturer) capture(ctx context.Context, h *camera.Handle) (Image, error) {
	switch {
	case h == nil:
		return Image{}, dErrors.New(dErrors.CodeCaptureFailed, "no camera stream")
	case h.Released():
		return Image{}, dErrors.Wrap(camera.ErrReleased, dErrors.CodeCaptureFailed, "camera stream already released")
	case !h.Ready():
		return Image{}, dErrors.New(dErrors.CodeCaptureFailed, "camera is not ready yet")
	}
	w, ht := h.Dimensions()
	if w == 0 || ht == 0 {
		return Image{}, dErrors.New(dErrors.CodeCaptureFailed, "camera frame has no dimensions")
	}

	frame, err := h.Frame(ctx)
	if err != nil {
		return Image{}, dErrors.Wrap(err, dErrors.CodeCaptureFailed, "reading camera frame")
	}
	if frame == nil || frame.Bounds().Empty() {
		return Image{}, dErrors.New(dErrors.CodeCaptureFailed, "camera returned an empty frame")
	}
	if isBlank(frame) {
		return Image{}, dErrors.New(dErrors.CodeCaptureFailed, "captured frame is blank")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: c.quality}); err != nil {
		return Image{}, dErrors.Wrap(err, dErrors.CodeCaptureFailed, "encoding photo")
	}
	if buf.Len() == 0 {
		return Image{}, dErrors.New(dErrors.CodeCaptureFailed, "encoded photo is empty")
	}

	b := frame.Bounds()
	return Image{
		Data:       buf.Bytes(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: c.now(),
	}, nil
}

// isBlank reports whether every sampled pixel is fully zero, which is what an
// unpainted sink produces.
func isBlank(img image.Image) bool {
	b := img.Bounds()
	for i := 0; i < sampleGrid; i++ {
		for j := 0; j < sampleGrid; j++ {
			x := b.Min.X + (b.Dx()-1)*i/(sampleGrid-1)
			y := b.Min.Y + (b.Dy()-1)*j/(sampleGrid-1)
			r, g, bl, a := img.At(x, y).RGBA()
			if r|g|bl|a != 0 {
				return false
			}
		}
	}
	return true
}

// Decode reads back the JPEG, mostly for previews and tests.
func Decode(img Image) (image.Image, error) {
	out, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding evidence: %w", err)
	}
	return out, nil
}
