package evidence_test

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/camera/camtest"
	"cleanpoints/internal/evidence"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/platform/metrics"
	dErrors "cleanpoints/pkg/domain-errors"
)

func acquire(t *testing.T, device camera.Device) (*camera.Manager, *camera.Handle) {
	t.Helper()
	m := camera.NewManager(device, camera.WithLogger(logger.Discard()))
	h, err := m.Acquire(context.Background(), camera.CaptureConstraints())
	require.NoError(t, err)
	t.Cleanup(func() { m.Release(h) })
	return m, h
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	c := evidence.NewCapturer(
		evidence.WithLogger(logger.Discard()),
		evidence.WithMetrics(met),
		evidence.WithClock(func() time.Time { return fixed }),
	)

	t.Run("before the sink is ready fails fast", func(t *testing.T) {
		_, h := acquire(t, camtest.NewDevice(camtest.WithWarmup(5)))

		_, err := c.Capture(ctx, h)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeCaptureFailed, dErrors.CodeOf(err))
		assert.Contains(t, dErrors.MessageOf(err), "not ready")
	})

	t.Run("nil handle", func(t *testing.T) {
		_, err := c.Capture(ctx, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeCaptureFailed))
	})

	t.Run("released handle", func(t *testing.T) {
		m, h := acquire(t, camtest.NewDevice())
		m.Release(h)

		_, err := c.Capture(ctx, h)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeCaptureFailed))
		assert.ErrorIs(t, err, camera.ErrReleased)
	})

	t.Run("blank frame is rejected", func(t *testing.T) {
		blank := image.NewRGBA(image.Rect(0, 0, 64, 48))
		_, h := acquire(t, camtest.NewDevice(camtest.WithFrames(func(int) (image.Image, error) {
			return blank, nil
		})))

		_, err := c.Capture(ctx, h)
		require.Error(t, err)
		assert.Contains(t, dErrors.MessageOf(err), "blank")
	})

	t.Run("black but painted frame is accepted", func(t *testing.T) {
		black := camtest.Solid(64, 48, color.Black)
		_, h := acquire(t, camtest.NewDevice(camtest.WithFrames(func(int) (image.Image, error) {
			return black, nil
		})))

		_, err := c.Capture(ctx, h)
		assert.NoError(t, err)
	})

	t.Run("encodes a jpeg", func(t *testing.T) {
		_, h := acquire(t, camtest.NewDevice(camtest.WithSize(320, 240)))

		img, err := c.Capture(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, 320, img.Width)
		assert.Equal(t, 240, img.Height)
		assert.Equal(t, fixed, img.CapturedAt)
		assert.Equal(t, "image/jpeg", img.ContentType())
		assert.Equal(t, []byte{0xFF, 0xD8}, img.Data[:2])

		raw, err := base64.StdEncoding.DecodeString(img.Base64())
		require.NoError(t, err)
		assert.Equal(t, img.Data, raw)
		assert.True(t, strings.HasPrefix(img.DataURL(), "data:image/jpeg;base64,"))

		decoded, err := evidence.Decode(img)
		require.NoError(t, err)
		assert.Equal(t, 320, decoded.Bounds().Dx())
	})

	assert.Equal(t, float64(4), promtest.ToFloat64(met.Captures.WithLabelValues("failed")))
	assert.Equal(t, float64(2), promtest.ToFloat64(met.Captures.WithLabelValues("ok")))
}
