package camera_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/camera/camtest"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/platform/metrics"
	dErrors "cleanpoints/pkg/domain-errors"
)

// =============================================================================
// Camera Manager Test Suite
// =============================================================================
// Justification for unit tests: the single-handle invariant and idempotent
// release are what keep the flow from leaking camera streams; they are easier
// to pin down against a scripted device than through the HTTP surface.

type ManagerSuite struct {
	suite.Suite
	device  *camtest.Device
	manager *camera.Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.device = camtest.NewDevice()
	s.manager = camera.NewManager(s.device,
		camera.WithLogger(logger.Discard()),
		camera.WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

// =============================================================================
// Acquire / Release
// =============================================================================

func (s *ManagerSuite) TestAcquire() {
	ctx := context.Background()

	s.Run("returns a handle in the requested mode", func() {
		h, err := s.manager.Acquire(ctx, camera.DecodeConstraints())
		s.Require().NoError(err)
		defer s.manager.Release(h)

		s.Equal(camera.ModeDecode, h.Mode())
		s.Same(h, s.manager.Active())
		s.Equal(camera.FacingEnvironment, s.device.LastConstraints().Facing)
	})

	s.Run("refuses a second live handle", func() {
		h, err := s.manager.Acquire(ctx, camera.DecodeConstraints())
		s.Require().NoError(err)
		defer s.manager.Release(h)

		_, err = s.manager.Acquire(ctx, camera.CaptureConstraints())
		s.Require().Error(err)
		s.ErrorIs(err, camera.ErrBusy)
		s.Equal(1, s.device.MaxLive())
	})

	s.Run("rejects an unknown mode", func() {
		_, err := s.manager.Acquire(ctx, camera.Constraints{Mode: "thermal"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("release then acquire hands out a fresh handle", func() {
		first, err := s.manager.Acquire(ctx, camera.DecodeConstraints())
		s.Require().NoError(err)
		s.manager.Release(first)

		second, err := s.manager.Acquire(ctx, camera.CaptureConstraints())
		s.Require().NoError(err)
		defer s.manager.Release(second)

		s.NotEqual(first.ID(), second.ID())
		s.True(first.Released())
		s.False(second.Released())
	})
}

func (s *ManagerSuite) TestReleaseIsIdempotent() {
	ctx := context.Background()
	h, err := s.manager.Acquire(ctx, camera.DecodeConstraints())
	s.Require().NoError(err)

	s.manager.Release(h)
	s.manager.Release(h)
	s.manager.Release(nil)

	acquired, released := s.manager.Counts()
	s.Equal(1, acquired)
	s.Equal(1, released)
	s.Equal(1, s.device.Closes())
	s.Nil(s.manager.Active())

	_, err = h.Frame(ctx)
	s.ErrorIs(err, camera.ErrReleased)
	s.False(h.Ready())
}

func (s *ManagerSuite) TestReleaseIgnoresForeignHandles() {
	ctx := context.Background()
	other := camera.NewManager(camtest.NewDevice(), camera.WithLogger(logger.Discard()))
	foreign, err := other.Acquire(ctx, camera.DecodeConstraints())
	s.Require().NoError(err)
	defer other.Release(foreign)

	s.manager.Release(foreign)
	s.False(foreign.Released())
}

// =============================================================================
// Failure taxonomy
// =============================================================================

func (s *ManagerSuite) TestAcquireFailuresAreClassified() {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{"fs permission", fmt.Errorf("open /dev/video0: %w", fs.ErrPermission), dErrors.CodePermissionDenied},
		{"fs missing", fmt.Errorf("open /dev/video0: %w", fs.ErrNotExist), dErrors.CodeDeviceNotFound},
		{"unsupported", errors.ErrUnsupported, dErrors.CodeDeviceUnsupported},
		{"named NotAllowedError", &camera.PlatformError{ErrName: "NotAllowedError"}, dErrors.CodePermissionDenied},
		{"named NotFoundError", &camera.PlatformError{ErrName: "NotFoundError"}, dErrors.CodeDeviceNotFound},
		{"named NotSupportedError", &camera.PlatformError{ErrName: "NotSupportedError"}, dErrors.CodeDeviceUnsupported},
		{"anything else", errors.New("usb reset"), dErrors.CodeCameraUnknown},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.device.FailNextOpen(tc.err)
			_, err := s.manager.Acquire(ctx, camera.DecodeConstraints())
			s.Require().Error(err)
			s.Equal(tc.code, dErrors.CodeOf(err))
			s.Nil(s.manager.Active())
		})
	}
}

func (s *ManagerSuite) TestNilDeviceIsUnsupported() {
	m := camera.NewManager(nil, camera.WithLogger(logger.Discard()))
	_, err := m.Acquire(context.Background(), camera.DecodeConstraints())
	s.Equal(dErrors.CodeDeviceUnsupported, dErrors.CodeOf(err))
}

// =============================================================================
// Readiness
// =============================================================================

func (s *ManagerSuite) TestReadiness() {
	ctx := context.Background()
	device := camtest.NewDevice(camtest.WithWarmup(3))
	m := camera.NewManager(device, camera.WithLogger(logger.Discard()))

	h, err := m.Acquire(ctx, camera.CaptureConstraints())
	s.Require().NoError(err)
	defer m.Release(h)

	s.False(h.Ready(), "zero dimensions must not count as ready")

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Require().NoError(h.WaitReady(waitCtx, time.Millisecond))
	s.True(h.Ready())

	w, ht := h.Dimensions()
	s.Equal(640, w)
	s.Equal(480, ht)
}

func (s *ManagerSuite) TestWaitReadyHonoursContext() {
	device := camtest.NewDevice(camtest.WithWarmup(1 << 30))
	m := camera.NewManager(device, camera.WithLogger(logger.Discard()))
	h, err := m.Acquire(context.Background(), camera.CaptureConstraints())
	s.Require().NoError(err)
	defer m.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.ErrorIs(h.WaitReady(ctx, time.Millisecond), context.DeadlineExceeded)
}
