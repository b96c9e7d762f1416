package httptransport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"cleanpoints/internal/evidence"
	"cleanpoints/internal/flow"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/platform/metrics"
	"cleanpoints/internal/transport/http/mocks"
	"cleanpoints/internal/validation"
	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/testutil"
)

// FlowHandlerSuite exercises the flow routes through the full router with a
// mocked controller.
//
// Justification: handlers only translate between HTTP and controller
// snapshots, so the interesting failures are status mapping and JSON shape,
// which a mock controller pins down without camera timing.
type FlowHandlerSuite struct {
	suite.Suite
	ctx      context.Context
	flow     *mocks.MockFlowService
	registry *prometheus.Registry
	router   http.Handler
}

func TestFlowHandlerSuite(t *testing.T) {
	suite.Run(t, new(FlowHandlerSuite))
}

func (s *FlowHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func (s *FlowHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.flow = mocks.NewMockFlowService(ctrl)
	s.registry = prometheus.NewRegistry()
	log := logger.Discard()
	s.router = NewRouter(log, s.registry, NewFlowHandler(s.flow, NewBroker(log), log))
}

var updatedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func capturing(withPhoto bool) flow.Session {
	st := flow.CapturingPhoto{QRCode: "RECICLAJE_123"}
	if withPhoto {
		st.Image = &evidence.Image{
			Data:       []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10},
			Width:      640,
			Height:     480,
			CapturedAt: updatedAt,
		}
	}
	return flow.Session{ID: domain.NewSessionID(), State: st, CameraOn: true, UpdatedAt: updatedAt}
}

// =============================================================================
// Commands
// =============================================================================

func (s *FlowHandlerSuite) TestStart() {
	id := domain.NewSessionID()
	s.flow.EXPECT().Start(gomock.Any()).Return(flow.Session{
		ID:        id,
		State:     flow.ScanningQR{},
		CameraOn:  true,
		UpdatedAt: updatedAt,
	}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/flow/start"))

	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[sessionResponse](s.T(), rr)
	s.Equal(flow.StepScanningQR, body.Step)
	s.Equal(id.String(), body.SessionID)
	s.True(body.CameraOn)
	s.Nil(body.Photo)
	s.NotEmpty(rr.Header().Get("X-Request-ID"))
}

func (s *FlowHandlerSuite) TestCommandsDelegate() {
	s.flow.EXPECT().Capture(gomock.Any()).Return(capturing(true), nil)
	s.flow.EXPECT().Retake(gomock.Any()).Return(capturing(false), nil)
	s.flow.EXPECT().Confirm(gomock.Any()).Return(flow.Session{State: flow.Submitting{QRCode: "RECICLAJE_123"}}, nil)
	s.flow.EXPECT().Restart(gomock.Any()).Return(flow.Session{State: flow.Instructions{}}, nil)
	s.flow.EXPECT().Cancel(gomock.Any()).Return(flow.Session{State: flow.Instructions{}}, nil)

	cases := []struct {
		path string
		step flow.Step
	}{
		{"/flow/capture", flow.StepCapturingPhoto},
		{"/flow/retake", flow.StepCapturingPhoto},
		{"/flow/confirm", flow.StepSubmitting},
		{"/flow/restart", flow.StepInstructions},
		{"/flow/cancel", flow.StepInstructions},
	}
	for _, tc := range cases {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, tc.path))
		testutil.AssertStatusOK(s.T(), rr)
		body := testutil.UnmarshalResponse[sessionResponse](s.T(), rr)
		s.Equal(tc.step, body.Step, tc.path)
	}
}

func (s *FlowHandlerSuite) TestCaptureDescribesPhoto() {
	s.flow.EXPECT().Capture(gomock.Any()).Return(capturing(true), nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/flow/capture"))

	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[sessionResponse](s.T(), rr)
	s.Equal("RECICLAJE_123", body.QRCode)
	s.Require().NotNil(body.Photo)
	s.Equal("/flow/photo", body.Photo.URL)
	s.Equal(640, body.Photo.Width)
	s.Equal(6, body.Photo.Bytes)
}

func (s *FlowHandlerSuite) TestCommandErrors() {
	s.Run("illegal command is a conflict", func() {
		s.flow.EXPECT().Confirm(gomock.Any()).Return(flow.Session{State: flow.Instructions{}},
			dErrors.New(dErrors.CodeInvalidState, "cannot confirm while instructions"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/flow/confirm"))

		testutil.AssertStatus(s.T(), rr, http.StatusConflict)
		body := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("invalid_state", body["error"])
		s.Equal("cannot confirm while instructions", body["error_description"])
	})

	s.Run("camera permission is forbidden", func() {
		s.flow.EXPECT().Start(gomock.Any()).Return(flow.Session{State: flow.Instructions{}},
			dErrors.New(dErrors.CodePermissionDenied, "camera permission denied"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/flow/start"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "permission_denied")
	})

	s.Run("stopped controller is internal", func() {
		s.flow.EXPECT().Session(gomock.Any()).Return(flow.Session{}, flow.ErrStopped)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})
}

// =============================================================================
// Snapshot and photo
// =============================================================================

func (s *FlowHandlerSuite) TestGetFlowWithResult() {
	s.flow.EXPECT().Session(gomock.Any()).Return(flow.Session{
		ID: domain.NewSessionID(),
		State: flow.Result{
			QRCode:  "RECICLAJE_123",
			Outcome: validation.Result{Valid: true, PointsEarned: 50, Message: "Reciclaje validado"},
		},
		UpdatedAt: updatedAt,
	}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow"))

	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[sessionResponse](s.T(), rr)
	s.Equal(flow.StepResult, body.Step)
	s.Require().NotNil(body.Result)
	s.True(body.Result.Valid)
	s.Equal(50, body.Result.PointsEarned)
	s.False(body.CameraOn)
}

func (s *FlowHandlerSuite) TestGetFlowReportsLastError() {
	s.flow.EXPECT().Session(gomock.Any()).Return(flow.Session{
		State: flow.ScanningQR{},
		Error: &flow.Failure{Code: dErrors.CodeNoQRDetected, Message: "No QR code detected."},
	}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow"))

	body := testutil.UnmarshalResponse[sessionResponse](s.T(), rr)
	s.Require().NotNil(body.LastError)
	s.Equal(dErrors.CodeNoQRDetected, body.LastError.Code)
}

func (s *FlowHandlerSuite) TestGetFlowReportsUnsupportedCamera() {
	s.flow.EXPECT().Session(gomock.Any()).Return(flow.Session{
		State:             flow.Instructions{},
		CameraUnsupported: true,
		UpdatedAt:         updatedAt,
	}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow"))

	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[sessionResponse](s.T(), rr)
	s.Equal(flow.StepInstructions, body.Step)
	s.True(body.CameraUnsupported)
	s.Nil(body.LastError)
}

func (s *FlowHandlerSuite) TestPhoto() {
	s.Run("preview is served as jpeg", func() {
		s.flow.EXPECT().Session(gomock.Any()).Return(capturing(true), nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow/photo"))

		testutil.AssertStatusOK(s.T(), rr)
		s.Equal("image/jpeg", rr.Header().Get("Content-Type"))
		s.Equal("no-store", rr.Header().Get("Cache-Control"))
		s.Equal([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}, rr.Body.Bytes())
	})

	s.Run("no preview is not found", func() {
		s.flow.EXPECT().Session(gomock.Any()).Return(capturing(false), nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow/photo"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

// =============================================================================
// Router
// =============================================================================

func (s *FlowHandlerSuite) TestHealthAndMetrics() {
	m := metrics.New(s.registry)
	m.ObserveTransition("instructions", "scanning_qr")

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "ok")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Contains(rr.Body.String(), `cleanpoints_flow_transitions_total{from="instructions",to="scanning_qr"} 1`)
}

func (s *FlowHandlerSuite) TestUnknownRoutes() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/nope"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/flow/start"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusMethodNotAllowed, "method_not_allowed")
}
