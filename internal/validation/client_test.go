package validation_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"cleanpoints/internal/evidence"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/platform/metrics"
	"cleanpoints/internal/session"
	"cleanpoints/internal/validation"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/sentinel"
)

// =============================================================================
// Validation Client Test Suite
// =============================================================================
// Justification for unit tests: the mapping from HTTP answers to results and
// error codes decides where the flow goes next. An httptest backend lets each
// answer shape be pinned down.

type recorded struct {
	path    string
	auth    string
	reqID   string
	payload map[string]any
}

type ClientSuite struct {
	suite.Suite
	server  *httptest.Server
	handler http.HandlerFunc
	tokens  *session.InMemoryStore
	metrics *metrics.Metrics
	client  *validation.Client

	mu   sync.Mutex
	reqs []recorded
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.reqs = nil
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"valid":true,"cleanpoints_earned":25,"message":"ok"}`))
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			path:  r.URL.Path,
			auth:  r.Header.Get("Authorization"),
			reqID: r.Header.Get("X-Request-ID"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.payload)
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, rec)
		s.mu.Unlock()
		s.handler(w, r)
	}))
	s.tokens = session.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	var err error
	s.client, err = validation.New(s.server.URL+"/",
		validation.WithTokenStore(s.tokens),
		validation.WithLogger(logger.Discard()),
		validation.WithMetrics(s.metrics),
		validation.WithTimeout(500*time.Millisecond),
	)
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) submission() validation.Submission {
	return validation.Submission{
		QRCode: "RECICLAJE_123",
		Image:  evidence.Image{Data: []byte{0xFF, 0xD8, 0xFF, 0xE0}},
		UserID: 42,
	}
}

func (s *ClientSuite) last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.reqs)
	return s.reqs[len(s.reqs)-1]
}

// =============================================================================
// Successful answers
// =============================================================================

func (s *ClientSuite) TestValidAnswer() {
	s.Require().NoError(s.tokens.SetToken(context.Background(), "opaque"))

	res, err := s.client.Submit(context.Background(), s.submission())
	s.Require().NoError(err)
	s.Equal(validation.Result{Valid: true, PointsEarned: 25, Message: "ok"}, res)

	req := s.last()
	s.Equal("/qr/validate", req.path)
	s.Equal("Bearer opaque", req.auth)
	_, err = uuid.Parse(req.reqID)
	s.NoError(err)
	s.Equal("RECICLAJE_123", req.payload["qr_code"])
	s.Equal(base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0}), req.payload["image_data"])
	s.Equal(float64(42), req.payload["user_id"])

	s.Equal(float64(1), promtest.ToFloat64(s.metrics.SubmissionOutcomes.WithLabelValues("valid")))
	s.Equal(float64(25), promtest.ToFloat64(s.metrics.PointsAwarded))
}

func (s *ClientSuite) TestInvalidAnswerIsStillAResult() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":false,"message":"no reciclable"}`))
	}
	res, err := s.client.Submit(context.Background(), s.submission())
	s.Require().NoError(err)
	s.False(res.Valid)
	s.Zero(res.PointsEarned)
	s.Equal("no reciclable", res.Message)
}

func (s *ClientSuite) TestPointsAwardedFallback() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"points_awarded":50}`))
	}
	res, err := s.client.Submit(context.Background(), s.submission())
	s.Require().NoError(err)
	s.Equal(50, res.PointsEarned)
	s.NotEmpty(res.Message)
}

func (s *ClientSuite) TestNoTokenSendsAnonymously() {
	_, err := s.client.Submit(context.Background(), s.submission())
	s.Require().NoError(err)
	s.Empty(s.last().auth)
}

func (s *ClientSuite) TestExpiredJWTIsNotSent() {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("k"))
	s.Require().NoError(err)
	s.Require().NoError(s.tokens.SetToken(context.Background(), tok))

	_, err = s.client.Submit(context.Background(), s.submission())
	s.Require().NoError(err)
	s.Empty(s.last().auth)
}

// =============================================================================
// Failure mapping
// =============================================================================

func (s *ClientSuite) TestServerErrorWithDetail() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"server error"}`))
	}
	_, err := s.client.Submit(context.Background(), s.submission())
	s.Require().Error(err)
	s.Equal(dErrors.CodeServer, dErrors.CodeOf(err))
	s.Equal("server error", dErrors.MessageOf(err))

	var se *validation.ServerError
	s.Require().True(errors.As(err, &se))
	s.Equal(http.StatusInternalServerError, se.Status)
}

func (s *ClientSuite) TestServerErrorWithoutDetailUsesStatusText() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","user_id"]}]}`))
	}
	_, err := s.client.Submit(context.Background(), s.submission())
	s.Equal(dErrors.CodeServer, dErrors.CodeOf(err))
	s.Equal("Error 422: Unprocessable Entity", dErrors.MessageOf(err))
}

func (s *ClientSuite) TestMalformedBodies() {
	cases := map[string]string{
		"not json":      `<html>oops</html>`,
		"missing valid": `{"message":"ok"}`,
		"empty body":    ``,
		"whitespace":    "  \n",
		"wrong type":    `{"valid":"yes"}`,
	}
	for name, body := range cases {
		s.Run(name, func() {
			s.handler = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}
			_, err := s.client.Submit(context.Background(), s.submission())
			s.Equal(dErrors.CodeServer, dErrors.CodeOf(err))
		})
	}
}

func (s *ClientSuite) TestTimeoutIsNetworkError() {
	release := make(chan struct{})
	defer close(release)
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	_, err := s.client.Submit(context.Background(), s.submission())
	s.Equal(dErrors.CodeNetwork, dErrors.CodeOf(err))
}

func (s *ClientSuite) TestUnreachableIsNetworkError() {
	s.server.Close()
	_, err := s.client.Submit(context.Background(), s.submission())
	s.Equal(dErrors.CodeNetwork, dErrors.CodeOf(err))
	s.Equal(float64(1), promtest.ToFloat64(s.metrics.SubmissionOutcomes.WithLabelValues("network_error")))
}

func (s *ClientSuite) TestUnauthorizedClearsToken() {
	ctx := context.Background()
	s.Require().NoError(s.tokens.SetToken(ctx, "stale"))
	s.handler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}

	_, err := s.client.Submit(ctx, s.submission())
	s.Equal(dErrors.CodeServer, dErrors.CodeOf(err))
	_, err = s.tokens.Token(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClientSuite) TestRejectsIncompleteSubmissions() {
	sub := s.submission()
	sub.QRCode = " "
	_, err := s.client.Submit(context.Background(), sub)
	s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))

	sub = s.submission()
	sub.Image = evidence.Image{}
	_, err = s.client.Submit(context.Background(), sub)
	s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Empty(s.reqs, "nothing should reach the backend")
}

// =============================================================================
// Balance refresh
// =============================================================================

func (s *ClientSuite) TestFetchCleanPoints() {
	s.Run("bare number", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`175`))
		}
		points, err := s.client.FetchCleanPoints(context.Background(), 42)
		s.Require().NoError(err)
		s.Equal(175, points)
		s.Equal("/usuarios/42/cleanpoints", s.last().path)
	})

	s.Run("wrapped object", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"cleanpoints":80}`))
		}
		points, err := s.client.FetchCleanPoints(context.Background(), 42)
		s.Require().NoError(err)
		s.Equal(80, points)
	})

	s.Run("not found", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}
		_, err := s.client.FetchCleanPoints(context.Background(), 42)
		s.Equal(dErrors.CodeServer, dErrors.CodeOf(err))
	})
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := validation.New("  ")
	if err == nil {
		t.Fatal("expected error")
	}
}
