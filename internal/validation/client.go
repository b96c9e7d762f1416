// Package validation submits a QR payload and evidence photo to the
// CleanPoints backend and interprets its answer.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"cleanpoints/internal/platform/metrics"
	"cleanpoints/internal/session"
	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
)

const (
	DefaultTimeout = 20 * time.Second
	validatePath   = "/qr/validate"
	maxBodyBytes   = 1 << 20
)

// Client talks to the validation endpoint. One Submit is one POST; there is
// no retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tokens     session.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout bounds each request. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenStore supplies the bearer token. A 401 clears it.
func WithTokenStore(s session.Store) Option {
	return func(c *Client) {
		c.tokens = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
		tracer:     otel.Tracer("cleanpoints/validation"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit posts the submission and maps the answer: 2xx with a valid flag is a
// Result (valid or not); anything else is server_error or network_error.
func (c *Client) Submit(ctx context.Context, s Submission) (Result, error) {
	if strings.TrimSpace(s.QRCode) == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "qr code is required")
	}
	if s.Image.Size() == 0 {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "evidence photo is required")
	}
	if s.UserID.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}

	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "validation.submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cleanpoints.request_id", requestID),
			attribute.Int64("cleanpoints.user_id", int64(s.UserID)),
			attribute.Int("cleanpoints.image_bytes", s.Image.Size()),
		),
	)
	defer span.End()

	start := c.now()
	res, err := c.submit(ctx, requestID, s)
	elapsed := c.now().Sub(start)

	if err != nil {
		code := dErrors.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		c.metrics.ObserveSubmission(string(code), elapsed, 0)
		c.logger.WarnContext(ctx, "validation submission failed",
			"request_id", requestID,
			"code", code,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return Result{}, err
	}

	outcome := "invalid"
	if res.Valid {
		outcome = "valid"
	}
	span.SetAttributes(
		attribute.Bool("cleanpoints.valid", res.Valid),
		attribute.Int("cleanpoints.points", res.PointsEarned),
	)
	c.metrics.ObserveSubmission(outcome, elapsed, res.PointsEarned)
	c.logger.InfoContext(ctx, "validation answered",
		"request_id", requestID,
		"valid", res.Valid,
		"points", res.PointsEarned,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (c *Client) submit(ctx context.Context, requestID string, s Submission) (Result, error) {
	body, err := json.Marshal(validateRequest{
		QRCode:    s.QRCode,
		ImageData: s.Image.Base64(),
		UserID:    int64(s.UserID),
	})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "encoding submission")
	}

	raw, err := c.do(ctx, http.MethodPost, validatePath, requestID, body)
	if err != nil {
		return Result{}, err
	}

	var resp validateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeServer, "malformed response from validation service")
	}
	if resp.Valid == nil {
		return Result{}, dErrors.New(dErrors.CodeServer, "validation response has no verdict")
	}
	return resp.toResult(), nil
}

// FetchCleanPoints reads the user's current balance so the stored profile can
// be refreshed after an accepted validation.
func (c *Client) FetchCleanPoints(ctx context.Context, userID domain.UserID) (int, error) {
	if userID.IsNil() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	ctx, span := c.tracer.Start(ctx, "validation.fetch_cleanpoints", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	raw, err := c.do(ctx, http.MethodGet, "/usuarios/"+userID.String()+"/cleanpoints", uuid.NewString(), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return 0, err
	}
	var points int
	if err := json.Unmarshal(raw, &points); err != nil {
		var wrapped struct {
			CleanPoints *int `json:"cleanpoints"`
		}
		if json.Unmarshal(raw, &wrapped) != nil || wrapped.CleanPoints == nil {
			return 0, dErrors.Wrap(err, dErrors.CodeServer, "malformed cleanpoints response")
		}
		points = *wrapped.CleanPoints
	}
	return points, nil
}

// do performs one request and returns the body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path, requestID string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token := c.token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeNetwork, "validation service timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeNetwork, "validation service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNetwork, "reading validation response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.clearToken(ctx)
		}
		detail := errorDetail(raw, resp.StatusCode)
		return nil, dErrors.Wrap(&ServerError{Status: resp.StatusCode, Detail: detail}, dErrors.CodeServer, detail)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, dErrors.New(dErrors.CodeServer, "empty response from validation service")
	}
	return raw, nil
}

// errorDetail extracts {"detail": "..."} from an error body.
func errorDetail(raw []byte, status int) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Detail.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return statusText(status)
}

// token returns the stored bearer token, skipping tokens whose exp claim has
// passed.
func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil || tok == "" {
		return ""
	}
	if session.Expired(tok, c.now()) {
		c.logger.InfoContext(ctx, "stored token expired, sending anonymously")
		return ""
	}
	return tok
}

func (c *Client) clearToken(ctx context.Context) {
	if c.tokens == nil {
		return
	}
	if err := c.tokens.ClearToken(ctx); err != nil {
		c.logger.WarnContext(ctx, "clearing rejected token failed", "error", err)
		return
	}
	c.logger.InfoContext(ctx, "token rejected by backend, cleared")
}

