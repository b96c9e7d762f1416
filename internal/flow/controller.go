// Package flow drives one recycling validation at a time: show instructions,
// scan the container's QR code, photograph the disposal, submit both, show
// the verdict.
//
// All state lives on a single event loop goroutine (Run). Public methods post
// a command to the loop and wait for the transition, including any camera
// release, to finish. Scanning and submission run on helper goroutines that
// report back through the same inbox, tagged with a generation number so
// results that arrive after a cancel are ignored.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/platform/metrics"
	"cleanpoints/internal/qrscan"
	"cleanpoints/internal/validation"
	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/audit"
)

const (
	DefaultSubmitTimeout  = 20 * time.Second
	DefaultAcquireTimeout = 10 * time.Second
	refreshTimeout        = 5 * time.Second
)

// ErrStopped is returned by commands when the loop is not running.
var ErrStopped = errors.New("flow controller is not running")

type Controller struct {
	cameras   Cameras
	scanner   Scanner
	capturer  Capturer
	submitter Submitter
	users     UserSource

	notifier       Notifier
	audit          AuditPublisher
	balances       BalanceSource
	profiles       ProfileStore
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
	submitTimeout  time.Duration
	acquireTimeout time.Duration

	inbox   chan message
	started chan struct{}
	done    chan struct{}
	once    sync.Once

	// Owned by the loop goroutine.
	runCtx       context.Context
	session      Session
	handle       *camera.Handle
	gen          uint64
	scanCancel   context.CancelFunc
	scanDone     chan struct{}
	submitCancel context.CancelFunc
	helpers      sync.WaitGroup
	// unsupported latches the first device_unsupported failure. The
	// platform cannot grow a camera, so Start stops trying.
	unsupported error
}

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

func WithAudit(p AuditPublisher) Option {
	return func(c *Controller) {
		c.audit = p
	}
}

// WithBalanceRefresh re-reads the user's points after an accepted validation
// and stores them in the profile. When the read fails the awarded points are
// added to the stored balance instead.
func WithBalanceRefresh(src BalanceSource, profiles ProfileStore) Option {
	return func(c *Controller) {
		c.balances = src
		c.profiles = profiles
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

func WithAcquireTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.acquireTimeout = d
		}
	}
}

func New(cameras Cameras, scanner Scanner, capturer Capturer, submitter Submitter, users UserSource, opts ...Option) (*Controller, error) {
	switch {
	case cameras == nil:
		return nil, errors.New("cameras is required")
	case scanner == nil:
		return nil, errors.New("scanner is required")
	case capturer == nil:
		return nil, errors.New("capturer is required")
	case submitter == nil:
		return nil, errors.New("submitter is required")
	case users == nil:
		return nil, errors.New("users is required")
	}
	c := &Controller{
		cameras:        cameras,
		scanner:        scanner,
		capturer:       capturer,
		submitter:      submitter,
		users:          users,
		notifier:       nopNotifier{},
		logger:         slog.Default(),
		now:            time.Now,
		submitTimeout:  DefaultSubmitTimeout,
		acquireTimeout: DefaultAcquireTimeout,
		inbox:          make(chan message),
		started:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = Session{State: Instructions{}, UpdatedAt: c.now()}
	return c, nil
}

// =============================================================================
// Commands
// =============================================================================

type op string

const (
	opStart   op = "start"
	opCapture op = "capture"
	opRetake  op = "retake"
	opConfirm op = "confirm"
	opRestart op = "restart"
	opCancel  op = "cancel"
	opSession op = "session"
)

type message interface{ isMessage() }

type command struct {
	op    op
	reply chan reply
}

type reply struct {
	session Session
	err     error
}

type scanOutcome struct {
	gen     uint64
	payload string
	err     error
}

type scanNotice struct {
	gen    uint64
	notice qrscan.Notice
}

type submitOutcome struct {
	gen    uint64
	userID domain.UserID
	result validation.Result
	err    error
}

func (command) isMessage()       {}
func (scanOutcome) isMessage()   {}
func (scanNotice) isMessage()    {}
func (submitOutcome) isMessage() {}

// Start leaves Instructions: it acquires a decode stream and starts scanning.
// A camera failure keeps the flow in Instructions.
func (c *Controller) Start(ctx context.Context) (Session, error) { return c.do(ctx, opStart) }

// Capture takes an evidence photo and keeps it as the preview.
func (c *Controller) Capture(ctx context.Context) (Session, error) { return c.do(ctx, opCapture) }

// Retake drops the preview and reacquires the capture stream if needed.
func (c *Controller) Retake(ctx context.Context) (Session, error) { return c.do(ctx, opRetake) }

// Confirm releases the camera and submits the payload and photo.
func (c *Controller) Confirm(ctx context.Context) (Session, error) { return c.do(ctx, opConfirm) }

// Restart clears a finished session back to Instructions.
func (c *Controller) Restart(ctx context.Context) (Session, error) { return c.do(ctx, opRestart) }

// Cancel abandons the session from any step. The camera is released before
// it returns.
func (c *Controller) Cancel(ctx context.Context) (Session, error) { return c.do(ctx, opCancel) }

// Session returns a snapshot of the current session.
func (c *Controller) Session(ctx context.Context) (Session, error) { return c.do(ctx, opSession) }

func (c *Controller) do(ctx context.Context, o op) (Session, error) {
	cmd := command{op: o, reply: make(chan reply, 1)}
	select {
	case c.inbox <- cmd:
	case <-c.done:
		return Session{}, ErrStopped
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.session, r.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// post delivers a helper's message unless ctx ends first, so a helper never
// blocks a loop that is waiting for it to exit.
func (c *Controller) post(ctx context.Context, m message) {
	select {
	case c.inbox <- m:
	case <-ctx.Done():
	}
}

// =============================================================================
// Loop
// =============================================================================

// Run processes commands until ctx ends. On exit it stops helpers, releases
// the camera and resets the session. Run may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.once.Do(func() { first = true })
	if !first {
		return errors.New("flow controller already ran")
	}

	c.runCtx = ctx
	close(c.started)
	c.logger.InfoContext(ctx, "flow controller started")

	defer func() {
		c.teardown()
		close(c.done)
		c.helpers.Wait()
		c.logger.Info("flow controller stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.inbox:
			c.dispatch(m)
		}
	}
}

// Started is closed once Run is accepting commands.
func (c *Controller) Started() <-chan struct{} { return c.started }

// Done is closed after Run has released everything.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) dispatch(m message) {
	switch m := m.(type) {
	case command:
		var err error
		switch m.op {
		case opStart:
			err = c.start()
		case opCapture:
			err = c.capture()
		case opRetake:
			err = c.retake()
		case opConfirm:
			err = c.confirm()
		case opRestart:
			err = c.restart()
		case opCancel:
			c.cancel()
		case opSession:
		}
		m.reply <- reply{session: c.snapshot(), err: err}
	case scanNotice:
		c.onScanNotice(m)
	case scanOutcome:
		c.onScanOutcome(m)
	case submitOutcome:
		c.onSubmitOutcome(m)
	}
}

func (c *Controller) snapshot() Session {
	s := c.session
	s.CameraOn = c.handle != nil
	s.CameraUnsupported = c.unsupported != nil
	if s.Error != nil {
		f := *s.Error
		s.Error = &f
	}
	if cp, ok := s.State.(CapturingPhoto); ok && cp.Image != nil {
		img := *cp.Image
		cp.Image = &img
		s.State = cp
	}
	return s
}

func (c *Controller) invalid(o op) error {
	return dErrors.New(dErrors.CodeInvalidState,
		fmt.Sprintf("cannot %s while %s", o, c.session.Step()))
}

// =============================================================================
// Transitions
// =============================================================================

func (c *Controller) start() error {
	if _, ok := c.session.State.(Instructions); !ok {
		return c.invalid(opStart)
	}
	if c.unsupported != nil {
		return c.unsupported
	}
	c.releaseCamera()
	c.session = Session{ID: domain.NewSessionID(), State: Instructions{}, UpdatedAt: c.now()}

	h, err := c.acquire(camera.DecodeConstraints())
	if err != nil {
		c.surface(err)
		c.emit(audit.Event{Action: audit.ActionCameraFailed, Code: string(dErrors.CodeOf(err)), Detail: dErrors.MessageOf(err)})
		return err
	}
	c.handle = h
	c.session.Error = nil
	c.setState(ScanningQR{})
	c.emit(audit.Event{Action: audit.ActionScanStarted})
	c.startScan(h)
	return nil
}

func (c *Controller) startScan(h *camera.Handle) {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.runCtx)
	done := make(chan struct{})
	c.scanCancel = cancel
	c.scanDone = done

	c.helpers.Add(1)
	go func() {
		defer c.helpers.Done()
		defer close(done)
		payload, err := c.scanner.Scan(ctx, h, func(n qrscan.Notice) {
			c.post(ctx, scanNotice{gen: gen, notice: n})
		})
		c.post(ctx, scanOutcome{gen: gen, payload: payload, err: err})
	}()
}

// stopScan cancels the scan goroutine and waits for it to exit.
func (c *Controller) stopScan() {
	if c.scanCancel == nil {
		return
	}
	c.scanCancel()
	<-c.scanDone
	c.scanCancel = nil
	c.scanDone = nil
}

func (c *Controller) onScanNotice(m scanNotice) {
	if m.gen != c.gen {
		return
	}
	if _, ok := c.session.State.(ScanningQR); !ok {
		return
	}
	c.session.Error = &Failure{Code: m.notice.Code, Message: m.notice.Message}
	c.notifier.OnError(m.notice.Code, m.notice.Message)
}

func (c *Controller) onScanOutcome(m scanOutcome) {
	if m.gen != c.gen {
		return
	}
	if _, ok := c.session.State.(ScanningQR); !ok {
		return
	}
	c.stopScan()
	c.releaseCamera()

	if m.err != nil || m.payload == "" {
		err := m.err
		if err == nil {
			err = dErrors.New(dErrors.CodeScannerFault, "scanner stopped without a code")
		}
		var de *dErrors.Error
		if !errors.As(err, &de) {
			err = dErrors.Wrap(err, dErrors.CodeCameraUnknown, "camera stream ended")
		}
		c.logger.WarnContext(c.runCtx, "scan ended without a code", "error", err)
		c.setState(Instructions{})
		c.surface(err)
		c.emit(audit.Event{Action: audit.ActionCameraFailed, Code: string(dErrors.CodeOf(err)), Detail: dErrors.MessageOf(err)})
		return
	}

	c.session.Error = nil
	c.setState(CapturingPhoto{QRCode: m.payload})
	c.emit(audit.Event{Action: audit.ActionQRDecoded, QRCode: m.payload})

	h, err := c.acquire(camera.CaptureConstraints())
	if err != nil {
		c.surface(err)
		c.emit(audit.Event{Action: audit.ActionCameraFailed, QRCode: m.payload, Code: string(dErrors.CodeOf(err)), Detail: dErrors.MessageOf(err)})
		return
	}
	c.handle = h
}

func (c *Controller) capture() error {
	st, ok := c.session.State.(CapturingPhoto)
	if !ok {
		return c.invalid(opCapture)
	}
	if c.handle == nil {
		err := dErrors.New(dErrors.CodeCaptureFailed, "camera is not active, retake to restart it")
		c.surface(err)
		return err
	}
	img, err := c.capturer.Capture(c.runCtx, c.handle)
	if err != nil {
		c.surface(err)
		return err
	}
	st.Image = &img
	c.session.Error = nil
	c.setState(st)
	c.emit(audit.Event{Action: audit.ActionPhotoCaptured, QRCode: st.QRCode})
	return nil
}

func (c *Controller) retake() error {
	st, ok := c.session.State.(CapturingPhoto)
	if !ok {
		return c.invalid(opRetake)
	}
	st.Image = nil
	c.session.Error = nil
	c.setState(st)
	if c.handle != nil {
		return nil
	}
	h, err := c.acquire(camera.CaptureConstraints())
	if err != nil {
		c.surface(err)
		c.emit(audit.Event{Action: audit.ActionCameraFailed, QRCode: st.QRCode, Code: string(dErrors.CodeOf(err)), Detail: dErrors.MessageOf(err)})
		return err
	}
	c.handle = h
	return nil
}

func (c *Controller) confirm() error {
	st, ok := c.session.State.(CapturingPhoto)
	if !ok {
		return c.invalid(opConfirm)
	}
	if st.Image == nil {
		return dErrors.New(dErrors.CodeInvalidState, "take a photo before confirming")
	}
	userID, err := c.users.CurrentUser(c.runCtx)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeUnauthenticated) {
			err = dErrors.Wrap(err, dErrors.CodeUnauthenticated, dErrors.UserMessage(dErrors.CodeUnauthenticated))
		}
		c.surface(err)
		return err
	}

	c.releaseCamera()
	sub := Submitting{QRCode: st.QRCode, Image: *st.Image, UserID: userID}
	c.session.Error = nil
	c.setState(sub)
	c.emit(audit.Event{Action: audit.ActionSubmissionSent, QRCode: sub.QRCode, UserID: userID})

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(c.runCtx, c.submitTimeout)
	c.submitCancel = cancel

	c.helpers.Add(1)
	go func() {
		defer c.helpers.Done()
		defer cancel()
		res, err := c.submitter.Submit(ctx, validation.Submission{
			QRCode: sub.QRCode,
			Image:  sub.Image,
			UserID: sub.UserID,
		})
		if err != nil && errors.Is(err, context.DeadlineExceeded) && !dErrors.HasCode(err, dErrors.CodeNetwork) {
			err = dErrors.Wrap(err, dErrors.CodeNetwork, "validation timed out")
		}
		// the stored balance is current before anyone sees the result
		if err == nil && res.Valid {
			c.refreshBalance(sub.UserID, res.PointsEarned)
		}
		c.post(c.runCtx, submitOutcome{gen: gen, userID: sub.UserID, result: res, err: err})
	}()
	return nil
}

func (c *Controller) onSubmitOutcome(m submitOutcome) {
	if m.gen != c.gen {
		return
	}
	st, ok := c.session.State.(Submitting)
	if !ok {
		return
	}
	c.submitCancel = nil

	if m.err != nil {
		if !dErrors.HasCode(m.err, dErrors.CodeServer) && !dErrors.HasCode(m.err, dErrors.CodeNetwork) &&
			!dErrors.HasCode(m.err, dErrors.CodeInvalidInput) {
			m.err = dErrors.Wrap(m.err, dErrors.CodeNetwork, "validation failed")
		}
		img := st.Image
		c.setState(CapturingPhoto{QRCode: st.QRCode, Image: &img})
		c.surface(m.err)
		c.emit(audit.Event{
			Action: audit.ActionSubmissionFailed,
			QRCode: st.QRCode,
			UserID: m.userID,
			Code:   string(dErrors.CodeOf(m.err)),
			Detail: dErrors.MessageOf(m.err),
		})
		return
	}

	c.session.Error = nil
	c.setState(Result{QRCode: st.QRCode, Outcome: m.result})
	c.notifier.OnResult(m.result)
	action := audit.ActionValidationRejected
	if m.result.Valid {
		action = audit.ActionValidationAccepted
	}
	c.emit(audit.Event{
		Action: action,
		QRCode: st.QRCode,
		UserID: m.userID,
		Points: m.result.PointsEarned,
		Detail: m.result.Message,
	})
}

func (c *Controller) restart() error {
	if _, ok := c.session.State.(Result); !ok {
		return c.invalid(opRestart)
	}
	c.emit(audit.Event{Action: audit.ActionFlowRestarted})
	c.reset()
	return nil
}

func (c *Controller) cancel() {
	if _, ok := c.session.State.(Instructions); ok && c.handle == nil {
		c.session.Error = nil
		return
	}
	c.emit(audit.Event{Action: audit.ActionFlowCancelled, QRCode: c.session.QRPayload()})
	c.reset()
}

// reset stops helpers, releases the camera and clears the session.
func (c *Controller) reset() {
	c.stopScan()
	if c.submitCancel != nil {
		c.submitCancel()
		c.submitCancel = nil
	}
	c.gen++
	c.releaseCamera()
	c.session.ID = domain.SessionID{}
	c.session.Error = nil
	c.setState(Instructions{})
}

func (c *Controller) teardown() {
	c.stopScan()
	if c.submitCancel != nil {
		c.submitCancel()
		c.submitCancel = nil
	}
	c.gen++
	c.releaseCamera()
	c.session = Session{State: Instructions{}, UpdatedAt: c.now()}
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Controller) acquire(cons camera.Constraints) (*camera.Handle, error) {
	ctx, cancel := context.WithTimeout(c.runCtx, c.acquireTimeout)
	defer cancel()
	h, err := c.cameras.Acquire(ctx, cons)
	if err != nil {
		if cerr := camera.Classify(err); cerr != nil && !dErrors.HasCode(err, cerr.Code) {
			err = cerr
		}
		if dErrors.HasCode(err, dErrors.CodeDeviceUnsupported) {
			c.unsupported = err
		}
		return nil, err
	}
	return h, nil
}

func (c *Controller) releaseCamera() {
	if c.handle == nil {
		return
	}
	c.cameras.Release(c.handle)
	c.handle = nil
}

func (c *Controller) setState(s State) {
	from := c.session.Step()
	c.session.State = s
	c.session.UpdatedAt = c.now()
	to := s.Step()
	if from == to {
		return
	}
	c.metrics.ObserveTransition(string(from), string(to))
	c.logger.InfoContext(c.runCtx, "flow step changed",
		"session_id", c.session.ID.String(),
		"from", from,
		"to", to,
	)
	c.notifier.OnStepChange(to)
}

func (c *Controller) surface(err error) {
	f := failureOf(err)
	c.session.Error = f
	c.notifier.OnError(f.Code, f.Message)
}

func (c *Controller) emit(e audit.Event) {
	if c.audit == nil {
		return
	}
	if e.SessionID == "" && !c.session.ID.IsNil() {
		e.SessionID = c.session.ID.String()
	}
	if err := c.audit.Emit(c.runCtx, e); err != nil {
		c.logger.WarnContext(c.runCtx, "audit emit failed", "action", e.Action, "error", err)
	}
}

func (c *Controller) refreshBalance(userID domain.UserID, awarded int) {
	if c.profiles == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.runCtx, refreshTimeout)
	defer cancel()

	profile, err := c.profiles.Profile(ctx)
	if err != nil || profile.ID != userID {
		return
	}
	points := profile.CleanPoints + awarded
	if c.balances != nil {
		fetched, err := c.balances.FetchCleanPoints(ctx, userID)
		if err == nil {
			points = fetched
		} else {
			c.logger.WarnContext(ctx, "balance refresh failed, applying awarded points locally", "error", err)
		}
	}
	profile.CleanPoints = points
	if err := c.profiles.SetProfile(ctx, profile); err != nil {
		c.logger.WarnContext(ctx, "storing refreshed balance failed", "error", err)
	}
}

type nopNotifier struct{}

func (nopNotifier) OnStepChange(Step)            {}
func (nopNotifier) OnError(dErrors.Code, string) {}
func (nopNotifier) OnResult(validation.Result)   {}
