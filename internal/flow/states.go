package flow

import (
	"time"

	"cleanpoints/internal/evidence"
	"cleanpoints/internal/validation"
	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
)

// Step names a flow state for notifications and transport.
type Step string

const (
	StepInstructions   Step = "instructions"
	StepScanningQR     Step = "scanning_qr"
	StepCapturingPhoto Step = "capturing_photo"
	StepSubmitting     Step = "submitting"
	StepResult         Step = "result"
)

// State is one of Instructions, ScanningQR, CapturingPhoto, Submitting or
// Result. Each carries exactly the data valid in that step.
type State interface {
	Step() Step
	isState()
}

type Instructions struct{}

type ScanningQR struct{}

// CapturingPhoto holds the decoded payload and, once taken, the preview.
type CapturingPhoto struct {
	QRCode string
	Image  *evidence.Image
}

type Submitting struct {
	QRCode string
	Image  evidence.Image
	UserID domain.UserID
}

type Result struct {
	QRCode  string
	Outcome validation.Result
}

func (Instructions) Step() Step   { return StepInstructions }
func (ScanningQR) Step() Step     { return StepScanningQR }
func (CapturingPhoto) Step() Step { return StepCapturingPhoto }
func (Submitting) Step() Step     { return StepSubmitting }
func (Result) Step() Step         { return StepResult }

func (Instructions) isState()   {}
func (ScanningQR) isState()     {}
func (CapturingPhoto) isState() {}
func (Submitting) isState()     {}
func (Result) isState()         {}

// Failure is the last error surfaced to the user.
type Failure struct {
	Code    dErrors.Code `json:"code"`
	Message string       `json:"message"`
}

func failureOf(err error) *Failure {
	code := dErrors.CodeOf(err)
	msg := dErrors.MessageOf(err)
	if msg == "" {
		msg = dErrors.UserMessage(code)
	}
	return &Failure{Code: code, Message: msg}
}

// Session is a snapshot of the scan session. Callers get copies; the
// controller owns the original.
type Session struct {
	ID       domain.SessionID
	State    State
	Error    *Failure
	CameraOn bool
	// CameraUnsupported is set for good once the platform reported no
	// camera support. Start then fails without retrying; the UI should
	// offer its manual or simulated entry path instead.
	CameraUnsupported bool
	UpdatedAt         time.Time
}

func (s Session) Step() Step {
	if s.State == nil {
		return StepInstructions
	}
	return s.State.Step()
}

// QRPayload returns the decoded payload, or "" before one was decoded.
func (s Session) QRPayload() string {
	switch st := s.State.(type) {
	case CapturingPhoto:
		return st.QRCode
	case Submitting:
		return st.QRCode
	case Result:
		return st.QRCode
	}
	return ""
}

// Image returns the evidence photo if one is held.
func (s Session) Image() *evidence.Image {
	switch st := s.State.(type) {
	case CapturingPhoto:
		return st.Image
	case Submitting:
		img := st.Image
		return &img
	}
	return nil
}

// Result returns the validation outcome once in the Result step.
func (s Session) Result() *validation.Result {
	if st, ok := s.State.(Result); ok {
		out := st.Outcome
		return &out
	}
	return nil
}
