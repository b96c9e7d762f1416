package flow

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
)

const stepTimeout = 5 * time.Second

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	Status() int
	Body() []byte
	Field(path string) (any, error)
	AnswerValidation(status int, body any) error
	SetBalance(points int) error
	SubmittedQRCodes() []string
	LastSubmission() (userID int64, imageChars int, ok bool)
	CameraCounts() (acquired, released int)
	CameraOpen() bool
}

// RegisterSteps registers scan, capture and submission step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &flowSteps{tc: tc}

	ctx.Step(`^the validation backend accepts with (\d+) points$`, steps.backendAccepts)
	ctx.Step(`^the validation backend rejects with message "([^"]*)"$`, steps.backendRejects)
	ctx.Step(`^the validation backend fails with status (\d+) and detail "([^"]*)"$`, steps.backendFails)
	ctx.Step(`^the backend balance is (\d+) cleanpoints$`, steps.backendBalance)

	ctx.Step(`^the flow should reach step "([^"]*)"$`, steps.shouldReachStep)
	ctx.Step(`^the flow should stay in step "([^"]*)" for (\d+) ms$`, steps.shouldStayInStep)
	ctx.Step(`^the flow should report error "([^"]*)"$`, steps.shouldReportError)
	ctx.Step(`^the result should award (\d+) points$`, steps.resultShouldAward)
	ctx.Step(`^the result should be rejected with message "([^"]*)"$`, steps.resultShouldBeRejected)
	ctx.Step(`^the photo should be available$`, steps.photoShouldBeAvailable)

	ctx.Step(`^the backend should have received (\d+) submissions? for "([^"]*)"$`, steps.backendReceived)
	ctx.Step(`^the last submission should carry user (\d+) and a photo$`, steps.lastSubmissionCarries)

	ctx.Step(`^the camera should be released$`, steps.cameraReleased)
	ctx.Step(`^the camera should be open$`, steps.cameraOpen)
}

type flowSteps struct {
	tc TestContext
}

func (s *flowSteps) backendAccepts(points int) error {
	return s.tc.AnswerValidation(http.StatusOK, map[string]any{
		"valid":              true,
		"cleanpoints_earned": points,
		"message":            "Reciclaje validado",
	})
}

func (s *flowSteps) backendRejects(message string) error {
	return s.tc.AnswerValidation(http.StatusOK, map[string]any{
		"valid":              false,
		"cleanpoints_earned": 0,
		"message":            message,
	})
}

func (s *flowSteps) backendFails(status int, detail string) error {
	return s.tc.AnswerValidation(status, map[string]any{"detail": detail})
}

func (s *flowSteps) backendBalance(points int) error {
	return s.tc.SetBalance(points)
}

func (s *flowSteps) currentStep() (string, error) {
	if err := s.tc.GET("/flow"); err != nil {
		return "", err
	}
	if s.tc.Status() != http.StatusOK {
		return "", fmt.Errorf("GET /flow returned %d: %s", s.tc.Status(), s.tc.Body())
	}
	step, err := s.tc.Field("step")
	if err != nil {
		return "", err
	}
	return fmt.Sprint(step), nil
}

func (s *flowSteps) shouldReachStep(expected string) error {
	deadline := time.Now().Add(stepTimeout)
	for {
		step, err := s.currentStep()
		if err != nil {
			return err
		}
		if step == expected {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("flow stuck in %q waiting for %q: %s", step, expected, s.tc.Body())
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func (s *flowSteps) shouldStayInStep(expected string, ms int) error {
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for time.Now().Before(deadline) {
		step, err := s.currentStep()
		if err != nil {
			return err
		}
		if step != expected {
			return fmt.Errorf("flow left %q for %q", expected, step)
		}
		time.Sleep(25 * time.Millisecond)
	}
	return nil
}

func (s *flowSteps) shouldReportError(code string) error {
	if err := s.tc.GET("/flow"); err != nil {
		return err
	}
	got, err := s.tc.Field("last_error.code")
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != code {
		return fmt.Errorf("expected last error %q, got %v", code, got)
	}
	return nil
}

func (s *flowSteps) resultShouldAward(points int) error {
	if err := s.shouldReachStep("result"); err != nil {
		return err
	}
	valid, err := s.tc.Field("result.valid")
	if err != nil {
		return err
	}
	earned, err := s.tc.Field("result.points_earned")
	if err != nil {
		return err
	}
	if valid != true || fmt.Sprint(earned) != fmt.Sprint(points) {
		return fmt.Errorf("expected a valid result with %d points, got valid=%v points=%v", points, valid, earned)
	}
	return nil
}

func (s *flowSteps) resultShouldBeRejected(message string) error {
	if err := s.shouldReachStep("result"); err != nil {
		return err
	}
	valid, err := s.tc.Field("result.valid")
	if err != nil {
		return err
	}
	got, err := s.tc.Field("result.message")
	if err != nil {
		return err
	}
	if valid != false || fmt.Sprint(got) != message {
		return fmt.Errorf("expected a rejected result %q, got valid=%v message=%v", message, valid, got)
	}
	return nil
}

func (s *flowSteps) photoShouldBeAvailable() error {
	if err := s.tc.GET("/flow/photo"); err != nil {
		return err
	}
	if s.tc.Status() != http.StatusOK {
		return fmt.Errorf("GET /flow/photo returned %d", s.tc.Status())
	}
	body := s.tc.Body()
	if len(body) < 3 || body[0] != 0xff || body[1] != 0xd8 {
		return fmt.Errorf("photo is not a JPEG (%d bytes)", len(body))
	}
	return nil
}

func (s *flowSteps) backendReceived(count int, payload string) error {
	codes := s.tc.SubmittedQRCodes()
	got := 0
	for _, c := range codes {
		if c == payload {
			got++
		}
	}
	if got != count {
		return fmt.Errorf("expected %d submissions for %q, got %d (all: %v)", count, payload, got, codes)
	}
	return nil
}

func (s *flowSteps) lastSubmissionCarries(userID int64) error {
	got, imageChars, ok := s.tc.LastSubmission()
	if !ok {
		return fmt.Errorf("backend received nothing")
	}
	if got != userID {
		return fmt.Errorf("expected user %d, got %d", userID, got)
	}
	if imageChars == 0 {
		return fmt.Errorf("submission carried no image")
	}
	return nil
}

func (s *flowSteps) cameraReleased() error {
	deadline := time.Now().Add(time.Second)
	for s.tc.CameraOpen() {
		if time.Now().After(deadline) {
			return fmt.Errorf("camera still open")
		}
		time.Sleep(10 * time.Millisecond)
	}
	acquired, released := s.tc.CameraCounts()
	if acquired != released {
		return fmt.Errorf("camera acquired %d times but released %d", acquired, released)
	}
	return nil
}

func (s *flowSteps) cameraOpen() error {
	if !s.tc.CameraOpen() {
		return fmt.Errorf("camera is not open")
	}
	return nil
}
