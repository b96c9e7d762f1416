package common

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	StartKiosk(qrCode string, noCamera bool) error
	Close()
	Request(method, path string, body any) error
	Status() int
	Body() []byte
	Field(path string) (any, error)
}

// RegisterSteps registers kiosk lifecycle, request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the kiosk is running with the QR code "([^"]*)" in view$`, steps.kioskWithQRCode)
	ctx.Step(`^the kiosk is running with a blank camera$`, steps.kioskWithBlankCamera)
	ctx.Step(`^the kiosk is running without a camera$`, steps.kioskWithoutCamera)

	ctx.Step(`^I (GET|POST|DELETE) "([^"]*)"$`, steps.request)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be (true|false|-?\d+)$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should not be empty$`, steps.fieldShouldNotBeEmpty)
	ctx.Step(`^the response field "([^"]*)" should be absent$`, steps.fieldShouldBeAbsent)
	ctx.Step(`^the request should fail with status (\d+) and error "([^"]*)"$`, steps.requestShouldFail)

	ctx.After(func(c context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.Close()
		return c, err
	})
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) kioskWithQRCode(payload string) error {
	return s.tc.StartKiosk(payload, false)
}

func (s *commonSteps) kioskWithBlankCamera() error {
	return s.tc.StartKiosk("", false)
}

func (s *commonSteps) kioskWithoutCamera() error {
	return s.tc.StartKiosk("", true)
}

func (s *commonSteps) request(method, path string) error {
	return s.tc.Request(method, path, nil)
}

func (s *commonSteps) statusShouldBe(expected int) error {
	if s.tc.Status() != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, s.tc.Status(), s.tc.Body())
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(path, expected string) error {
	value, err := s.tc.Field(path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("field %q: expected %s, got %s", path, expected, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldNotBeEmpty(path string) error {
	value, err := s.tc.Field(path)
	if err != nil {
		return err
	}
	if value == nil || fmt.Sprint(value) == "" {
		return fmt.Errorf("field %q is empty", path)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeAbsent(path string) error {
	if value, err := s.tc.Field(path); err == nil && value != nil {
		return fmt.Errorf("field %q should be absent, got %v", path, value)
	}
	return nil
}

func (s *commonSteps) requestShouldFail(status int, code string) error {
	if err := s.statusShouldBe(status); err != nil {
		return err
	}
	if s.tc.Status() < http.StatusBadRequest {
		return fmt.Errorf("status %d is not an error", status)
	}
	return s.fieldShouldBe("error", code)
}
