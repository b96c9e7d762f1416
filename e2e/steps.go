package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cucumber/godog"

	"cleanpoints/e2e/steps/common"
	"cleanpoints/e2e/steps/flow"
	"cleanpoints/e2e/steps/session"
)

var errNoKiosk = errors.New("no kiosk running; start one with a Given step")

// TestContext holds one scenario's kiosk and the last HTTP exchange.
type TestContext struct {
	kiosk      *Kiosk
	lastStatus int
	lastBody   []byte
}

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Kiosk lifecycle, generic requests and assertions
	common.RegisterSteps(ctx, tc)

	// Sign-in and sign-out
	session.RegisterSteps(ctx, tc)

	// Scan, capture and submit
	flow.RegisterSteps(ctx, tc)
}

func (tc *TestContext) StartKiosk(qrCode string, noCamera bool) error {
	tc.Close()
	k, err := StartKiosk(Scene{QRCode: qrCode, NoCamera: noCamera})
	if err != nil {
		return fmt.Errorf("starting kiosk: %w", err)
	}
	tc.kiosk = k
	return nil
}

// Close tears the scenario's kiosk down. Safe to call twice.
func (tc *TestContext) Close() {
	if tc.kiosk != nil {
		tc.kiosk.Close()
		tc.kiosk = nil
	}
	tc.lastStatus = 0
	tc.lastBody = nil
}

// Request sends method path with an optional JSON body and records the reply.
func (tc *TestContext) Request(method, path string, body any) error {
	if tc.kiosk == nil {
		return errNoKiosk
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.kiosk.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := tc.kiosk.Client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) POST(path string, body any) error { return tc.Request(http.MethodPost, path, body) }

func (tc *TestContext) GET(path string) error { return tc.Request(http.MethodGet, path, nil) }

func (tc *TestContext) Status() int { return tc.lastStatus }

func (tc *TestContext) Body() []byte { return tc.lastBody }

// Field walks a dotted path ("result.points_earned") into the last JSON
// response.
func (tc *TestContext) Field(path string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w (%s)", err, tc.lastBody)
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", path, key)
		}
		cur, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("field %q not found in %s", path, tc.lastBody)
		}
	}
	return cur, nil
}

func (tc *TestContext) AnswerValidation(status int, body any) error {
	if tc.kiosk == nil {
		return errNoKiosk
	}
	tc.kiosk.Backend.Answer(status, body)
	return nil
}

func (tc *TestContext) SetBalance(points int) error {
	if tc.kiosk == nil {
		return errNoKiosk
	}
	tc.kiosk.Backend.Balance(points)
	return nil
}

// SubmittedQRCodes lists the payloads the backend received, oldest first.
func (tc *TestContext) SubmittedQRCodes() []string {
	if tc.kiosk == nil {
		return nil
	}
	var codes []string
	for _, r := range tc.kiosk.Backend.Received() {
		codes = append(codes, r.QRCode)
	}
	return codes
}

// LastSubmission returns the user id and image size of the newest request.
func (tc *TestContext) LastSubmission() (userID int64, imageChars int, ok bool) {
	if tc.kiosk == nil {
		return 0, 0, false
	}
	received := tc.kiosk.Backend.Received()
	if len(received) == 0 {
		return 0, 0, false
	}
	last := received[len(received)-1]
	return last.UserID, len(last.ImageData), true
}

func (tc *TestContext) CameraCounts() (acquired, released int) {
	if tc.kiosk == nil {
		return 0, 0
	}
	return tc.kiosk.Cameras.Counts()
}

func (tc *TestContext) CameraOpen() bool {
	return tc.kiosk != nil && tc.kiosk.Cameras.Active() != nil
}
