package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
)

const kioskToken = "kiosk-e2e-token"

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Request(method, path string, body any) error
	GET(path string) error
	Status() int
	Body() []byte
	Field(path string) (any, error)
}

// RegisterSteps registers sign-in related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &sessionSteps{tc: tc}
	ctx.Step(`^I sign in as user (\d+) "([^"]*)" with (\d+) cleanpoints$`, steps.signIn)
	ctx.Step(`^I sign in with token "([^"]*)" as user (\d+)$`, steps.signInWithToken)
	ctx.Step(`^I sign out$`, steps.signOut)
	ctx.Step(`^the signed in user should have (\d+) cleanpoints$`, steps.balanceShouldBe)
}

type sessionSteps struct {
	tc TestContext
}

func signInBody(token string, id int64, name string, points int) map[string]any {
	return map[string]any{
		"token": token,
		"user": map[string]any{
			"id":          id,
			"nombre":      name,
			"cleanpoints": points,
		},
	}
}

func (s *sessionSteps) signIn(id int64, name string, points int) error {
	if err := s.tc.Request(http.MethodPut, "/session", signInBody(kioskToken, id, name, points)); err != nil {
		return err
	}
	if s.tc.Status() != http.StatusOK {
		return fmt.Errorf("sign in failed with status %d: %s", s.tc.Status(), s.tc.Body())
	}
	return nil
}

func (s *sessionSteps) signInWithToken(token string, id int64) error {
	return s.tc.Request(http.MethodPut, "/session", signInBody(token, id, "Ana", 0))
}

func (s *sessionSteps) signOut() error {
	return s.tc.Request(http.MethodDelete, "/session", nil)
}

// The balance is refreshed after the result is shown, so poll briefly.
func (s *sessionSteps) balanceShouldBe(expected int) error {
	deadline := time.Now().Add(2 * time.Second)
	var last string
	for {
		if err := s.tc.GET("/session"); err != nil {
			return err
		}
		value, err := s.tc.Field("user.cleanpoints")
		if err == nil {
			last = fmt.Sprint(value)
			if last == fmt.Sprint(expected) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("expected %d cleanpoints, last saw %q (%s)", expected, last, s.tc.Body())
		}
		time.Sleep(50 * time.Millisecond)
	}
}
