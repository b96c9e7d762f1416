package test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cleanpoints/internal/platform/logger"
	httptransport "cleanpoints/internal/transport/http"
	"cleanpoints/pkg/testutil"
)

func TestRouterScaffold(t *testing.T) {
	testutil.Given(t, "the HTTP router with no feature handlers", func(t *testing.T) {
		router := httptransport.NewRouter(logger.Discard(), nil)

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should report ok", func(t *testing.T) {
				if rec.Code != http.StatusOK {
					t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
				}
			})
			testutil.And(t, "it should echo a request id", func(t *testing.T) {
				if rec.Header().Get("X-Request-ID") == "" {
					t.Fatal("expected a request id header")
				}
			})
		})

		testutil.When(t, "calling POST /flow/start", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/flow/start", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it should respond with not found", func(t *testing.T) {
				if rec.Code != http.StatusNotFound {
					t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
				}
			})
		})
	})
}
