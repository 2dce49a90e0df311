package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ghuser/notifyhub/pkg/httpx"
)

type stubChecker struct{ err error }

func (s *stubChecker) Ping(_ context.Context) error { return s.err }

func serveHealth(t *testing.T, checks httpx.HealthChecks) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	httpx.HealthHandler(checks).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rr, resp
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	rr, resp := serveHealth(t, httpx.HealthChecks{Redis: &stubChecker{}, Broker: &stubChecker{}})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp["status"] != "ok" || resp["redis"] != "ok" || resp["broker"] != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHealthHandler_RedisDown(t *testing.T) {
	rr, resp := serveHealth(t, httpx.HealthChecks{
		Redis:  &stubChecker{err: errors.New("timeout")},
		Broker: &stubChecker{},
	})

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if resp["status"] != "degraded" || resp["redis"] != "unreachable" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHealthHandler_BrokerDown(t *testing.T) {
	rr, resp := serveHealth(t, httpx.HealthChecks{
		Redis:  &stubChecker{},
		Broker: &stubChecker{err: errors.New("conn refused")},
	})

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if resp["status"] != "degraded" || resp["broker"] != "unreachable" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

// TestHealthHandler_NilCheckerDisabled verifies an unconfigured dependency
// is reported but does not fail the probe.
func TestHealthHandler_NilCheckerDisabled(t *testing.T) {
	rr, resp := serveHealth(t, httpx.HealthChecks{Broker: &stubChecker{}})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp["redis"] != "disabled" {
		t.Errorf("redis: got %q, want disabled", resp["redis"])
	}
}

func TestHealthHandler_ContentType(t *testing.T) {
	rr, _ := serveHealth(t, httpx.HealthChecks{Redis: &stubChecker{}, Broker: &stubChecker{}})

	ct := rr.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type: got %q, want %q", ct, "application/json; charset=utf-8")
	}
}
