package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(ctx context.Context) error   { return nil }
func fail(ctx context.Context) error { return errors.New("connection refused") }

func TestChecker_BasicHealth(t *testing.T) {
	checker := NewChecker(&CheckerConfig{Version: "1.0.0"})

	response := checker.Check(context.Background())
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
}

func TestChecker_DeepCheck(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{"nothing configured", nil, StatusHealthy},
		{"all healthy", []Check{{Name: "redis", Probe: ok}, {Name: "database", Probe: ok}}, StatusHealthy},
		{"required down", []Check{{Name: "redis", Probe: fail}, {Name: "database", Probe: ok}}, StatusUnhealthy},
		{"optional down", []Check{{Name: "storage", Probe: fail, Optional: true}, {Name: "redis", Probe: ok}}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(&CheckerConfig{Checks: tt.checks, Timeout: time.Second})
			response := checker.DeepCheck(context.Background())
			if response.Status != tt.want {
				t.Errorf("status = %s, want %s", response.Status, tt.want)
			}
			if len(response.Components) != len(tt.checks) {
				t.Errorf("components = %v", response.Components)
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	checker := NewChecker(&CheckerConfig{Checks: []Check{{Name: "redis", Probe: slow}}, Timeout: 10 * time.Millisecond})
	if got := checker.DeepCheck(context.Background()).Status; got != StatusUnhealthy {
		t.Fatalf("status = %s", got)
	}
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler(NewChecker(&CheckerConfig{Checks: []Check{{Name: "redis", Probe: fail}}}))

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Components["redis"].Status != StatusUnhealthy {
		t.Errorf("components = %+v", resp.Components)
	}
}

func TestHealthHandlerDeepParam(t *testing.T) {
	h := NewHandler(NewChecker(&CheckerConfig{Checks: []Check{{Name: "redis", Probe: fail}}}))

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("deep status = %d", rec.Code)
	}
}

func TestFallbackHandler(t *testing.T) {
	h := NewHandler(NewChecker(&CheckerConfig{}))

	for _, path := range []string{"/", "/anything/at/all"} {
		rec := httptest.NewRecorder()
		h.FallbackHandler(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
			t.Errorf("GET %s = %d %q", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	h.FallbackHandler(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}
