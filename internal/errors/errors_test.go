package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error", ZeroLength("no size"), CodeZeroLength},
		{"wrapped", fmt.Errorf("relay: %w", Transfer("read failed")), CodeTransfer},
		{"plain", fmt.Errorf("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", RemoteJob("status virus"))
	if !Is(err, RemoteJob("")) {
		t.Error("expected errors.Is to match on code")
	}
	if Is(err, Transfer("")) {
		t.Error("expected errors.Is not to match a different code")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(TransientNetwork("503")) {
		t.Error("transient network errors must be retryable")
	}
	if IsRetryable(Submission("bad magnet")) {
		t.Error("submission errors must not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(LinkResolution("unrestrict failed").WithCause(fmt.Errorf("hoster down")))
	if got != "LINK_RESOLUTION_ERROR: unrestrict failed" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req-1", Unauthorized("bad token"))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w.Header().Get("X-Request-ID") != "req-1" {
		t.Errorf("missing request id header")
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != CodeUnauthorized || resp.Error.RequestID != "req-1" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestWriteErrorWrapsUnknown(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "", fmt.Errorf("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRetryWithResultStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, Submission("rejected")
	})
	if CodeOf(err) != CodeSubmission {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithResultRetriesTransient(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", TransientNetwork("502")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func(ctx context.Context) error {
		calls++
		return TransientNetwork("timeout")
	})
	if !IsRetryable(err) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(), func(ctx context.Context) error {
		t.Fatal("fn must not run on a cancelled context")
		return nil
	})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHTTPRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !HTTPRetryableStatus(code) {
			t.Errorf("%d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if HTTPRetryableStatus(code) {
			t.Errorf("%d should not be retryable", code)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != "given" || w.Header().Get(RequestIDHeader) != "given" {
		t.Errorf("request id not propagated: ctx=%q header=%q", seen, w.Header().Get(RequestIDHeader))
	}
}

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2,
	}
}
