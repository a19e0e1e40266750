package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func retryLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func buildGet(t *testing.T, url string) func() (*http.Request, error) {
	t.Helper()
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestDoWithRetry_RetryAfterHonored(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	resp, err := doWithRetry(context.Background(), srv.Client(), buildGet(t, srv.URL), 2, retryLogger())
	if err != nil {
		t.Fatalf("doWithRetry: %v", err)
	}
	resp.Body.Close()

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
	// Retry-After: 0 means the wait is immediate; the backoff schedule would
	// have slept at least a second.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Retry-After not honored, waited %v", elapsed)
	}
}

func TestDoWithRetry_NoRetriesFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := doWithRetry(context.Background(), srv.Client(), buildGet(t, srv.URL), 0, retryLogger())
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("zero retries must mean exactly 1 request, got %d", got)
	}
}

func TestDoWithRetry_NonRetryableStatusReturned(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), buildGet(t, srv.URL), 3, retryLogger())
	if err != nil {
		t.Fatalf("doWithRetry: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx other than 429 must not be retried, got %d requests", got)
	}
}

func TestRetryAfter(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
		known bool
	}{
		{"", 0, false},
		{"not-a-number", 0, false},
		{"-5", 0, false},
		{"0", 0, true},
		{"7", 7 * time.Second, true},
		{"86400", maxRetryAfterWait, true},
	}
	for _, c := range cases {
		h := http.Header{}
		if c.value != "" {
			h.Set("Retry-After", c.value)
		}
		got, known := retryAfter(h)
		if got != c.want || known != c.known {
			t.Errorf("retryAfter(%q) = (%v, %v), want (%v, %v)", c.value, got, known, c.want, c.known)
		}
	}
}
