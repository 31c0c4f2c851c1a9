package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	handler := RateLimit(0.5, 2)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/sessions-hold", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last.Code)
	}
	retryAfter := last.Header().Get("Retry-After")
	if secs, err := strconv.Atoi(retryAfter); err != nil || secs < 1 {
		t.Fatalf("expected whole-second Retry-After, got %q", retryAfter)
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	handler := RateLimit(0.5, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions-hold", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(first, req)

	other := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/sessions-hold", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(other, req)

	if first.Code != http.StatusOK || other.Code != http.StatusOK {
		t.Fatalf("distinct clients should each get their own bucket: %d, %d", first.Code, other.Code)
	}
}
