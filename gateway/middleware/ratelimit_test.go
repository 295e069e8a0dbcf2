package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2})
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", code)
	}
	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("second request = %d, want 200", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded = %d, want 429", code)
	}
	// An unrelated client has its own bucket.
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Fatalf("other client = %d, want 200", code)
	}
}

func TestClientIDResolution(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := clientID(req); got != "192.0.2.7" {
		t.Fatalf("remote addr id = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.9" {
		t.Fatalf("forwarded id = %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.3")
	if got := clientID(req); got != "198.51.100.3" {
		t.Fatalf("real ip id = %q", got)
	}
}
