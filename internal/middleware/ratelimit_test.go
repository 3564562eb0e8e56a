package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestAuthMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	cfg := RateLimiterConfig{
		AuthRate:        2,
		AuthBurst:       5,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.AuthMiddleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestAuthMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		AuthRate:        1,
		AuthBurst:       2,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.AuthMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.8:51000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}

	// 3回目は429
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.8:51000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}

	// Retry-Afterヘッダーが正の整数であること
	retryAfter := resp.Header.Get("Retry-After")
	if sec, err := strconv.Atoi(retryAfter); err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive integer", retryAfter)
	}

	// 統一エラーフォーマットで返ること
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestAuthMiddleware_LimitsPerClientIP(t *testing.T) {
	cfg := RateLimiterConfig{
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.AuthMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// IP-Aがバーストを使い切る
	reqA := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	reqA.RemoteAddr = "203.0.113.10:51000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, reqA)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first request from A: status = %d", w.Result().StatusCode)
	}

	// IP-Bは独立したリミッターを持つため通る
	reqB := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	reqB.RemoteAddr = "203.0.113.11:51000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, reqB)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("request from B: status = %d, want 200", w.Result().StatusCode)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("limiter count = %d, want 2", rl.LimiterCount())
	}
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:51000"
	req.Header.Set("X-Forwarded-For", "203.0.113.20, 10.0.0.1")

	if ip := clientIP(req); ip != "203.0.113.20" {
		t.Errorf("clientIP = %q, want first X-Forwarded-For entry", ip)
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.30:51000"

	if ip := clientIP(req); ip != "203.0.113.30" {
		t.Errorf("clientIP = %q, want host of RemoteAddr", ip)
	}
}

func TestNewRateLimiterConfig_ConvertsPerMinuteRate(t *testing.T) {
	cfg := NewRateLimiterConfig(30)

	if cfg.AuthRate != rate.Limit(0.5) {
		t.Errorf("AuthRate = %v, want 0.5 req/sec", cfg.AuthRate)
	}
	if cfg.AuthBurst != 30 {
		t.Errorf("AuthBurst = %d, want 30", cfg.AuthBurst)
	}

	// 1未満は1に切り上げる
	cfg = NewRateLimiterConfig(0)
	if cfg.AuthBurst != 1 {
		t.Errorf("AuthBurst = %d, want 1", cfg.AuthBurst)
	}
}
