package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func serveAs(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/watch/start", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_GeneralBurstThen429(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 1, GeneralBurst: 3, WatchStartRate: 1, WatchStartBurst: 1, CleanupInterval: time.Minute,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		if w := serveAs(handler, "user-1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serveAs(handler, "user-1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}

	// 別ユーザーには影響しない
	if w := serveAs(handler, "user-2"); w.Code != http.StatusOK {
		t.Errorf("別ユーザーの status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_WatchStartIndependentOfGeneral(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 10, GeneralBurst: 100, WatchStartRate: 0.01, WatchStartBurst: 2, CleanupInterval: time.Minute,
	})
	general := rl.GeneralMiddleware()(okHandler())
	start := rl.GeneralMiddleware()(rl.WatchStartMiddleware()(okHandler()))

	serveAs(start, "user-1")
	serveAs(start, "user-1")
	if w := serveAs(start, "user-1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("視聴開始の3回目 status = %d, want 429", w.Code)
	}
	if w := serveAs(general, "user-1"); w.Code != http.StatusOK {
		t.Errorf("一般APIは引き続き利用できるべき: status = %d", w.Code)
	}
	if rl.WatchStartLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Errorf("limiter counts = %d/%d", rl.GeneralLimiterCount(), rl.WatchStartLimiterCount())
	}
}

func TestRateLimiter_RequiresCaller(t *testing.T) {
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())
	if w := serveAs(rl.GeneralMiddleware()(okHandler()), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 1, GeneralBurst: 1, WatchStartRate: 1, WatchStartBurst: 1, CleanupInterval: time.Hour,
	})
	serveAs(rl.GeneralMiddleware()(okHandler()), "user-1")

	rl.cleanup(time.Now().Add(time.Hour))
	if rl.GeneralLimiterCount() != 1 {
		t.Error("TTL内のエントリは残るべき")
	}
	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.GeneralLimiterCount() != 0 {
		t.Error("TTLを超えたエントリは削除されるべき")
	}
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := PerMinuteRateLimiterConfig(120, 30)
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.WatchStartRate != 0.5 || cfg.WatchStartBurst != 30 {
		t.Errorf("watch start = %v/%d", cfg.WatchStartRate, cfg.WatchStartBurst)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
