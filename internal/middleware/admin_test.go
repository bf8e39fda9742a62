package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminTokenMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{"一致", "s3cret", "s3cret", http.StatusOK},
		{"不一致", "s3cret", "wrong", http.StatusForbidden},
		{"ヘッダーなし", "s3cret", "", http.StatusUnauthorized},
		{"未設定", "", "anything", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAdminTokenMiddleware(tt.configured, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/admin/ads", nil)
			if tt.header != "" {
				req.Header.Set("X-Admin-Token", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
