package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/coinwatch/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの解析に失敗"))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeInvalidRequest || body.Category != "validation" {
		t.Errorf("body = %+v", body)
	}
	if body.Message == "" || body.Action == "" {
		t.Error("message と action は空であってはならない")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewDailyLimitExceededError(25), http.StatusTooManyRequests},
		{model.NewAlreadyWatchedError("ad-1"), http.StatusConflict},
		{model.NewAdNotFoundError("ad-1"), http.StatusNotFound},
		{model.NewSessionNotFoundError(), http.StatusNotFound},
		{model.NewForbiddenError(), http.StatusForbidden},
		{model.NewRepositoryUnavailableError(errors.New("down")), http.StatusServiceUnavailable},
		{model.NewInvalidAdError("title"), http.StatusBadRequest},
		{model.NewInvalidRequestError("body"), http.StatusBadRequest},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", model.NewForbiddenError()), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
		{&model.APIError{Code: "UNKNOWN"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForError(tt.err); got != tt.want {
			t.Errorf("StatusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewRepositoryUnavailableError(errors.New("pq: password authentication failed")))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("内部エラーの詳細がレスポンスに含まれている: %s", w.Body.String())
	}
}

func TestWriteError_PlainErrorIs500(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("nil pointer"))

	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusInternalServerError || body.Code != "INTERNAL_ERROR" {
		t.Errorf("status=%d code=%q", w.Code, body.Code)
	}
}
