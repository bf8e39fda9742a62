package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/coinwatch/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
var statusByCode = map[string]int{
	model.ErrCodeDailyLimitExceeded:    http.StatusTooManyRequests,
	model.ErrCodeAlreadyWatched:        http.StatusConflict,
	model.ErrCodeAdNotFound:            http.StatusNotFound,
	model.ErrCodeSessionNotFound:       http.StatusNotFound,
	model.ErrCodeForbidden:             http.StatusForbidden,
	model.ErrCodeRepositoryUnavailable: http.StatusServiceUnavailable,
	model.ErrCodeInvalidAd:             http.StatusBadRequest,
	model.ErrCodeInvalidRequest:        http.StatusBadRequest,
	model.ErrCodeUnauthorized:          http.StatusUnauthorized,
}

// StatusForError はエラーに対応するHTTPステータスを返す。
// APIError以外と未知のコードは500とする。
func StatusForError(err error) int {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if status, ok := statusByCode[apiErr.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// WriteError はエラーを統一フォーマットで書き込む。
// APIError以外の詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	if apiErr.Err != nil {
		slog.Warn("api error",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Err.Error()),
		)
	}
	WriteErrorResponse(w, StatusForError(apiErr), apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
