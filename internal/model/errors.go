// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, watch, catalog, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となった内部エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeDailyLimitExceeded    = "DAILY_LIMIT_EXCEEDED"
	ErrCodeAlreadyWatched        = "ALREADY_WATCHED_RECENTLY"
	ErrCodeAdNotFound            = "AD_NOT_FOUND"
	ErrCodeSessionNotFound       = "SESSION_NOT_FOUND"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeRepositoryUnavailable = "REPOSITORY_UNAVAILABLE"
	ErrCodeInvalidAd             = "INVALID_AD"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
)

// IsCode はerrが指定コードのAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewDailyLimitExceededError は1日の視聴上限超過エラーを生成する。
func NewDailyLimitExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeDailyLimitExceeded,
		Message:  fmt.Sprintf("本日の視聴上限（%d回）に達しました。", limit),
		Category: "watch",
		Action:   "明日になってから再度お試しください。",
	}
}

// NewAlreadyWatchedError は24時間以内に視聴済みの広告に対するエラーを生成する。
func NewAlreadyWatchedError(adID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyWatched,
		Message:  fmt.Sprintf("この広告は24時間以内に視聴済みです: %s", adID),
		Category: "watch",
		Action:   "別の広告を選択してください。",
	}
}

// NewAdNotFoundError は広告未検出エラーを生成する。
func NewAdNotFoundError(adID string) *APIError {
	return &APIError{
		Code:     ErrCodeAdNotFound,
		Message:  fmt.Sprintf("指定された広告が見つかりません: %s", adID),
		Category: "catalog",
		Action:   "広告一覧を再読み込みしてください。",
	}
}

// NewSessionNotFoundError は視聴セッション未検出エラーを生成する。
// 消費済み・期限切れのセッションもこのエラーになる。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "視聴セッションが見つかりません。",
		Category: "watch",
		Action:   "広告の視聴を最初からやり直してください。",
	}
}

// NewForbiddenError はセッション所有者の不一致エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この視聴セッションを操作する権限がありません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRepositoryUnavailableError はストレージ一時障害のエラーを生成する。
// 詳細はErrに保持し、ユーザーには再試行のみを案内する。
func NewRepositoryUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeRepositoryUnavailable,
		Message:  "一時的に処理できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewInvalidAdError は広告定義のバリデーションエラーを生成する。
func NewInvalidAdError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAd,
		Message:  fmt.Sprintf("広告定義が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
