// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/coinwatch/internal/middleware"
	"github.com/hitoshi/coinwatch/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// IdentityResolver は呼び出し元を正規化するインターフェース。
// エンジンの操作より前に必ず呼ぶ。
type IdentityResolver interface {
	Resolve(ctx context.Context, callerID, email string) (*model.Principal, error)
}

// resolvePrincipal は認証済みの呼び出し元を正規化済みのPrincipalに解決する。
func resolvePrincipal(r *http.Request, resolver IdentityResolver) (*model.Principal, error) {
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}
	return resolver.Resolve(r.Context(), caller.ID, caller.Email)
}

// decodeJSON はリクエストボディをvに読み込む。未知のフィールドは拒否する。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewInvalidRequestError("リクエストボディが空です")
		}
		return model.NewInvalidRequestError("JSONの解析に失敗しました")
	}
	if dec.More() {
		return model.NewInvalidRequestError("JSONオブジェクトは1つだけ指定してください")
	}
	return nil
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
