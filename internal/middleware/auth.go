// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/coinwatch/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var callerContextKey = contextKey("caller")

// Caller は認証済みの呼び出し元を表す。IDは未解決の識別子で、
// エンジンに渡す前にidentity.Resolverで正規化する。
type Caller struct {
	ID     string
	Email  string
	Source string // "session" または "bearer"
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// AuthConfig は認証ミドルウェアの設定。
type AuthConfig struct {
	Sessions SessionFinder
	// JWTSecret が空の場合、Bearerトークンは受け付けない。
	JWTSecret []byte
	JWTIssuer string
	Logger    *slog.Logger
}

// bearerClaims は外部IdPが発行するHS256トークンのクレーム。
type bearerClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware はログインセッションCookieまたはBearerトークンから呼び出し元を特定し、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieが優先され、どちらも無効な場合は401を返す。
func NewAuthMiddleware(cfg AuthConfig) func(next http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authenticate(r, cfg)
			if err != nil {
				if model.IsCode(err, model.ErrCodeRepositoryUnavailable) {
					logger.Error("セッションの検証に失敗しました", slog.String("error", err.Error()))
					WriteError(w, err)
					return
				}
				logger.Debug("認証に失敗しました", slog.String("reason", err.Error()))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			publishCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}

func authenticate(r *http.Request, cfg AuthConfig) (Caller, error) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" && cfg.Sessions != nil {
		session, err := cfg.Sessions.FindByID(r.Context(), cookie.Value)
		if err != nil {
			return Caller{}, model.NewRepositoryUnavailableError(err)
		}
		if session != nil {
			return Caller{ID: session.UserID, Source: "session"}, nil
		}
	}

	token, ok := bearerToken(r)
	if !ok {
		return Caller{}, errors.New("認証情報がありません")
	}
	if len(cfg.JWTSecret) == 0 {
		return Caller{}, errors.New("Bearerトークンは無効化されています")
	}
	return parseBearer(token, cfg)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func parseBearer(raw string, cfg AuthConfig) (Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}

	claims := &bearerClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return cfg.JWTSecret, nil
	}, opts...)
	if err != nil {
		return Caller{}, fmt.Errorf("トークンの検証に失敗しました: %w", err)
	}
	if claims.Subject == "" {
		return Caller{}, errors.New("subクレームがありません")
	}
	return Caller{ID: claims.Subject, Email: claims.Email, Source: "bearer"}, nil
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (Caller, error) {
	caller, ok := ctx.Value(callerContextKey).(Caller)
	if !ok || caller.ID == "" {
		return Caller{}, fmt.Errorf("caller not found in context")
	}
	return caller, nil
}

// UserIDFromContext はリクエストコンテキストから未解決のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return "", err
	}
	return caller.ID, nil
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// ContextWithUserID はユーザーIDのみを持つ呼び出し元をコンテキストに注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithCaller(ctx, Caller{ID: userID, Source: "session"})
}
