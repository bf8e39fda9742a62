package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/coinwatch/internal/metrics"
	"github.com/hitoshi/coinwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Auth              middleware.AuthConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	Logger            *slog.Logger

	Resolver IdentityResolver
	Catalog  interface {
		CatalogServiceInterface
		AdminCatalogInterface
	}
	Watch WatchServiceInterface

	HealthChecks []HealthCheck
	// AdminToken が空の場合、管理APIはルーティングしない。
	AdminToken string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → StatusMetrics → SecurityHeaders → CORS
//	  → (/api) Auth → RateLimit(General) → (/api/watch/start) RateLimit(WatchStart)
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecks, logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	adsHandler := NewAdsHandler(deps.Catalog, deps.Resolver)
	watchHandler := NewWatchHandler(deps.Watch, deps.Resolver)

	// --- 利用者向けAPI ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Auth))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/ads", adsHandler.ListAds)

		r.Route("/api/watch", func(r chi.Router) {
			r.With(deps.RateLimiter.WatchStartMiddleware()).Post("/start", watchHandler.Start)
			r.Post("/complete", watchHandler.Complete)
			r.Get("/history", watchHandler.History)
		})
	})

	// --- 運営者向けAPI ---
	if deps.AdminToken != "" {
		adminHandler := NewAdminHandler(deps.Catalog)
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminTokenMiddleware(deps.AdminToken, logger))
			r.Get("/ads", adminHandler.ListAds)
			r.Put("/ads", adminHandler.UpsertAds)
		})
	}

	return r
}
