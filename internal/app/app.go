package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/coinwatch/internal/catalog"
	"github.com/hitoshi/coinwatch/internal/config"
	"github.com/hitoshi/coinwatch/internal/database"
	"github.com/hitoshi/coinwatch/internal/eligibility"
	"github.com/hitoshi/coinwatch/internal/events"
	"github.com/hitoshi/coinwatch/internal/handler"
	"github.com/hitoshi/coinwatch/internal/identity"
	"github.com/hitoshi/coinwatch/internal/logger"
	"github.com/hitoshi/coinwatch/internal/metrics"
	"github.com/hitoshi/coinwatch/internal/middleware"
	"github.com/hitoshi/coinwatch/internal/repository"
	"github.com/hitoshi/coinwatch/internal/retry"
	"github.com/hitoshi/coinwatch/internal/security"
	"github.com/hitoshi/coinwatch/internal/watch"
	"github.com/hitoshi/coinwatch/internal/worker/reaper"
)

const (
	// pingTimeout は起動時とヘルスチェックでの接続確認のタイムアウト。
	pingTimeout = 5 * time.Second
	// targetCheckTimeout はcurated広告の遷移先到達確認のタイムアウト。
	targetCheckTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込んでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envの読み込み（既存の環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn(".envの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再初期化
	log = logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("ledger_backend", cfg.LedgerBackend),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

// Server は依存関係をワイヤリング済みのHTTPハンドラと、その後始末を保持する。
type Server struct {
	Handler http.Handler
	Manager *watch.Manager

	scheduler   *reaper.Scheduler
	rateLimiter *middleware.RateLimiter
	closers     []func() error
	logger      *slog.Logger
}

// Build は設定に従って全依存関係をワイヤリングする。
// 外部接続（PostgreSQL、Redis、RabbitMQ）は設定されたものだけを開き、起動時に到達確認する。
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Server, err error) {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{logger: log}
	defer func() {
		if err != nil {
			srv.Close(context.Background())
		}
	}()

	policy := retry.Policy{
		Attempts: cfg.RepositoryRetryAttempts,
		Base:     cfg.RepositoryRetryBase,
	}

	// 1. 台帳・ユーザー解決
	var (
		ledger   repository.LedgerRepository
		resolver *identity.Resolver
		sessions middleware.SessionFinder
		checks   []handler.HealthCheck
	)
	switch cfg.LedgerBackend {
	case config.LedgerBackendMemory:
		log.Warn("メモリ上の台帳で起動します。再起動すると視聴記録は失われます")
		ledger = repository.NewMemoryLedgerRepo()
		resolver = identity.NewResolver(nil, nil, log)
	default:
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, db.Close)
		log.Info("database connection established")

		ledger = repository.NewPostgresLedgerRepo(db)
		resolver = identity.NewResolver(
			repository.NewPostgresUserRepo(db),
			repository.NewPostgresIdentityRepo(db),
			log,
		)
		sessions = repository.NewPostgresSessionRepo(db)
		checks = append(checks, handler.HealthCheck{
			Name:  "database",
			Check: func(ctx context.Context) error { return database.Ping(ctx, db, pingTimeout) },
		})
	}

	// 2. 日次カウンタ
	var quota watch.QuotaReserver = watch.NewMemoryQuota()
	if cfg.RedisURL != "" {
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, client.Close)
		quota = watch.NewRedisQuota(client, cfg.RedisKeyPrefix)
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		log.Info("redis connection established")
	}

	// 3. 報酬イベント
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		// 台帳が正であり、イベント送信は付与処理の成否に影響しない
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RewardExchange, log)
		if err != nil {
			log.Warn("rabbitmqに接続できないため報酬イベントを送信しません", slog.String("error", err.Error()))
		} else {
			publisher = amqpPublisher
			log.Info("rabbitmq connection established", slog.String("exchange", cfg.RewardExchange))
		}
	}
	srv.closers = append(srv.closers, publisher.Close)

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. ドメインサービス
	engine := eligibility.NewEngine(ledger, eligibility.Config{
		DailyLimit:  cfg.DailyWatchLimit,
		DedupWindow: cfg.DedupWindow,
		Location:    cfg.Location,
		Retry:       observedPolicy(policy, "list_view_records", collector, log),
	})
	cat := catalog.NewService(
		ledger,
		engine,
		security.NewTextSanitizer(),
		security.NewTargetGuard(targetCheckTimeout),
		cfg.SyndicatedLinks,
		catalog.Options{
			VerifyTargets: cfg.CatalogVerifyTargets,
			Retry:         observedPolicy(policy, "list_ads", collector, log),
			Logger:        log,
		},
	)
	manager := watch.NewManager(watch.Deps{
		Store:       watch.NewSessionStore(cfg.WatchSessionTTL, nil),
		Ads:         cat,
		Eligibility: engine,
		Verifier:    watch.NewVerifier(),
		Quota:       quota,
		Ledger:      ledger,
		Publisher:   publisher,
		Metrics:     collector,
		Retry:       policy,
		Logger:      log,
	})
	collector.RegisterLiveSessions(manager.LiveSessions)
	srv.Manager = manager

	// 6. 期限切れセッションの回収
	srv.scheduler, err = reaper.NewScheduler(reaper.NewJob(manager, log), cfg.SessionSweepSchedule, log)
	if err != nil {
		return nil, err
	}

	// 7. ルーター
	srv.rateLimiter = middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWatchStart),
	)
	var jwtSecret []byte
	if cfg.JWTSecret != "" {
		jwtSecret = []byte(cfg.JWTSecret)
	}
	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		Auth: middleware.AuthConfig{
			Sessions:  sessions,
			JWTSecret: jwtSecret,
			JWTIssuer: cfg.JWTIssuer,
			Logger:    log,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       srv.rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		Logger:            log,
		Resolver:          resolver,
		Catalog:           cat,
		Watch:             manager,
		HealthChecks:      checks,
		AdminToken:        cfg.AdminToken,
	})

	return srv, nil
}

// Start はバックグラウンドジョブを開始する。
func (s *Server) Start() {
	if s.scheduler != nil {
		s.scheduler.Start()
	}
}

// Close はバックグラウンドジョブを停止し、外部接続を閉じる。
func (s *Server) Close(ctx context.Context) error {
	if s.scheduler != nil {
		select {
		case <-s.scheduler.Stop().Done():
		case <-ctx.Done():
			s.logger.Warn("回収ジョブの停止を待たずに終了します")
		}
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーと回収ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	srv, err := Build(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	srv.Start()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		srv.Close(context.Background())
		return fmt.Errorf("server listen error: %w", err)
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		srv.Close(ctx)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 未完了の視聴セッションはプロセスと共に失われる
	log.Info("discarding live watch sessions", slog.Int("live_sessions", srv.Manager.LiveSessions()))
	if err := srv.Close(ctx); err != nil {
		log.Warn("failed to close connections", slog.String("error", err.Error()))
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.LedgerBackend != config.LedgerBackendPostgres {
		return fmt.Errorf("migrate requires LEDGER_BACKEND=%s", config.LedgerBackendPostgres)
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL, log); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// observedPolicy は再試行のたびにメトリクスとログを記録するpolicyを返す。
func observedPolicy(base retry.Policy, operation string, collector metrics.MetricsCollector, log *slog.Logger) retry.Policy {
	p := base
	p.OnRetry = func(attempt int, err error) {
		collector.RecordRepositoryRetry(operation)
		log.Warn("リポジトリ操作を再試行します",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return p
}

func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
