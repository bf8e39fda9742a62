// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 台帳のバックエンド種別
const (
	LedgerBackendPostgres = "postgres"
	LedgerBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Ledger
	LedgerBackend string
	DatabaseURL   string

	// Redis（未設定の場合は日次カウンタをプロセス内で管理する）
	RedisURL       string
	RedisKeyPrefix string

	// RabbitMQ（未設定の場合は報酬イベントを送信しない）
	RabbitMQURL    string
	RewardExchange string

	// Auth
	JWTSecret  string
	JWTIssuer  string
	AdminToken string

	// Watch
	DailyWatchLimit      int
	DedupWindow          time.Duration
	WatchSessionTTL      time.Duration
	SessionSweepSchedule string
	Location             *time.Location

	// Catalog
	SyndicatedLinks      []string
	CatalogVerifyTargets bool

	// Repository retry
	RepositoryRetryAttempts int
	RepositoryRetryBase     time.Duration

	// Rate Limit（1分あたり）
	RateLimitGeneral    int
	RateLimitWatchStart int

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// defaults は任意項目の既定値。
var defaults = map[string]any{
	"LEDGER_BACKEND":            LedgerBackendPostgres,
	"REDIS_KEY_PREFIX":          "coinwatch",
	"REWARD_EXCHANGE":           "coinwatch_events",
	"DAILY_WATCH_LIMIT":         25,
	"DEDUP_WINDOW":              "24h",
	"WATCH_SESSION_TTL":         "30m",
	"SESSION_SWEEP_SCHEDULE":    "@every 1m",
	"TIMEZONE":                  "",
	"SYNDICATED_LINKS":          "",
	"CATALOG_VERIFY_TARGETS":    false,
	"REPOSITORY_RETRY_ATTEMPTS": 3,
	"REPOSITORY_RETRY_BASE":     "100ms",
	"RATE_LIMIT_GENERAL":        120,
	"RATE_LIMIT_WATCH_START":    30,
	"SERVER_PORT":               "8080",
	"CORS_ALLOWED_ORIGIN":       "",
	"LOG_LEVEL":                 "info",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、不足しているキーをまとめたエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	cfg := &Config{
		LedgerBackend:           strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_BACKEND"))),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		RedisURL:                v.GetString("REDIS_URL"),
		RedisKeyPrefix:          v.GetString("REDIS_KEY_PREFIX"),
		RabbitMQURL:             v.GetString("RABBITMQ_URL"),
		RewardExchange:          v.GetString("REWARD_EXCHANGE"),
		JWTSecret:               v.GetString("JWT_SECRET"),
		JWTIssuer:               v.GetString("JWT_ISSUER"),
		AdminToken:              v.GetString("ADMIN_API_TOKEN"),
		DailyWatchLimit:         positiveInt(v, "DAILY_WATCH_LIMIT"),
		DedupWindow:             positiveDuration(v, "DEDUP_WINDOW"),
		WatchSessionTTL:         positiveDuration(v, "WATCH_SESSION_TTL"),
		SessionSweepSchedule:    v.GetString("SESSION_SWEEP_SCHEDULE"),
		SyndicatedLinks:         splitList(v.GetString("SYNDICATED_LINKS")),
		CatalogVerifyTargets:    v.GetBool("CATALOG_VERIFY_TARGETS"),
		RepositoryRetryAttempts: positiveInt(v, "REPOSITORY_RETRY_ATTEMPTS"),
		RepositoryRetryBase:     positiveDuration(v, "REPOSITORY_RETRY_BASE"),
		RateLimitGeneral:        positiveInt(v, "RATE_LIMIT_GENERAL"),
		RateLimitWatchStart:     positiveInt(v, "RATE_LIMIT_WATCH_START"),
		ServerPort:              v.GetString("SERVER_PORT"),
		CORSAllowedOrigin:       v.GetString("CORS_ALLOWED_ORIGIN"),
		LogLevel:                strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	var missing []string
	switch cfg.LedgerBackend {
	case LedgerBackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case LedgerBackendMemory:
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND: %q (postgres|memory)", cfg.LedgerBackend)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	loc, err := loadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, err
	}
	cfg.Location = loc

	return cfg, nil
}

// positiveInt は正の整数を返す。不正値や0以下の場合は既定値を使う。
func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

// positiveDuration は正の期間を返す。解析できない場合は既定値を使う。
func positiveDuration(v *viper.Viper, key string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}
