// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 視聴セッション管理、ワーカー、HTTP層から利用する。
type MetricsCollector interface {
	RecordSessionStarted()
	RecordCompletion(status string, reason string, reward int)
	RecordLimitRejection(stage string)
	RecordSessionsExpired(count int)
	RecordRepositoryRetry(operation string)
	RecordHTTPStatus(statusCode int)
	RecordCompletionLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reg               prometheus.Registerer
	sessionsStarted   prometheus.Counter
	completions       *prometheus.CounterVec
	coinsGranted      prometheus.Counter
	rejections        *prometheus.CounterVec
	limitRejections   *prometheus.CounterVec
	sessionsExpired   prometheus.Counter
	repositoryRetries *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	completionLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_sessions_started_total",
			Help: "開始された視聴セッションの合計数",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinwatch_completions_total",
			Help: "承認状態別の視聴完了報告数",
		}, []string{"status"}),
		coinsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_coins_granted_total",
			Help: "付与したコインの合計",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinwatch_rejections_total",
			Help: "却下理由別の却下数",
		}, []string{"reason"}),
		limitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinwatch_daily_limit_rejections_total",
			Help: "日次上限で拒否されたリクエスト数（start/complete別）",
		}, []string{"stage"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_sessions_expired_total",
			Help: "期限切れで回収された視聴セッションの合計数",
		}),
		repositoryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinwatch_repository_retries_total",
			Help: "操作別のリポジトリ再試行数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinwatch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coinwatch_completion_latency_seconds",
			Help:    "視聴完了処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionsStarted,
		c.completions,
		c.coinsGranted,
		c.rejections,
		c.limitRejections,
		c.sessionsExpired,
		c.repositoryRetries,
		c.httpStatus,
		c.completionLatency,
	)

	return c
}

// RegisterLiveSessions は生存中の視聴セッション数をゲージとして登録する。
func (c *Collector) RegisterLiveSessions(count func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "coinwatch_live_sessions",
		Help: "メモリ上の未完了視聴セッション数",
	}, func() float64 {
		return float64(count())
	}))
}

// RecordSessionStarted は視聴セッションの開始を記録する。
func (c *Collector) RecordSessionStarted() {
	c.sessionsStarted.Inc()
}

// RecordCompletion は視聴完了の結果を記録する。reasonは却下時のみ使用する。
func (c *Collector) RecordCompletion(status string, reason string, reward int) {
	c.completions.WithLabelValues(status).Inc()
	if reward > 0 {
		c.coinsGranted.Add(float64(reward))
	}
	if reason != "" {
		c.rejections.WithLabelValues(reason).Inc()
	}
}

// RecordLimitRejection は日次上限による拒否を記録する。
func (c *Collector) RecordLimitRejection(stage string) {
	c.limitRejections.WithLabelValues(stage).Inc()
}

// RecordSessionsExpired は期限切れで回収したセッション数を記録する。
func (c *Collector) RecordSessionsExpired(count int) {
	c.sessionsExpired.Add(float64(count))
}

// RecordRepositoryRetry はリポジトリ操作の再試行を記録する。
func (c *Collector) RecordRepositoryRetry(operation string) {
	c.repositoryRetries.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCompletionLatency は視聴完了処理のレイテンシを記録する。
func (c *Collector) RecordCompletionLatency(duration time.Duration) {
	c.completionLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordSessionStarted() {}
func (Nop) RecordCompletion(string, string, int) {}
func (Nop) RecordLimitRejection(string) {}
func (Nop) RecordSessionsExpired(int) {}
func (Nop) RecordRepositoryRetry(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordCompletionLatency(time.Duration) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
