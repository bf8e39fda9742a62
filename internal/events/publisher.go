// Package events は報酬付与イベントを外部システムへ送信する。
// 台帳への記録が正であり、イベント送信は記録後のベストエフォートとして扱う。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/coinwatch/internal/model"
)

const (
	// DefaultExchange は報酬イベントの送信先exchange名の既定値。
	DefaultExchange = "coinwatch_events"
	// RoutingKeyRewardGranted は報酬付与イベントのルーティングキー。
	RoutingKeyRewardGranted = "reward.granted"
)

// Publisher はイベント送信のインターフェース。
type Publisher interface {
	PublishRewardGranted(ctx context.Context, record *model.ViewRecord) error
	Close() error
}

// RewardGranted は報酬付与イベントのペイロード。
type RewardGranted struct {
	RecordID  string    `json:"record_id"`
	UserID    string    `json:"user_id"`
	AdID      string    `json:"ad_id"`
	Amount    int       `json:"amount"`
	GrantedAt time.Time `json:"granted_at"`
}

// NewRewardGranted は視聴記録からイベントを組み立てる。
func NewRewardGranted(record *model.ViewRecord) RewardGranted {
	return RewardGranted{
		RecordID:  record.ID,
		UserID:    record.UserID,
		AdID:      record.AdID,
		Amount:    record.RewardAmount,
		GrantedAt: record.CreatedAt.UTC(),
	}
}

// AMQPPublisher はRabbitMQのtopic exchangeへイベントを送信する。
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NormalizeAMQPURL は接続URLの前後の空白・引用符を除去し、スキームを検証する。
func NormalizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if clean == "" {
		return "", errors.New("AMQP URLが空です")
	}
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("AMQP URLの解析に失敗しました: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("AMQP URLのスキームが不正です: %s", u.Scheme)
	}
	return clean, nil
}

// NewAMQPPublisher はRabbitMQに接続し、durableなtopic exchangeを宣言する。
func NewAMQPPublisher(rawURL, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	amqpURL, err := NormalizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQへの接続に失敗しました: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("チャネルの作成に失敗しました: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("exchangeの宣言に失敗しました: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, logger: logger}, nil
}

// PublishRewardGranted は報酬付与イベントを送信する。
func (p *AMQPPublisher) PublishRewardGranted(ctx context.Context, record *model.ViewRecord) error {
	body, err := json.Marshal(NewRewardGranted(record))
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKeyRewardGranted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    record.ID,
		Timestamp:    record.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("イベントの送信に失敗しました: %w", err)
	}

	p.logger.Debug("報酬付与イベントを送信しました",
		slog.String("exchange", p.exchange),
		slog.String("record_id", record.ID),
	)
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// NoopPublisher はRabbitMQ未設定時に使用する何もしないPublisher。
type NoopPublisher struct{}

// PublishRewardGranted は何もしない。
func (NoopPublisher) PublishRewardGranted(context.Context, *model.ViewRecord) error { return nil }

// Close は何もしない。
func (NoopPublisher) Close() error { return nil }

// compile-time interface check
var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
