// Package watch は広告視聴セッションのライフサイクルと視聴完了の検証を提供する。
package watch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/coinwatch/internal/eligibility"
	"github.com/hitoshi/coinwatch/internal/metrics"
	"github.com/hitoshi/coinwatch/internal/model"
	"github.com/hitoshi/coinwatch/internal/repository"
	"github.com/hitoshi/coinwatch/internal/retry"
)

// recordNamespace は視聴記録IDをセッションIDから導出するためのUUID名前空間。
// 同じセッションからは常に同じ記録IDが得られるため、追記のリトライで記録が重複しない。
var recordNamespace = uuid.MustParse("0b7c7d4e-9a51-4f0e-8c1e-5d2f3a6b8c90")

// sessionTokenBytes はセッショントークンの乱数バイト数。
const sessionTokenBytes = 32

// AdFinder は広告の参照インターフェース。
type AdFinder interface {
	FindAd(ctx context.Context, adID string) (*model.Ad, error)
	AdTitles(ctx context.Context) map[string]string
}

// EligibilityChecker は視聴可否判定のインターフェース。
type EligibilityChecker interface {
	Snapshot(ctx context.Context, p *model.Principal) (*eligibility.Snapshot, error)
	SnapshotAt(ctx context.Context, p *model.Principal, asOf time.Time) (*eligibility.Snapshot, error)
	DailyLimit() int
	DayKey(asOf time.Time) string
	Now() time.Time
}

// Publisher は承認された視聴の報酬付与を外部に通知する。
type Publisher interface {
	PublishRewardGranted(ctx context.Context, record *model.ViewRecord) error
}

// Deps はManagerの依存関係。
type Deps struct {
	Store       *SessionStore
	Ads         AdFinder
	Eligibility EligibilityChecker
	Verifier    *Verifier
	Quota       QuotaReserver
	Ledger      repository.LedgerRepository
	Publisher   Publisher
	Metrics     metrics.MetricsCollector
	Retry       retry.Policy
	Logger      *slog.Logger
}

// Manager は視聴セッションの開始と完了を扱う。
type Manager struct {
	store       *SessionStore
	ads         AdFinder
	eligibility EligibilityChecker
	verifier    *Verifier
	quota       QuotaReserver
	ledger      repository.LedgerRepository
	publisher   Publisher
	metrics     metrics.MetricsCollector
	retry       retry.Policy
	logger      *slog.Logger
	adLocks     keyedMutex
}

// NewManager はManagerを生成する。省略可能な依存はnilの場合に既定の実装で補う。
func NewManager(d Deps) *Manager {
	m := &Manager{
		store:       d.Store,
		ads:         d.Ads,
		eligibility: d.Eligibility,
		verifier:    d.Verifier,
		quota:       d.Quota,
		ledger:      d.Ledger,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		retry:       d.Retry,
		logger:      d.Logger,
	}
	if m.store == nil {
		m.store = NewSessionStore(DefaultSessionTTL, nil)
	}
	if m.verifier == nil {
		m.verifier = NewVerifier()
	}
	if m.quota == nil {
		m.quota = NewMemoryQuota()
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// StartResult は視聴開始の結果。
type StartResult struct {
	Session *model.WatchSession
	Ad      *model.Ad
	Message string
}

// CompletionResult は視聴完了の結果。却下の場合もRecordは保存済み。
type CompletionResult struct {
	Record  *model.ViewRecord
	Ad      *model.Ad
	Outcome Outcome
	Message string
}

// Start は視聴セッションを開始する。
// 判定順序: 日次上限（DailyLimitExceeded）→ 24時間以内の視聴（AlreadyWatched）→ 広告の存在（AdNotFound）。
// ここでの上限判定は台帳の件数による事前確認で、厳密な判定は完了時に行う。
func (m *Manager) Start(ctx context.Context, p *model.Principal, adID string) (*StartResult, error) {
	snap, err := m.eligibility.Snapshot(ctx, p)
	if err != nil {
		return nil, err
	}

	limit := m.eligibility.DailyLimit()
	if snap.Summary.DailyCount >= limit {
		m.metrics.RecordLimitRejection("start")
		return nil, model.NewDailyLimitExceededError(limit)
	}
	if snap.IsWatched(adID) {
		return nil, model.NewAlreadyWatchedError(adID)
	}

	ad, err := m.ads.FindAd(ctx, adID)
	if err != nil {
		return nil, err
	}

	session := &model.WatchSession{UserID: p.UserID, AdID: ad.ID}
	for {
		token, err := newSessionToken()
		if err != nil {
			return nil, fmt.Errorf("セッショントークンの生成に失敗しました: %w", err)
		}
		session.ID = token
		if m.store.Put(session) {
			break
		}
	}

	m.metrics.RecordSessionStarted()
	m.logger.Info("視聴セッションを開始しました",
		slog.String("user_id", p.UserID),
		slog.String("ad_id", ad.ID),
		slog.Int("daily_count", snap.Summary.DailyCount),
	)

	return &StartResult{Session: session, Ad: ad, Message: startMessage(ad)}, nil
}

// Complete は視聴完了報告を検証し、結果を台帳に記録する。
//
// セッションは所有者が一致した時点で消費され、以降の結果に関わらず再利用できない。
// 所有者の判定はPrincipal.Matchesで行い、正規IDに加えて生IDと外部IdPのIDも受け付ける。
// 視聴時間不足・未クリックはエラーではなく、報酬0の却下記録として保存する。
// 開始後に同じ広告の視聴が承認済みになっていた場合は、記録を書かずにAlreadyWatchedを返す。
// 日次上限はここで原子的に予約し、超過時は記録を書かずにDailyLimitExceededを返す。
func (m *Manager) Complete(ctx context.Context, p *model.Principal, sessionID string, reportedSeconds float64, clicked bool) (*CompletionResult, error) {
	begin := time.Now()
	defer func() { m.metrics.RecordCompletionLatency(time.Since(begin)) }()

	session, err := m.store.Consume(sessionID, func(s *model.WatchSession) error {
		if p.Matches(s.UserID) {
			return nil
		}
		m.logger.Warn("他ユーザーの視聴セッションが使用されました",
			slog.String("user_id", p.UserID),
			slog.String("session_user_id", s.UserID),
		)
		return model.NewForbiddenError()
	})
	if err != nil {
		return nil, err
	}

	ad, err := m.ads.FindAd(ctx, session.AdID)
	if err != nil {
		return nil, err
	}

	seconds := finiteSeconds(reportedSeconds)
	outcome, err := m.verifier.Verify(ad, seconds, clicked)
	if err != nil {
		return nil, err
	}

	// 同じ広告の視聴完了は直列化し、先に承認された記録を後続の判定に反映させる
	unlock := m.adLocks.Lock(p.UserID + "\x00" + ad.ID)
	defer unlock()

	asOf := m.eligibility.Now()
	day := m.eligibility.DayKey(asOf)
	limit := m.eligibility.DailyLimit()

	snap, err := m.eligibility.SnapshotAt(ctx, p, asOf)
	if err != nil {
		return nil, err
	}
	if snap.IsWatched(ad.ID) {
		m.logger.Warn("再視聴禁止期間内の広告の視聴完了を拒否しました",
			slog.String("user_id", p.UserID),
			slog.String("ad_id", ad.ID),
		)
		return nil, model.NewAlreadyWatchedError(ad.ID)
	}
	count := snap.Summary.DailyCount

	held, err := m.quota.Reserve(ctx, p.UserID, day, count, limit)
	quotaHeld := held
	if err != nil {
		m.logger.Warn("日次カウンタを予約できないため台帳の件数で判定します",
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()),
		)
		held, quotaHeld = count < limit, false
	}
	if !held {
		m.metrics.RecordLimitRejection("complete")
		return nil, model.NewDailyLimitExceededError(limit)
	}

	record := &model.ViewRecord{
		ID:                   uuid.NewSHA1(recordNamespace, []byte(session.ID)).String(),
		UserID:               p.UserID,
		AdID:                 ad.ID,
		RewardAmount:         outcome.Reward,
		ReportedWatchSeconds: seconds,
		Completed:            outcome.Completed,
		Clicked:              clicked,
		ApprovalStatus:       outcome.Status,
		CreatedAt:            asOf,
	}

	err = m.policy("append_view_record").Do(ctx, func(ctx context.Context) error {
		return m.ledger.AppendViewRecord(ctx, record)
	})
	if err != nil {
		if quotaHeld {
			if relErr := m.quota.Release(context.WithoutCancel(ctx), p.UserID, day); relErr != nil {
				m.logger.Error("日次カウンタの解放に失敗しました",
					slog.String("user_id", p.UserID),
					slog.String("error", relErr.Error()),
				)
			}
		}
		m.logger.Error("視聴記録の保存に失敗しました",
			slog.String("user_id", p.UserID),
			slog.String("record_id", record.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("視聴記録の保存に失敗しました: %w", err))
	}

	if record.IsApproved() && m.publisher != nil {
		if err := m.publisher.PublishRewardGranted(ctx, record); err != nil {
			m.logger.Warn("報酬付与イベントの送信に失敗しました",
				slog.String("record_id", record.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.metrics.RecordCompletion(string(outcome.Status), string(outcome.Reason), outcome.Reward)
	m.logger.Info("視聴完了を記録しました",
		slog.String("user_id", p.UserID),
		slog.String("ad_id", ad.ID),
		slog.String("record_id", record.ID),
		slog.String("status", string(outcome.Status)),
		slog.Int("reward", outcome.Reward),
	)

	return &CompletionResult{
		Record:  record,
		Ad:      ad,
		Outcome: outcome,
		Message: outcome.Message(ad),
	}, nil
}

// History はユーザーの視聴記録を新しい順に、広告タイトルを付けて返す。
func (m *Manager) History(ctx context.Context, p *model.Principal) ([]model.HistoryEntry, error) {
	var all []*model.ViewRecord
	err := m.policy("list_view_records").Do(ctx, func(ctx context.Context) error {
		var err error
		if lister, ok := m.ledger.(repository.UserRecordLister); ok {
			all, err = lister.ListViewRecordsForUsers(ctx, p.IDs(), time.Time{})
		} else {
			all, err = m.ledger.ListViewRecords(ctx)
		}
		return err
	})
	if err != nil {
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("視聴履歴の取得に失敗しました: %w", err))
	}

	titles := m.ads.AdTitles(ctx)
	entries := make([]model.HistoryEntry, 0, len(all))
	for _, rec := range all {
		if !p.Matches(rec.UserID) {
			continue
		}
		entries = append(entries, model.HistoryEntry{ViewRecord: *rec, AdTitle: titles[rec.AdID]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// SweepExpired は期限切れの視聴セッションを回収し、件数を返す。
func (m *Manager) SweepExpired() int {
	n := m.store.Sweep()
	if n > 0 {
		m.metrics.RecordSessionsExpired(n)
	}
	return n
}

// LiveSessions は未完了の視聴セッション数を返す。
func (m *Manager) LiveSessions() int {
	return m.store.Len()
}

func (m *Manager) policy(operation string) retry.Policy {
	p := m.retry
	p.OnRetry = func(attempt int, err error) {
		m.metrics.RecordRepositoryRetry(operation)
		m.logger.Warn("リポジトリ操作を再試行します",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return p
}

func startMessage(ad *model.Ad) string {
	msg := fmt.Sprintf("%d秒以上視聴すると%d〜%dコインを獲得できます。", ad.RequiredWatchSeconds, ad.RewardMin, ad.RewardMax)
	if ad.Kind == model.AdKindSyndicated {
		msg += "視聴後に広告をクリックしてください。"
	}
	return msg
}

func newSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func finiteSeconds(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
