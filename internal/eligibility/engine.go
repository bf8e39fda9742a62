// Package eligibility は視聴台帳からユーザーの視聴可否を判定する。
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
	"github.com/hitoshi/coinwatch/internal/repository"
	"github.com/hitoshi/coinwatch/internal/retry"
)

const (
	// DefaultDailyLimit は1ユーザーあたりの1日の視聴上限。
	DefaultDailyLimit = 25
	// DefaultDedupWindow は同一広告の再視聴を禁止する期間。
	DefaultDedupWindow = 24 * time.Hour
)

// Config はEngineの設定。ゼロ値のフィールドは既定値で補われる。
type Config struct {
	DailyLimit  int
	DedupWindow time.Duration
	// Location は日付の境界に使うタイムゾーン。nilの場合はサーバーのローカル時刻。
	Location *time.Location
	Retry    retry.Policy
	// Now は現在時刻を返す。テスト用。
	Now func() time.Time
}

// Engine は日次視聴数、本日の獲得報酬、24時間以内の視聴済み広告を集計する。
// 台帳の読み出しは一時障害に対してリトライし、最終的に失敗した場合は
// RepositoryUnavailableを返す。ユーザーを視聴不可と見なして処理を続けることはしない。
type Engine struct {
	repo        repository.LedgerRepository
	dailyLimit  int
	dedupWindow time.Duration
	location    *time.Location
	retry       retry.Policy
	now         func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(repo repository.LedgerRepository, cfg Config) *Engine {
	e := &Engine{
		repo:        repo,
		dailyLimit:  cfg.DailyLimit,
		dedupWindow: cfg.DedupWindow,
		location:    cfg.Location,
		retry:       cfg.Retry,
		now:         cfg.Now,
	}
	if e.dailyLimit <= 0 {
		e.dailyLimit = DefaultDailyLimit
	}
	if e.dedupWindow <= 0 {
		e.dedupWindow = DefaultDedupWindow
	}
	if e.location == nil {
		e.location = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Snapshot は1回の台帳読み出しから得たユーザーの視聴状況。
type Snapshot struct {
	Summary model.EligibilitySummary
	Watched map[string]struct{}
}

// IsWatched はadIDが再視聴禁止期間内かどうかを返す。
func (s *Snapshot) IsWatched(adID string) bool {
	_, ok := s.Watched[adID]
	return ok
}

// DailyLimit は1日の視聴上限を返す。
func (e *Engine) DailyLimit() int {
	return e.dailyLimit
}

// Now は現在時刻を返す。
func (e *Engine) Now() time.Time {
	return e.now()
}

// DayBounds はasOfが属する日の開始時刻と翌日の開始時刻を返す。
func (e *Engine) DayBounds(asOf time.Time) (start, end time.Time) {
	local := asOf.In(e.location)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
	return start, start.AddDate(0, 0, 1)
}

// DayKey はasOfが属する日を "2006-01-02" 形式で返す。日次カウンタのキーに使う。
func (e *Engine) DayKey(asOf time.Time) string {
	return asOf.In(e.location).Format(time.DateOnly)
}

// DailyCount はasOfの日に作成された記録数を返す。
// 承認・却下を問わず全記録を数える。却下された試行も1日の枠を消費する。
func (e *Engine) DailyCount(ctx context.Context, p *model.Principal, asOf time.Time) (int, error) {
	start, end := e.DayBounds(asOf)
	records, err := e.records(ctx, p, start)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range records {
		if inRange(rec.CreatedAt, start, end) {
			count++
		}
	}
	return count, nil
}

// TodayReward はasOfの日に作成された記録の報酬合計を返す。
// 却下された記録の報酬は0のため、承認済み記録の合計と等しい。
func (e *Engine) TodayReward(ctx context.Context, p *model.Principal, asOf time.Time) (int, error) {
	start, end := e.DayBounds(asOf)
	records, err := e.records(ctx, p, start)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, rec := range records {
		if inRange(rec.CreatedAt, start, end) {
			total += rec.RewardAmount
		}
	}
	return total, nil
}

// WatchedAdIDs はasOfから遡って再視聴禁止期間内に承認された視聴がある広告IDを返す。
// 暦日ではなくスライディングウィンドウで判定する。却下された視聴は含まない。
func (e *Engine) WatchedAdIDs(ctx context.Context, p *model.Principal, asOf time.Time) (map[string]struct{}, error) {
	since := asOf.Add(-e.dedupWindow)
	records, err := e.records(ctx, p, since)
	if err != nil {
		return nil, err
	}
	return e.watched(records, asOf), nil
}

// Snapshot は1回の台帳読み出しで日次集計と視聴済み広告をまとめて返す。
func (e *Engine) Snapshot(ctx context.Context, p *model.Principal) (*Snapshot, error) {
	return e.SnapshotAt(ctx, p, e.now())
}

// SnapshotAt はasOf時点のSnapshotを返す。
func (e *Engine) SnapshotAt(ctx context.Context, p *model.Principal, asOf time.Time) (*Snapshot, error) {
	start, end := e.DayBounds(asOf)
	since := asOf.Add(-e.dedupWindow)
	if start.Before(since) {
		since = start
	}

	records, err := e.records(ctx, p, since)
	if err != nil {
		return nil, err
	}

	summary := model.EligibilitySummary{DailyLimit: e.dailyLimit}
	for _, rec := range records {
		if inRange(rec.CreatedAt, start, end) {
			summary.DailyCount++
			summary.TodayReward += rec.RewardAmount
		}
	}
	summary.CanWatchMore = summary.DailyCount < e.dailyLimit

	return &Snapshot{Summary: summary, Watched: e.watched(records, asOf)}, nil
}

func (e *Engine) watched(records []*model.ViewRecord, asOf time.Time) map[string]struct{} {
	since := asOf.Add(-e.dedupWindow)
	ids := make(map[string]struct{})
	for _, rec := range records {
		if rec.IsApproved() && rec.CreatedAt.After(since) && !rec.CreatedAt.After(asOf) {
			ids[rec.AdID] = struct{}{}
		}
	}
	return ids
}

// records はsince以降に作成されたユーザーの記録を返す。
// リポジトリがUserRecordListerを実装していればそれを使い、そうでなければ全件を読んでフィルタする。
func (e *Engine) records(ctx context.Context, p *model.Principal, since time.Time) ([]*model.ViewRecord, error) {
	var all []*model.ViewRecord
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if lister, ok := e.repo.(repository.UserRecordLister); ok {
			all, err = lister.ListViewRecordsForUsers(ctx, p.IDs(), since)
		} else {
			all, err = e.repo.ListViewRecords(ctx)
		}
		return err
	})
	if err != nil {
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("視聴記録の取得に失敗しました: %w", err))
	}

	filtered := all[:0:0]
	for _, rec := range all {
		if p.Matches(rec.UserID) && !rec.CreatedAt.Before(since) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
