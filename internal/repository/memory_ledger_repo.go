package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
)

// MemoryLedgerRepo はプロセス内メモリを使用した台帳リポジトリ。
// 開発環境とテストで使用する。再起動すると内容は失われる。
type MemoryLedgerRepo struct {
	mu      sync.RWMutex
	ads     map[string]*model.Ad
	adOrder []string
	records []*model.ViewRecord
	seen    map[string]struct{}
}

// NewMemoryLedgerRepo は空のMemoryLedgerRepoを生成する。
func NewMemoryLedgerRepo() *MemoryLedgerRepo {
	return &MemoryLedgerRepo{
		ads:  make(map[string]*model.Ad),
		seen: make(map[string]struct{}),
	}
}

// ListAds は登録順に広告のコピーを返す。
func (r *MemoryLedgerRepo) ListAds(ctx context.Context) ([]*model.Ad, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ads := make([]*model.Ad, 0, len(r.adOrder))
	for _, id := range r.adOrder {
		ad := *r.ads[id]
		ads = append(ads, &ad)
	}
	return ads, nil
}

// UpsertAds は広告定義を作成または更新する。既存広告のCreatedAtは維持する。
func (r *MemoryLedgerRepo) UpsertAds(ctx context.Context, ads []*model.Ad) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ad := range ads {
		stored := *ad
		if existing, ok := r.ads[ad.ID]; ok {
			stored.CreatedAt = existing.CreatedAt
		} else {
			r.adOrder = append(r.adOrder, ad.ID)
		}
		r.ads[ad.ID] = &stored
	}
	return nil
}

// ListViewRecords は追記順に全視聴記録のコピーを返す。
func (r *MemoryLedgerRepo) ListViewRecords(ctx context.Context) ([]*model.ViewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*model.ViewRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		records = append(records, &cp)
	}
	return records, nil
}

// ListViewRecordsForUsers はuserIDsのいずれかに一致し、since以降に作成された記録を返す。
func (r *MemoryLedgerRepo) ListViewRecordsForUsers(ctx context.Context, userIDs []string, since time.Time) ([]*model.ViewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*model.ViewRecord
	for _, rec := range r.records {
		if _, ok := wanted[rec.UserID]; !ok {
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		cp := *rec
		records = append(records, &cp)
	}
	return records, nil
}

// AppendViewRecord は視聴記録を追記する。同一IDが既に存在する場合は何もしない。
func (r *MemoryLedgerRepo) AppendViewRecord(ctx context.Context, record *model.ViewRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[record.ID]; ok {
		return nil
	}
	cp := *record
	r.records = append(r.records, &cp)
	r.seen[record.ID] = struct{}{}
	return nil
}

// compile-time interface check
var (
	_ LedgerRepository = (*MemoryLedgerRepo)(nil)
	_ UserRecordLister = (*MemoryLedgerRepo)(nil)
)
