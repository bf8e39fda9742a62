package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
)

func newRecord(id, userID, adID string, createdAt time.Time) *model.ViewRecord {
	return &model.ViewRecord{
		ID:             id,
		UserID:         userID,
		AdID:           adID,
		RewardAmount:   30,
		Completed:      true,
		ApprovalStatus: model.ApprovalStatusApproved,
		CreatedAt:      createdAt,
	}
}

func TestMemoryLedgerRepo_AppendViewRecord_IsIdempotent(t *testing.T) {
	repo := NewMemoryLedgerRepo()
	ctx := context.Background()
	rec := newRecord("rec-1", "user-1", "ad-1", time.Now())

	for i := 0; i < 3; i++ {
		if err := repo.AppendViewRecord(ctx, rec); err != nil {
			t.Fatalf("AppendViewRecord returned error: %v", err)
		}
	}

	records, err := repo.ListViewRecords(ctx)
	if err != nil {
		t.Fatalf("ListViewRecords returned error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("同一IDの記録は1件のみ保存されるべき: got %d", len(records))
	}
}

func TestMemoryLedgerRepo_ListViewRecords_ReturnsCopies(t *testing.T) {
	repo := NewMemoryLedgerRepo()
	ctx := context.Background()
	_ = repo.AppendViewRecord(ctx, newRecord("rec-1", "user-1", "ad-1", time.Now()))

	records, _ := repo.ListViewRecords(ctx)
	records[0].RewardAmount = 9999

	again, _ := repo.ListViewRecords(ctx)
	if again[0].RewardAmount != 30 {
		t.Errorf("返却値の変更が台帳に反映されてはならない: got %d", again[0].RewardAmount)
	}
}

func TestMemoryLedgerRepo_ListViewRecordsForUsers_FiltersByUserAndTime(t *testing.T) {
	repo := NewMemoryLedgerRepo()
	ctx := context.Background()
	now := time.Now()

	_ = repo.AppendViewRecord(ctx, newRecord("rec-1", "user-1", "ad-1", now.Add(-time.Hour)))
	_ = repo.AppendViewRecord(ctx, newRecord("rec-2", "google-123", "ad-2", now.Add(-time.Hour)))
	_ = repo.AppendViewRecord(ctx, newRecord("rec-3", "user-1", "ad-3", now.Add(-48*time.Hour)))
	_ = repo.AppendViewRecord(ctx, newRecord("rec-4", "user-2", "ad-1", now.Add(-time.Hour)))

	records, err := repo.ListViewRecordsForUsers(ctx, []string{"user-1", "google-123"}, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListViewRecordsForUsers returned error: %v", err)
	}

	got := map[string]bool{}
	for _, r := range records {
		got[r.ID] = true
	}
	if len(records) != 2 || !got["rec-1"] || !got["rec-2"] {
		t.Errorf("期待する記録は rec-1, rec-2: got %v", got)
	}
}

func TestMemoryLedgerRepo_UpsertAds_PreservesCreatedAtAndOrder(t *testing.T) {
	repo := NewMemoryLedgerRepo()
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := repo.UpsertAds(ctx, []*model.Ad{
		{ID: "ad-b", Title: "B", CreatedAt: created},
		{ID: "ad-a", Title: "A", CreatedAt: created},
	})
	if err != nil {
		t.Fatalf("UpsertAds returned error: %v", err)
	}

	err = repo.UpsertAds(ctx, []*model.Ad{
		{ID: "ad-b", Title: "B2", CreatedAt: created.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("UpsertAds returned error: %v", err)
	}

	ads, _ := repo.ListAds(ctx)
	if len(ads) != 2 {
		t.Fatalf("広告数 = %d, want 2", len(ads))
	}
	if ads[0].ID != "ad-b" || ads[0].Title != "B2" {
		t.Errorf("更新後の先頭広告 = %s/%s, want ad-b/B2", ads[0].ID, ads[0].Title)
	}
	if !ads[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt は維持されるべき: got %v", ads[0].CreatedAt)
	}
}

func TestMemoryLedgerRepo_CanceledContext(t *testing.T) {
	repo := NewMemoryLedgerRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.ListViewRecords(ctx); err == nil {
		t.Error("キャンセル済みコンテキストでエラーが返されなかった")
	}
	if err := repo.AppendViewRecord(ctx, newRecord("rec-1", "u", "a", time.Now())); err == nil {
		t.Error("キャンセル済みコンテキストでエラーが返されなかった")
	}
}

func TestMemoryLedgerRepo_ConcurrentAppend(t *testing.T) {
	repo := NewMemoryLedgerRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 同じIDを2回ずつ追記する
			rec := newRecord(fmt.Sprintf("rec-%d", i%25), "user-1", "ad-1", time.Now())
			_ = repo.AppendViewRecord(ctx, rec)
		}(i)
	}
	wg.Wait()

	records, _ := repo.ListViewRecords(ctx)
	if len(records) != 25 {
		t.Errorf("並行追記後の記録数 = %d, want 25", len(records))
	}
}
