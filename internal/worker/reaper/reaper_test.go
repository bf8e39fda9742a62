package reaper

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// mockSweeper はSweeperのモック実装。
type mockSweeper struct {
	sweepFn func() int
	calls   int32
	live    int
}

func (m *mockSweeper) SweepExpired() int {
	atomic.AddInt32(&m.calls, 1)
	if m.sweepFn != nil {
		return m.sweepFn()
	}
	return 0
}

func (m *mockSweeper) LiveSessions() int { return m.live }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestJob_RunLogsSummary(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{sweepFn: func() int { return 3 }, live: 7}
	job := NewJob(sweeper, newTestLogger(&buf))

	if n := job.Run(context.Background()); n != 3 {
		t.Errorf("Run() = %d, want 3", n)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSON解析に失敗: %v\nraw: %s", err, buf.String())
	}
	if entry["expired_count"] != float64(3) || entry["live_sessions"] != float64(7) {
		t.Errorf("ログの内容が不正: %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms が記録されていない")
	}
}

func TestJob_RunWithNothingExpiredLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockSweeper{}, newTestLogger(&buf))

	job.Run(context.Background())

	if buf.Len() != 0 {
		t.Errorf("回収0件はINFOで記録しないべき: %s", buf.String())
	}
}

func TestJob_RunSkipsCanceledContext(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewJob(sweeper, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job.Run(ctx)

	if atomic.LoadInt32(&sweeper.calls) != 0 {
		t.Error("キャンセル済みコンテキストでは回収しないべき")
	}
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	if _, err := NewScheduler(NewJob(&mockSweeper{}, nil), "every minute please", nil); err == nil {
		t.Error("不正なcron式はエラーを返すべき")
	}
}

func TestNewScheduler_DefaultSchedule(t *testing.T) {
	s, err := NewScheduler(NewJob(&mockSweeper{}, nil), "", nil)
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}
	if s.schedule != DefaultSchedule || len(s.cron.Entries()) != 1 {
		t.Errorf("schedule=%q entries=%d", s.schedule, len(s.cron.Entries()))
	}
}

func TestScheduler_RunsJobAndRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	first := true
	sweeper := &mockSweeper{sweepFn: func() int {
		if first {
			first = false
			panic("sweep failed")
		}
		return 1
	}}
	s, err := NewScheduler(NewJob(sweeper, nil), "@every 1s", newTestLogger(&buf))
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&sweeper.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if atomic.LoadInt32(&sweeper.calls) < 2 {
		t.Fatalf("panic後もジョブは実行され続けるべき: calls=%d", sweeper.calls)
	}
}
