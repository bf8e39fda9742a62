package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCalculateBackoff_Doubles(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: 2 * time.Second}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.CalculateBackoff(tt.failures); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestCalculateBackoff_MaxDelay(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: 2 * time.Second}
	if got := p.CalculateBackoff(100); got != 2*time.Second {
		t.Errorf("高い失敗回数では最大値を返すべき, got %v", got)
	}
}

func TestCalculateBackoff_ZeroValueDefaults(t *testing.T) {
	var p Policy
	if got := p.CalculateBackoff(0); got != defaultBase {
		t.Errorf("ゼロ値のPolicyは既定の初回遅延を使うべき, got %v", got)
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	retries := 0
	p := Policy{
		Attempts: 3,
		Base:     time.Millisecond,
		OnRetry:  func(int, error) { retries++ },
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("3回目で成功すべき: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("OnRetry の呼び出し回数 = %d, want 2", retries)
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	want := errors.New("still down")
	calls := 0
	p := Policy{Attempts: 2, Base: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return want
	})

	if !errors.Is(err, want) {
		t.Errorf("最後のエラーを返すべき: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	want := errors.New("constraint violation")
	calls := 0
	p := Policy{Attempts: 5, Base: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(want)
	})

	if !errors.Is(err, want) {
		t.Errorf("元のエラーを返すべき: %v", err)
	}
	if calls != 1 {
		t.Errorf("Permanent なエラーはリトライしないべき: calls = %d", calls)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, Base: time.Hour}

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("temporary")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("context.Canceled を返すべき: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
