// Package retry はストレージ一時障害に対する指数バックオフ付きリトライを提供する。
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	// defaultAttempts は試行回数の既定値。
	defaultAttempts = 3
	// defaultBase は初回リトライ遅延の既定値。
	defaultBase = 100 * time.Millisecond
	// defaultMax は1回あたりの最大遅延。
	defaultMax = 2 * time.Second
)

// Policy はリトライ方針を表す。ゼロ値は既定値で動作する。
type Policy struct {
	// Attempts は初回を含む最大試行回数。
	Attempts int
	// Base は初回リトライ前の遅延。以降2倍ずつ増加する。
	Base time.Duration
	// Max は遅延の上限。
	Max time.Duration
	// OnRetry はリトライ直前に呼ばれる（メトリクス記録用）。nilの場合は呼ばれない。
	OnRetry func(attempt int, err error)
}

// permanentError はリトライしないエラーを表す。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はリトライ対象外としてerrをマークする。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回はBase、2倍ずつ増加、最大Max。
func (p Policy) CalculateBackoff(failures int) time.Duration {
	base, maxDelay := p.base(), p.max()
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Do はfnが成功するか試行回数を使い切るまで繰り返す。
// Permanentでマークされたエラーとコンテキストのキャンセルは即座に返す。
// 試行回数を使い切った場合は最後のエラーを返す。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
			timer := time.NewTimer(p.CalculateBackoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return err
}

func (p Policy) base() time.Duration {
	if p.Base <= 0 {
		return defaultBase
	}
	return p.Base
}

func (p Policy) max() time.Duration {
	if p.Max <= 0 {
		return defaultMax
	}
	return p.Max
}
