// Package model はドメインモデルを定義する。
package model

import "time"

// WatchSession は広告視聴の一時セッションを表す。永続化されない。
// startで1回だけ作成され、completeで1回だけ消費される。
type WatchSession struct {
	ID        string
	UserID    string
	AdID      string
	StartedAt time.Time
	ExpiresAt time.Time
}

// StartedAtEpochMillis は開始時刻をエポックミリ秒で返す。
func (s *WatchSession) StartedAtEpochMillis() int64 {
	return s.StartedAt.UnixMilli()
}
