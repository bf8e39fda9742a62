// Package model はドメインモデルを定義する。
package model

import "time"

// ViewRecord は1回の視聴試行の台帳エントリを表す。
// 作成後は変更されない（追記専用）。報酬集計とレート制限の両方に使用される。
type ViewRecord struct {
	ID                   string
	UserID               string
	AdID                 string
	RewardAmount         int
	ReportedWatchSeconds float64
	Completed            bool
	Clicked              bool
	ApprovalStatus       ApprovalStatus
	CreatedAt            time.Time
}

// ApprovalStatus は視聴検証の結果を表す。作成時に確定する。
type ApprovalStatus string

const (
	// ApprovalStatusApproved は視聴が承認され報酬が付与された状態。
	ApprovalStatusApproved ApprovalStatus = "approved"
	// ApprovalStatusRejected は視聴が却下され報酬が0の状態。
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// IsApproved は承認済みかつ視聴完了の記録かどうかを返す。
// 24時間の重複視聴判定にはこの条件を満たす記録のみを使用する。
func (r *ViewRecord) IsApproved() bool {
	return r.Completed && r.ApprovalStatus == ApprovalStatusApproved
}

// HistoryEntry は視聴履歴の1件に広告タイトルを結合したもの。
type HistoryEntry struct {
	ViewRecord
	AdTitle string
}

// EligibilitySummary はユーザーの当日の視聴状況を表す。
type EligibilitySummary struct {
	DailyCount   int
	DailyLimit   int
	TodayReward  int
	CanWatchMore bool
	// Degraded は台帳を読めず集計値が不明であることを示す。
	Degraded bool
}
