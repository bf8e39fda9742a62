// Package model はドメインモデルを定義する。
package model

import "time"

// Ad は視聴対象の広告を表す。
// syndicated広告は静的リンクリストから読み取り時に導出され、永続化されない。
// curated広告は運営者が登録し、リポジトリに永続化される。
type Ad struct {
	ID                   string
	Title                string
	Kind                 AdKind
	TargetURL            string
	Status               AdStatus
	RewardMin            int
	RewardMax            int
	RequiredWatchSeconds int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AdKind は広告の供給元を表す。
type AdKind string

const (
	// AdKindSyndicated は外部リンクリスト由来の広告。
	AdKindSyndicated AdKind = "syndicated"
	// AdKindCurated は運営者が登録した広告。
	AdKindCurated AdKind = "curated"
)

// AdStatus は広告の公開状態を表す。
type AdStatus string

const (
	// AdStatusActive は視聴可能な状態。
	AdStatusActive AdStatus = "active"
	// AdStatusInactive は非公開の状態。
	AdStatusInactive AdStatus = "inactive"
)

// IsActive は広告が視聴可能かどうかを返す。
func (a *Ad) IsActive() bool {
	return a.Status == AdStatusActive
}

// AnnotatedAd はユーザーごとの視聴可否を付与した広告。
type AnnotatedAd struct {
	Ad
	IsWatched bool
	CanWatch  bool
}
