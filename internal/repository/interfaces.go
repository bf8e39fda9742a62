// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
)

// LedgerRepository は広告定義と視聴台帳の永続化インターフェース。
// ストレージの種類に依存せず、全件読み出し後のフィルタで利用できることだけを前提とする。
type LedgerRepository interface {
	// ListAds は永続化された全広告（キュレーション広告）を返す。
	ListAds(ctx context.Context) ([]*model.Ad, error)

	// UpsertAds は広告定義をIDをキーに作成または更新する。
	UpsertAds(ctx context.Context, ads []*model.Ad) error

	// ListViewRecords は全視聴記録を返す。
	ListViewRecords(ctx context.Context) ([]*model.ViewRecord, error)

	// AppendViewRecord は視聴記録を追記する。
	// 同一IDの記録が既に存在する場合は何もしない（冪等）。既存記録は決して更新しない。
	AppendViewRecord(ctx context.Context, record *model.ViewRecord) error
}

// UserRecordLister はユーザー単位で視聴記録を絞り込めるストレージ向けの拡張インターフェース。
// 実装されていない場合、呼び出し側はListViewRecordsの結果をフィルタする。
type UserRecordLister interface {
	// ListViewRecordsForUsers はuserIDsのいずれかに一致し、since以降に作成された記録を返す。
	ListViewRecordsForUsers(ctx context.Context, userIDs []string, since time.Time) ([]*model.ViewRecord, error)
}

// UserRepository はユーザーデータの参照インターフェース。
// ユーザーの作成・削除は外部の認証サービスが行う。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// IdentityRepository は外部IdP紐付け情報の参照インターフェース。
type IdentityRepository interface {
	// FindByProviderUserID はprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderUserID(ctx context.Context, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーに紐付く全identityを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// SessionRepository はログインセッションの参照インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}
