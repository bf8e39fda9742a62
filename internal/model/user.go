// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。IDが正規のアカウント識別子となる。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// 過去の台帳レコードにはProviderUserIDがuser_idとして記録されている場合がある。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// 外部の認証サービスが発行し、本サービスは参照のみ行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal は正規化済みの呼び出し元ユーザーを表す。
// エンジンに渡す前に必ずidentity.Resolverで解決する。
type Principal struct {
	// UserID は正規のアカウント識別子。
	UserID string
	// RawID は呼び出し元が提示した未解決の識別子。
	RawID string
	Email string
	// Aliases は同一ユーザーの外部IdP識別子。
	Aliases []string
}

// Matches は指定IDがこのユーザーを指すかどうかを返す。
// 正規ID・呼び出し元の生ID・外部IdPのIDのいずれかに一致すればよい。
func (p *Principal) Matches(id string) bool {
	if id == "" {
		return false
	}
	if id == p.UserID || id == p.RawID {
		return true
	}
	for _, alias := range p.Aliases {
		if id == alias {
			return true
		}
	}
	return false
}

// IDs は正規ID・生ID・エイリアスを重複なしでまとめて返す。
func (p *Principal) IDs() []string {
	ids := make([]string, 0, len(p.Aliases)+2)
	seen := make(map[string]struct{}, len(p.Aliases)+2)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(p.UserID)
	add(p.RawID)
	for _, alias := range p.Aliases {
		add(alias)
	}
	return ids
}
