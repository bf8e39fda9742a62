// Package identity は呼び出し元の識別子を正規のアカウントIDに解決する。
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
	"github.com/hitoshi/coinwatch/internal/repository"
)

// defaultCacheTTL は解決結果をキャッシュする期間。
const defaultCacheTTL = 5 * time.Minute

// Resolver は正規ID、外部IdPのID、メールアドレスの順にユーザーを解決する。
// リポジトリがnilの場合はその段階をスキップする（メモリバックエンド用）。
type Resolver struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	logger     *slog.Logger

	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cachedPrincipal

	hits   int64
	misses int64
}

type cachedPrincipal struct {
	principal model.Principal
	cachedAt  time.Time
}

// NewResolver はResolverを生成する。
func NewResolver(users repository.UserRepository, identities repository.IdentityRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		users:      users,
		identities: identities,
		logger:     logger,
		ttl:        defaultCacheTTL,
		cache:      make(map[string]cachedPrincipal),
	}
}

// Resolve はcallerIDとemailから正規化済みのPrincipalを返す。
// 解決順序: usersの直接一致 → identitiesのprovider_user_id一致 → emailによるフォールバック。
// いずれにも一致しない場合はcallerIDをそのまま正規IDとして扱う。
// 参照に失敗した場合はRepositoryUnavailableを返す。誤ったIDで集計すると上限判定をすり抜けるため。
func (r *Resolver) Resolve(ctx context.Context, callerID, email string) (*model.Principal, error) {
	if callerID == "" {
		return nil, model.NewUnauthorizedError()
	}

	key := callerID + "\x00" + strings.ToLower(email)
	if p, ok := r.lookup(key); ok {
		return p, nil
	}

	user, err := r.findUser(ctx, callerID, email)
	if err != nil {
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("ユーザーの解決に失敗しました: %w", err))
	}

	p := &model.Principal{UserID: callerID, RawID: callerID, Email: email}
	if user != nil {
		p.UserID = user.ID
		if p.Email == "" {
			p.Email = user.Email
		}
		aliases, err := r.aliases(ctx, user.ID)
		if err != nil {
			return nil, model.NewRepositoryUnavailableError(fmt.Errorf("外部IDの取得に失敗しました: %w", err))
		}
		p.Aliases = aliases
		if callerID != user.ID {
			r.logger.Debug("外部IDを正規IDに解決しました",
				slog.String("raw_id", callerID),
				slog.String("user_id", user.ID),
			)
		}
	}

	r.store(key, p)
	return p, nil
}

// Stats はキャッシュのヒット数とミス数を返す。
func (r *Resolver) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&r.hits), atomic.LoadInt64(&r.misses)
}

func (r *Resolver) findUser(ctx context.Context, callerID, email string) (*model.User, error) {
	if r.users != nil {
		user, err := r.users.FindByID(ctx, callerID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	if r.identities != nil {
		ident, err := r.identities.FindByProviderUserID(ctx, callerID)
		if err != nil {
			return nil, err
		}
		if ident != nil {
			if r.users == nil {
				return &model.User{ID: ident.UserID}, nil
			}
			user, err := r.users.FindByID(ctx, ident.UserID)
			if err != nil {
				return nil, err
			}
			if user != nil {
				return user, nil
			}
		}
	}

	if r.users != nil && email != "" {
		return r.users.FindByEmail(ctx, email)
	}
	return nil, nil
}

func (r *Resolver) aliases(ctx context.Context, userID string) ([]string, error) {
	if r.identities == nil {
		return nil, nil
	}
	idents, err := r.identities.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	aliases := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident.ProviderUserID != userID {
			aliases = append(aliases, ident.ProviderUserID)
		}
	}
	return aliases, nil
}

func (r *Resolver) lookup(key string) (*model.Principal, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()

	if !ok || time.Since(entry.cachedAt) > r.ttl {
		atomic.AddInt64(&r.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&r.hits, 1)
	p := entry.principal
	p.Aliases = append([]string(nil), entry.principal.Aliases...)
	return &p, true
}

func (r *Resolver) store(key string, p *model.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for k, v := range r.cache {
		if now.Sub(v.cachedAt) > r.ttl {
			delete(r.cache, k)
		}
	}
	r.cache[key] = cachedPrincipal{principal: *p, cachedAt: now}
}
