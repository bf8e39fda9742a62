package watch

import (
	"sync"
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
)

// DefaultSessionTTL は視聴セッションの既定の有効期間。
const DefaultSessionTTL = 30 * time.Minute

// SessionStore は視聴セッションをメモリ上で保持する。
// 取り出し（Consume）は検索・所有者確認・削除を1つのロック内で行うため、
// 同じトークンを2回消費することはできない。
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.WatchSession
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore はSessionStoreを生成する。ttlが0以下の場合はDefaultSessionTTLを使う。
func NewSessionStore(ttl time.Duration, now func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		sessions: make(map[string]*model.WatchSession),
		ttl:      ttl,
		now:      now,
	}
}

// TTL はセッションの有効期間を返す。
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Put はセッションを登録する。StartedAtとExpiresAtはここで設定する。
// 同じIDのセッションが既に存在する場合はfalseを返し、何もしない。
func (s *SessionStore) Put(session *model.WatchSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return false
	}
	now := s.now()
	session.StartedAt = now
	session.ExpiresAt = now.Add(s.ttl)
	s.sessions[session.ID] = session
	return true
}

// Consume はセッションを取り出して削除する。
// 存在しない・期限切れの場合はSessionNotFoundを返す。
// authorizeがエラーを返した場合はそのエラーを返し、セッションは削除しない。
func (s *SessionStore) Consume(id string, authorize func(*model.WatchSession) error) (*model.WatchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, model.NewSessionNotFoundError()
	}
	if !s.now().Before(session.ExpiresAt) {
		delete(s.sessions, id)
		return nil, model.NewSessionNotFoundError()
	}
	if authorize != nil {
		if err := authorize(session); err != nil {
			return nil, err
		}
	}

	delete(s.sessions, id)
	return session, nil
}

// Sweep は期限切れのセッションを削除し、削除件数を返す。
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len は保持しているセッション数を返す。期限切れで未回収のものも含む。
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
