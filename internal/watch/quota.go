package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaReserver はユーザー・日単位の視聴カウンタを原子的に予約する。
// seedは台帳上の当日の記録数で、カウンタはmax(カウンタ, seed)+1として更新する。
// 更新後の値がlimitを超える場合は予約せずfalseを返す。
type QuotaReserver interface {
	Reserve(ctx context.Context, userID, day string, seed, limit int) (bool, error)
	// Release は予約を1つ取り消す。台帳への書き込みに失敗した場合に呼ぶ。
	Release(ctx context.Context, userID, day string) error
}

// MemoryQuota はプロセス内で完結するQuotaReserver。単一インスタンス構成で使う。
type MemoryQuota struct {
	mu     sync.Mutex
	counts map[string]map[string]int // day -> userID -> count
}

// NewMemoryQuota はMemoryQuotaを生成する。
func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{counts: make(map[string]map[string]int)}
}

// Reserve はカウンタを1つ進める。過去の日のカウンタはここで破棄する。
func (q *MemoryQuota) Reserve(_ context.Context, userID, day string, seed, limit int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// 日付キーは YYYY-MM-DD のため文字列比較で前後を判定できる
	for d := range q.counts {
		if d < day {
			delete(q.counts, d)
		}
	}

	users, ok := q.counts[day]
	if !ok {
		users = make(map[string]int)
		q.counts[day] = users
	}

	current := max(users[userID], seed)
	if current+1 > limit {
		return false, nil
	}
	users[userID] = current + 1
	return true, nil
}

// Release はカウンタを1つ戻す。
func (q *MemoryQuota) Release(_ context.Context, userID, day string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if users, ok := q.counts[day]; ok && users[userID] > 0 {
		users[userID]--
	}
	return nil
}

// reserveScript は max(counter, seed) + 1 <= limit の場合のみカウンタを更新する。
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local seed = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if seed > current then
  current = seed
end
if current + 1 > limit then
  return 0
end
redis.call("SET", KEYS[1], current + 1, "PX", ARGV[3])
return 1
`)

// releaseScript はカウンタが正の場合のみ1つ減らす。
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
  redis.call("DECR", KEYS[1])
end
return 0
`)

// quotaKeyTTL は日次カウンタキーの有効期間。タイムゾーン差を考慮して2日とする。
const quotaKeyTTL = 48 * time.Hour

// RedisQuota はRedisのLuaスクリプトで原子的に予約するQuotaReserver。
// 複数インスタンス構成でも日次上限を厳密に守れる。
type RedisQuota struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisQuota はRedisQuotaを生成する。
func NewRedisQuota(client redis.UniversalClient, prefix string) *RedisQuota {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "coinwatch"
	}
	return &RedisQuota{client: client, prefix: trimmed}
}

func (q *RedisQuota) key(userID, day string) string {
	return fmt.Sprintf("%s:quota:%s:%s", q.prefix, day, userID)
}

// Reserve はLuaスクリプトでカウンタを原子的に更新する。
func (q *RedisQuota) Reserve(ctx context.Context, userID, day string, seed, limit int) (bool, error) {
	res, err := reserveScript.Run(ctx, q.client, []string{q.key(userID, day)},
		seed, limit, quotaKeyTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("日次カウンタの予約に失敗しました: %w", err)
	}
	return res == 1, nil
}

// Release はカウンタを1つ戻す。
func (q *RedisQuota) Release(ctx context.Context, userID, day string) error {
	if err := releaseScript.Run(ctx, q.client, []string{q.key(userID, day)}).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("日次カウンタの解放に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ QuotaReserver = (*MemoryQuota)(nil)
	_ QuotaReserver = (*RedisQuota)(nil)
)
