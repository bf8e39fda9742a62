package middleware

import (
	"context"
	"net/http"
	"sync"
)

var callerHolderKey = contextKey("caller_holder")

// callerHolder は内側のミドルウェアで特定された呼び出し元を外側のミドルウェアへ渡す。
type callerHolder struct {
	mu     sync.Mutex
	caller Caller
}

func withCallerHolder(ctx context.Context, h *callerHolder) context.Context {
	return context.WithValue(ctx, callerHolderKey, h)
}

func (h *callerHolder) set(c Caller) {
	h.mu.Lock()
	h.caller = c
	h.mu.Unlock()
}

// userID は書き戻された呼び出し元、なければリクエストコンテキストの呼び出し元のIDを返す。
func (h *callerHolder) userID(r *http.Request) string {
	h.mu.Lock()
	id := h.caller.ID
	h.mu.Unlock()
	if id != "" {
		return id
	}
	if id, err := UserIDFromContext(r.Context()); err == nil {
		return id
	}
	return ""
}

// publishCaller はログ用に呼び出し元を書き戻す。
func publishCaller(ctx context.Context, c Caller) {
	if h, ok := ctx.Value(callerHolderKey).(*callerHolder); ok {
		h.set(c)
	}
}
