package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/coinwatch/internal/middleware"
	"github.com/hitoshi/coinwatch/internal/model"
	"github.com/hitoshi/coinwatch/internal/watch"
)

// WatchServiceInterface は視聴ハンドラーが必要とするサービスインターフェース。
type WatchServiceInterface interface {
	Start(ctx context.Context, p *model.Principal, adID string) (*watch.StartResult, error)
	Complete(ctx context.Context, p *model.Principal, sessionID string, reportedSeconds float64, clicked bool) (*watch.CompletionResult, error)
	History(ctx context.Context, p *model.Principal) ([]model.HistoryEntry, error)
}

// WatchHandler は広告視聴のHTTPハンドラー。
type WatchHandler struct {
	service  WatchServiceInterface
	resolver IdentityResolver
}

// NewWatchHandler はWatchHandlerを生成する。
func NewWatchHandler(service WatchServiceInterface, resolver IdentityResolver) *WatchHandler {
	return &WatchHandler{service: service, resolver: resolver}
}

type startRequest struct {
	AdID string `json:"adId"`
}

type startResponse struct {
	SessionID string     `json:"sessionId"`
	Ad        adResponse `json:"ad"`
	StartedAt int64      `json:"startedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Message   string     `json:"message"`
}

type completeRequest struct {
	SessionID       string   `json:"sessionId"`
	ReportedSeconds *float64 `json:"reportedSeconds"`
	Clicked         bool     `json:"clicked"`
}

type completeResponse struct {
	Success      bool               `json:"success"`
	RewardAmount int                `json:"rewardAmount"`
	Reason       string             `json:"reason,omitempty"`
	Message      string             `json:"message"`
	Record       viewRecordResponse `json:"record"`
}

type historyResponse struct {
	Records []viewRecordResponse `json:"records"`
}

// Start は視聴セッションを開始する。
// POST /api/watch/start
func (h *WatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	req.AdID = strings.TrimSpace(req.AdID)
	if req.AdID == "" {
		middleware.WriteError(w, model.NewInvalidRequestError("adIdが空です"))
		return
	}

	p, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	res, err := h.service.Start(r.Context(), p, req.AdID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: res.Session.ID,
		Ad:        toAdResponse(res.Ad),
		StartedAt: res.Session.StartedAtEpochMillis(),
		ExpiresAt: res.Session.ExpiresAt,
		Message:   res.Message,
	})
}

// Complete は視聴完了を報告する。時間不足・未クリックでも200で success=false を返す。
// POST /api/watch/complete
func (h *WatchHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		middleware.WriteError(w, model.NewInvalidRequestError("sessionIdが空です"))
		return
	}
	if req.ReportedSeconds == nil || *req.ReportedSeconds < 0 {
		middleware.WriteError(w, model.NewInvalidRequestError("reportedSecondsは0以上の数値で指定してください"))
		return
	}

	p, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	res, err := h.service.Complete(r.Context(), p, req.SessionID, *req.ReportedSeconds, req.Clicked)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completeResponse{
		Success:      res.Record.IsApproved(),
		RewardAmount: res.Record.RewardAmount,
		Reason:       string(res.Outcome.Reason),
		Message:      res.Message,
		Record:       toViewRecordResponse(res.Record, res.Ad.Title),
	})
}

// History は呼び出し元の視聴履歴を新しい順に返す。
// GET /api/watch/history
func (h *WatchHandler) History(w http.ResponseWriter, r *http.Request) {
	p, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	entries, err := h.service.History(r.Context(), p)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := historyResponse{Records: make([]viewRecordResponse, 0, len(entries))}
	for i := range entries {
		resp.Records = append(resp.Records, toViewRecordResponse(&entries[i].ViewRecord, entries[i].AdTitle))
	}
	writeJSON(w, http.StatusOK, resp)
}
