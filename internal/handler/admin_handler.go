package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/coinwatch/internal/catalog"
	"github.com/hitoshi/coinwatch/internal/middleware"
	"github.com/hitoshi/coinwatch/internal/model"
)

// AdminCatalogInterface は広告管理ハンドラーが必要とするサービスインターフェース。
type AdminCatalogInterface interface {
	ListCuratedAds(ctx context.Context) ([]*model.Ad, error)
	UpsertCuratedAds(ctx context.Context, inputs []catalog.CuratedAdInput) ([]*model.Ad, error)
}

// AdminHandler は運営者向けのcurated広告管理ハンドラー。
type AdminHandler struct {
	service AdminCatalogInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminCatalogInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type curatedAdRequest struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	TargetURL            string `json:"targetUrl"`
	Status               string `json:"status"`
	RewardMin            int    `json:"rewardMin"`
	RewardMax            int    `json:"rewardMax"`
	RequiredWatchSeconds int    `json:"requiredWatchSeconds"`
}

type upsertAdsRequest struct {
	Ads []curatedAdRequest `json:"ads"`
}

type adminAdsResponse struct {
	Ads []adResponse `json:"ads"`
}

// ListAds は登録済みのcurated広告を返す。
// GET /api/admin/ads
func (h *AdminHandler) ListAds(w http.ResponseWriter, r *http.Request) {
	ads, err := h.service.ListCuratedAds(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminAdsResponse{Ads: toAdResponses(ads)})
}

// UpsertAds はcurated広告を一括で作成・更新する。1件でも不正な場合は何も保存しない。
// PUT /api/admin/ads
func (h *AdminHandler) UpsertAds(w http.ResponseWriter, r *http.Request) {
	var req upsertAdsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if len(req.Ads) == 0 {
		middleware.WriteError(w, model.NewInvalidRequestError("adsが空です"))
		return
	}

	inputs := make([]catalog.CuratedAdInput, 0, len(req.Ads))
	for _, ad := range req.Ads {
		inputs = append(inputs, catalog.CuratedAdInput{
			ID:                   ad.ID,
			Title:                ad.Title,
			TargetURL:            ad.TargetURL,
			Status:               model.AdStatus(ad.Status),
			RewardMin:            ad.RewardMin,
			RewardMax:            ad.RewardMax,
			RequiredWatchSeconds: ad.RequiredWatchSeconds,
		})
	}

	saved, err := h.service.UpsertCuratedAds(r.Context(), inputs)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminAdsResponse{Ads: toAdResponses(saved)})
}
