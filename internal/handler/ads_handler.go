package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/coinwatch/internal/catalog"
	"github.com/hitoshi/coinwatch/internal/middleware"
	"github.com/hitoshi/coinwatch/internal/model"
)

// CatalogServiceInterface は広告一覧ハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	ListActiveAds(ctx context.Context, p *model.Principal) (*catalog.Listing, error)
}

// AdsHandler は広告一覧のHTTPハンドラー。
type AdsHandler struct {
	service  CatalogServiceInterface
	resolver IdentityResolver
}

// NewAdsHandler はAdsHandlerを生成する。
func NewAdsHandler(service CatalogServiceInterface, resolver IdentityResolver) *AdsHandler {
	return &AdsHandler{service: service, resolver: resolver}
}

// listAdsResponse は広告一覧のレスポンス。
type listAdsResponse struct {
	Ads     []annotatedAdResponse `json:"ads"`
	Summary summaryResponse       `json:"summary"`
}

// ListAds は視聴可否付きの広告一覧と当日の視聴状況を返す。
// GET /api/ads
func (h *AdsHandler) ListAds(w http.ResponseWriter, r *http.Request) {
	p, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	listing, err := h.service.ListActiveAds(r.Context(), p)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := listAdsResponse{
		Ads:     make([]annotatedAdResponse, 0, len(listing.Ads)),
		Summary: toSummaryResponse(listing.Summary),
	}
	for i := range listing.Ads {
		ad := &listing.Ads[i]
		resp.Ads = append(resp.Ads, annotatedAdResponse{
			adResponse: toAdResponse(&ad.Ad),
			IsWatched:  ad.IsWatched,
			CanWatch:   ad.CanWatch,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
