package handler

import (
	"time"

	"github.com/hitoshi/coinwatch/internal/model"
)

// adResponse は広告情報のAPIレスポンス。
type adResponse struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Kind                 string `json:"kind"`
	TargetURL            string `json:"targetUrl"`
	Status               string `json:"status"`
	RewardMin            int    `json:"rewardMin"`
	RewardMax            int    `json:"rewardMax"`
	RequiredWatchSeconds int    `json:"requiredWatchSeconds"`
}

// annotatedAdResponse は視聴可否付きの広告情報。
type annotatedAdResponse struct {
	adResponse
	IsWatched bool `json:"isWatched"`
	CanWatch  bool `json:"canWatch"`
}

// summaryResponse は当日の視聴状況。
type summaryResponse struct {
	DailyCount   int  `json:"dailyCount"`
	DailyLimit   int  `json:"dailyLimit"`
	TodayReward  int  `json:"todayReward"`
	CanWatchMore bool `json:"canWatchMore"`
	Degraded     bool `json:"degraded,omitempty"`
}

// viewRecordResponse は視聴記録のAPIレスポンス。
type viewRecordResponse struct {
	ID                   string    `json:"id"`
	AdID                 string    `json:"adId"`
	AdTitle              string    `json:"adTitle,omitempty"`
	RewardAmount         int       `json:"rewardAmount"`
	ReportedWatchSeconds float64   `json:"reportedWatchSeconds"`
	Completed            bool      `json:"completed"`
	Clicked              bool      `json:"clicked"`
	ApprovalStatus       string    `json:"approvalStatus"`
	CreatedAt            time.Time `json:"createdAt"`
}

func toAdResponse(ad *model.Ad) adResponse {
	return adResponse{
		ID:                   ad.ID,
		Title:                ad.Title,
		Kind:                 string(ad.Kind),
		TargetURL:            ad.TargetURL,
		Status:               string(ad.Status),
		RewardMin:            ad.RewardMin,
		RewardMax:            ad.RewardMax,
		RequiredWatchSeconds: ad.RequiredWatchSeconds,
	}
}

func toAdResponses(ads []*model.Ad) []adResponse {
	out := make([]adResponse, 0, len(ads))
	for _, ad := range ads {
		out = append(out, toAdResponse(ad))
	}
	return out
}

func toSummaryResponse(s model.EligibilitySummary) summaryResponse {
	return summaryResponse{
		DailyCount:   s.DailyCount,
		DailyLimit:   s.DailyLimit,
		TodayReward:  s.TodayReward,
		CanWatchMore: s.CanWatchMore,
		Degraded:     s.Degraded,
	}
}

func toViewRecordResponse(rec *model.ViewRecord, title string) viewRecordResponse {
	return viewRecordResponse{
		ID:                   rec.ID,
		AdID:                 rec.AdID,
		AdTitle:              title,
		RewardAmount:         rec.RewardAmount,
		ReportedWatchSeconds: rec.ReportedWatchSeconds,
		Completed:            rec.Completed,
		Clicked:              rec.Clicked,
		ApprovalStatus:       string(rec.ApprovalStatus),
		CreatedAt:            rec.CreatedAt,
	}
}
