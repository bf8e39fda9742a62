package watch

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"

	"github.com/hitoshi/coinwatch/internal/model"
)

// WatchTolerance はクライアントのタイマー誤差として許容する秒数。
const WatchTolerance = 0.5

// RejectReason は視聴が却下された理由を表す。
type RejectReason string

const (
	// ReasonNone は承認された場合の理由（空）。
	ReasonNone RejectReason = ""
	// ReasonInsufficientTime は視聴時間が不足している。
	ReasonInsufficientTime RejectReason = "insufficient_time"
	// ReasonNotClicked はsyndicated広告でクリックされていない。
	ReasonNotClicked RejectReason = "not_clicked"
	// ReasonInsufficientTimeAndNotClicked は視聴時間不足かつ未クリック。
	ReasonInsufficientTimeAndNotClicked RejectReason = "insufficient_time_and_not_clicked"
)

// Outcome は視聴完了報告の検証結果。
type Outcome struct {
	WatchedEnough bool
	Clicked       bool
	Completed     bool
	Reward        int
	Status        model.ApprovalStatus
	Reason        RejectReason
}

// Verifier は報告された視聴時間とクリック有無から承認可否と報酬を決める。
type Verifier struct {
	// randInt は[min, max]の一様乱数を返す。
	randInt func(min, max int) (int, error)
}

// NewVerifier はcrypto/randを乱数源とするVerifierを生成する。
func NewVerifier() *Verifier {
	return &Verifier{randInt: cryptoRandInt}
}

// Verify は視聴を検証する。
//   - 視聴時間: reportedSeconds >= requiredWatchSeconds - 0.5
//   - curated広告: 視聴時間を満たせば完了
//   - syndicated広告: 視聴時間を満たし、かつクリックされていれば完了
//
// 完了した場合は[RewardMin, RewardMax]の一様乱数を報酬として承認する。
// それ以外は報酬0で却下する。却下はエラーではない。
func (v *Verifier) Verify(ad *model.Ad, reportedSeconds float64, clicked bool) (Outcome, error) {
	if math.IsNaN(reportedSeconds) || math.IsInf(reportedSeconds, 0) || reportedSeconds < 0 {
		reportedSeconds = 0
	}

	out := Outcome{
		WatchedEnough: reportedSeconds >= float64(ad.RequiredWatchSeconds)-WatchTolerance,
		Clicked:       clicked,
	}
	if ad.Kind == model.AdKindSyndicated {
		out.Completed = out.WatchedEnough && clicked
	} else {
		out.Completed = out.WatchedEnough
	}

	if !out.Completed {
		out.Status = model.ApprovalStatusRejected
		out.Reason = rejectReason(ad, out)
		return out, nil
	}

	reward, err := v.randInt(ad.RewardMin, ad.RewardMax)
	if err != nil {
		return Outcome{}, fmt.Errorf("報酬の抽選に失敗しました: %w", err)
	}
	out.Reward = reward
	out.Status = model.ApprovalStatusApproved
	return out, nil
}

func rejectReason(ad *model.Ad, out Outcome) RejectReason {
	missingClick := ad.Kind == model.AdKindSyndicated && !out.Clicked
	switch {
	case !out.WatchedEnough && missingClick:
		return ReasonInsufficientTimeAndNotClicked
	case !out.WatchedEnough:
		return ReasonInsufficientTime
	default:
		return ReasonNotClicked
	}
}

// Message は結果に応じたユーザー向けメッセージを返す。
func (o Outcome) Message(ad *model.Ad) string {
	switch o.Reason {
	case ReasonNone:
		return fmt.Sprintf("%dコインを獲得しました！", o.Reward)
	case ReasonInsufficientTime:
		return fmt.Sprintf("視聴時間が足りませんでした。%d秒以上視聴してください。", ad.RequiredWatchSeconds)
	case ReasonNotClicked:
		return "広告がクリックされていないため、報酬は付与されませんでした。"
	default:
		return fmt.Sprintf("視聴時間が足りず、広告もクリックされていませんでした。%d秒以上視聴し、広告をクリックしてください。", ad.RequiredWatchSeconds)
	}
}

// cryptoRandInt は[min, max]の一様乱数をcrypto/randで生成する。
func cryptoRandInt(min, max int) (int, error) {
	if max < min {
		return 0, fmt.Errorf("invalid range [%d, %d]", min, max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)+1))
	if err != nil {
		return 0, err
	}
	return min + int(n.Int64()), nil
}
