// Package catalog は視聴可能な広告の一覧を提供する。
// 外部配信リンク由来のsyndicated広告と、運営者が登録したcurated広告を統合する。
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/coinwatch/internal/eligibility"
	"github.com/hitoshi/coinwatch/internal/model"
	"github.com/hitoshi/coinwatch/internal/repository"
	"github.com/hitoshi/coinwatch/internal/retry"
	"github.com/hitoshi/coinwatch/internal/security"
)

// EligibilityReader はユーザーの視聴状況を取得するインターフェース。
type EligibilityReader interface {
	Snapshot(ctx context.Context, p *model.Principal) (*eligibility.Snapshot, error)
	DailyLimit() int
}

// Listing は広告一覧とユーザーの当日の視聴状況。
type Listing struct {
	Ads     []model.AnnotatedAd
	Summary model.EligibilitySummary
}

// CuratedAdInput は管理APIから受け取るcurated広告の定義。
// IDが空の場合は新規作成としてUUIDを採番する。
type CuratedAdInput struct {
	ID                   string
	Title                string
	TargetURL            string
	Status               model.AdStatus
	RewardMin            int
	RewardMax            int
	RequiredWatchSeconds int
}

// Options はServiceの任意設定。
type Options struct {
	// VerifyTargets がtrueの場合、登録時に遷移先URLへの到達確認を行う。
	VerifyTargets bool
	Retry         retry.Policy
	Logger        *slog.Logger
	Now           func() time.Time
}

// Service は広告カタログのサービス層。
type Service struct {
	repo          repository.LedgerRepository
	eligibility   EligibilityReader
	sanitizer     security.TextSanitizer
	guard         security.TargetGuard
	syndicated    []*model.Ad
	syndicatedIDs map[string]*model.Ad
	verifyTargets bool
	retry         retry.Policy
	logger        *slog.Logger
	now           func() time.Time
}

// NewService はServiceを生成する。linksが空の場合はDefaultSyndicatedLinksを使う。
func NewService(
	repo repository.LedgerRepository,
	elig EligibilityReader,
	sanitizer security.TextSanitizer,
	guard security.TargetGuard,
	links []string,
	opts Options,
) *Service {
	if len(links) == 0 {
		links = DefaultSyndicatedLinks
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	syndicated := Syndicated(links)
	byID := make(map[string]*model.Ad, len(syndicated))
	for _, ad := range syndicated {
		byID[ad.ID] = ad
	}

	return &Service{
		repo:          repo,
		eligibility:   elig,
		sanitizer:     sanitizer,
		guard:         guard,
		syndicated:    syndicated,
		syndicatedIDs: byID,
		verifyTargets: opts.VerifyTargets,
		retry:         opts.Retry,
		logger:        opts.Logger,
		now:           opts.Now,
	}
}

// ListActiveAds はsyndicated広告と公開中のcurated広告を、ユーザーの視聴可否を付けて返す。
// 副作用はない。リポジトリに到達できない場合はsyndicated広告のみを返す。
// 視聴状況を取得できない場合は注釈なし（全て視聴可能）で返し、Summary.Degradedを立てる。
// 実際の可否は視聴開始時に再判定される。
func (s *Service) ListActiveAds(ctx context.Context, p *model.Principal) (*Listing, error) {
	ads := s.syndicatedCopies()

	curated, err := s.curatedAds(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("curated広告を取得できないためsyndicated広告のみを返します",
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()),
		)
	}
	for _, ad := range curated {
		if ad.IsActive() {
			ads = append(ads, ad)
		}
	}

	listing := &Listing{Ads: make([]model.AnnotatedAd, 0, len(ads))}

	snap, err := s.eligibility.Snapshot(ctx, p)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("視聴状況を取得できないため注釈なしで広告一覧を返します",
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()),
		)
		listing.Summary = model.EligibilitySummary{
			DailyLimit:   s.eligibility.DailyLimit(),
			CanWatchMore: true,
			Degraded:     true,
		}
		for _, ad := range ads {
			listing.Ads = append(listing.Ads, model.AnnotatedAd{Ad: *ad, CanWatch: true})
		}
		return listing, nil
	}

	listing.Summary = snap.Summary
	for _, ad := range ads {
		watched := snap.IsWatched(ad.ID)
		listing.Ads = append(listing.Ads, model.AnnotatedAd{
			Ad:        *ad,
			IsWatched: watched,
			CanWatch:  !watched,
		})
	}
	return listing, nil
}

// FindAd は視聴可能な広告を返す。存在しない・非公開の場合はAdNotFoundを返す。
func (s *Service) FindAd(ctx context.Context, adID string) (*model.Ad, error) {
	if ad, ok := s.syndicatedIDs[adID]; ok {
		cp := *ad
		return &cp, nil
	}
	if IsSyndicatedID(adID) {
		return nil, model.NewAdNotFoundError(adID)
	}

	curated, err := s.curatedAds(ctx)
	if err != nil {
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("広告の取得に失敗しました: %w", err))
	}
	for _, ad := range curated {
		if ad.ID == adID {
			if !ad.IsActive() {
				return nil, model.NewAdNotFoundError(adID)
			}
			return ad, nil
		}
	}
	return nil, model.NewAdNotFoundError(adID)
}

// AdTitles は広告IDからタイトルへの対応表を返す。視聴履歴の表示に使う。
// 非公開のcurated広告も含む。リポジトリに到達できない場合はsyndicated広告のみを返す。
func (s *Service) AdTitles(ctx context.Context) map[string]string {
	titles := make(map[string]string, len(s.syndicated))
	for _, ad := range s.syndicated {
		titles[ad.ID] = ad.Title
	}

	curated, err := s.curatedAds(ctx)
	if err != nil {
		s.logger.Warn("curated広告のタイトルを取得できませんでした",
			slog.String("error", err.Error()),
		)
		return titles
	}
	for _, ad := range curated {
		titles[ad.ID] = ad.Title
	}
	return titles
}

// ListCuratedAds は非公開を含む全curated広告を返す。管理API用。
func (s *Service) ListCuratedAds(ctx context.Context) ([]*model.Ad, error) {
	ads, err := s.curatedAds(ctx)
	if err != nil {
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("広告一覧の取得に失敗しました: %w", err))
	}
	return ads, nil
}

// UpsertCuratedAds はcurated広告を検証して登録・更新する。
// 1件でも不正な定義があれば何も保存せずInvalidAdを返す。
func (s *Service) UpsertCuratedAds(ctx context.Context, inputs []CuratedAdInput) ([]*model.Ad, error) {
	if len(inputs) == 0 {
		return nil, model.NewInvalidAdError("広告が1件も指定されていません")
	}

	now := s.now()
	ads := make([]*model.Ad, 0, len(inputs))
	for i, in := range inputs {
		ad, err := s.buildCuratedAd(ctx, in, now)
		if err != nil {
			return nil, model.NewInvalidAdError(fmt.Sprintf("%d件目: %s", i+1, err.Error()))
		}
		ads = append(ads, ad)
	}

	if err := s.repo.UpsertAds(ctx, ads); err != nil {
		return nil, model.NewRepositoryUnavailableError(fmt.Errorf("広告の保存に失敗しました: %w", err))
	}

	s.logger.Info("curated広告を登録しました", slog.Int("count", len(ads)))
	return ads, nil
}

func (s *Service) buildCuratedAd(ctx context.Context, in CuratedAdInput, now time.Time) (*model.Ad, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if IsSyndicatedID(id) {
		return nil, fmt.Errorf("IDに予約済みの接頭辞 %q は使えません", syndicatedIDPrefix)
	}

	title := s.sanitizer.Sanitize(in.Title)
	if title == "" {
		return nil, fmt.Errorf("タイトルが空です")
	}

	status := in.Status
	if status == "" {
		status = model.AdStatusActive
	}
	if status != model.AdStatusActive && status != model.AdStatusInactive {
		return nil, fmt.Errorf("不明なステータスです: %q", status)
	}

	if in.RewardMin < 0 || in.RewardMax < in.RewardMin {
		return nil, fmt.Errorf("報酬範囲が不正です: [%d, %d]", in.RewardMin, in.RewardMax)
	}
	if in.RequiredWatchSeconds <= 0 {
		return nil, fmt.Errorf("必要視聴秒数は1以上を指定してください: %d", in.RequiredWatchSeconds)
	}

	targetURL := strings.TrimSpace(in.TargetURL)
	if err := s.guard.ValidateURL(targetURL); err != nil {
		return nil, fmt.Errorf("遷移先URLが不正です: %w", err)
	}
	if s.verifyTargets {
		if err := s.guard.Probe(ctx, targetURL); err != nil {
			return nil, fmt.Errorf("遷移先URLに到達できません: %w", err)
		}
	}

	return &model.Ad{
		ID:                   id,
		Title:                title,
		Kind:                 model.AdKindCurated,
		TargetURL:            targetURL,
		Status:               status,
		RewardMin:            in.RewardMin,
		RewardMax:            in.RewardMax,
		RequiredWatchSeconds: in.RequiredWatchSeconds,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// curatedAds はリポジトリからcurated広告を読み出す。一時障害はリトライする。
func (s *Service) curatedAds(ctx context.Context) ([]*model.Ad, error) {
	var stored []*model.Ad
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.repo.ListAds(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	curated := make([]*model.Ad, 0, len(stored))
	for _, ad := range stored {
		if ad.Kind == model.AdKindCurated {
			curated = append(curated, ad)
		}
	}
	return curated, nil
}

func (s *Service) syndicatedCopies() []*model.Ad {
	ads := make([]*model.Ad, 0, len(s.syndicated))
	for _, ad := range s.syndicated {
		cp := *ad
		ads = append(ads, &cp)
	}
	return ads
}
