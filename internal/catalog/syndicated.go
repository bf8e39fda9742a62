package catalog

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/hitoshi/coinwatch/internal/model"
)

const (
	// SyndicatedRewardMin はsyndicated広告の最小報酬。
	SyndicatedRewardMin = 20
	// SyndicatedRewardMax はsyndicated広告の最大報酬。
	SyndicatedRewardMax = 80
	// SyndicatedWatchSeconds はsyndicated広告の必要視聴秒数。
	SyndicatedWatchSeconds = 15

	syndicatedIDPrefix = "syn-"
)

// syndicatedNamespace はsyndicated広告IDを導出するためのUUID名前空間。
var syndicatedNamespace = uuid.MustParse("6f1c2d8e-3b4a-5c6d-8e9f-0a1b2c3d4e5f")

// DefaultSyndicatedLinks は設定がない場合に使う外部配信リンク。
var DefaultSyndicatedLinks = []string{
	"https://syndication.example.net/offer/1001",
	"https://syndication.example.net/offer/1002",
	"https://syndication.example.net/offer/1003",
	"https://syndication.example.net/offer/1004",
	"https://syndication.example.net/offer/1005",
	"https://syndication.example.net/offer/1006",
}

// namePool はsyndicated広告の表示名の候補。
var namePool = []string{
	"スポンサー動画",
	"注目のオファー",
	"今日のおすすめ",
	"期間限定キャンペーン",
	"新着プロモーション",
	"パートナー広告",
	"特別なお知らせ",
	"人気のアプリ",
}

// nameSeed は表示名の並びを固定するためのシード。
const nameSeed = 0x636f696e

// IsSyndicatedID はIDがsyndicated広告のものかどうかを返す。
func IsSyndicatedID(id string) bool {
	return len(id) > len(syndicatedIDPrefix) && id[:len(syndicatedIDPrefix)] == syndicatedIDPrefix
}

// SyndicatedAdID はリンクURLから決定的な広告IDを導出する。
func SyndicatedAdID(link string) string {
	return syndicatedIDPrefix + uuid.NewSHA1(syndicatedNamespace, []byte(link)).String()
}

// Syndicated は外部配信リンク1件につき1件の広告を生成する。
// 同じリンク列に対しては常に同じID・表示名を返す。
// 表示名は名前プールから重複なしで割り当て、使い切った後は "#n" を付けて再利用する。
func Syndicated(links []string) []*model.Ad {
	order := rand.New(rand.NewPCG(nameSeed, uint64(len(namePool)))).Perm(len(namePool))

	ads := make([]*model.Ad, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		i := len(ads)
		title := namePool[order[i%len(order)]]
		if round := i / len(order); round > 0 {
			title = fmt.Sprintf("%s #%d", title, round+1)
		}

		ads = append(ads, &model.Ad{
			ID:                   SyndicatedAdID(link),
			Title:                title,
			Kind:                 model.AdKindSyndicated,
			TargetURL:            link,
			Status:               model.AdStatusActive,
			RewardMin:            SyndicatedRewardMin,
			RewardMax:            SyndicatedRewardMax,
			RequiredWatchSeconds: SyndicatedWatchSeconds,
		})
	}
	return ads
}
