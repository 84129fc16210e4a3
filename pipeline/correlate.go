package pipeline

import (
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/dhcgn/ttrss-to-maildir/model"
)

// JoinIDs renders headline ids as the comma separated list getArticle
// expects, in headline order.
func JoinIDs(headlines []model.Headline) string {
	return strings.Join(lo.Map(headlines, func(h model.Headline, _ int) string {
		return strconv.FormatUint(uint64(h.ID), 10)
	}), ",")
}

// Correlate joins headlines and articles on id. Units keep headline
// order. Headlines without an article are returned as gaps, articles
// without a headline as orphans. Repeated headline ids keep the first.
func Correlate(headlines []model.Headline, articles []model.Article) (units []model.Unit, gaps, orphans []uint32) {
	headlines = lo.UniqBy(headlines, headlineID)
	byID := lo.KeyBy(articles, articleID)
	wanted := lo.KeyBy(headlines, headlineID)

	units = make([]model.Unit, 0, len(headlines))
	for _, hl := range headlines {
		article, ok := byID[hl.ID]
		if !ok {
			gaps = append(gaps, hl.ID)
			continue
		}
		units = append(units, model.Unit{Headline: hl, Article: article})
	}

	orphans = lo.FilterMap(articles, func(a model.Article, _ int) (uint32, bool) {
		_, ok := wanted[a.ID]
		return a.ID, !ok
	})
	return units, gaps, lo.Uniq(orphans)
}

func headlineID(h model.Headline) uint32 { return h.ID }

func articleID(a model.Article) uint32 { return a.ID }
