package discover

import (
	"context"

	"go.uber.org/zap"

	"mpharvester/internal/extract"
	"mpharvester/internal/harvest"
)

// Discovery expands a single article through whatever links the page
// offers: visible anchors first, then recommendation and history payloads
// embedded in scripts. The orchestrator bounds the walk by depth and
// budget.
type Discovery struct {
	log *zap.Logger
}

// NewDiscovery creates the open-ended discovery strategy.
func NewDiscovery(logger *zap.Logger) *Discovery {
	return &Discovery{log: logger.Named("discovery")}
}

// Name implements harvest.Discoverer.
func (d *Discovery) Name() harvest.StrategyName { return harvest.StrategyDiscover }

// Seed accepts any article URL.
func (d *Discovery) Seed(_ context.Context, seedURL string) ([]harvest.Candidate, error) {
	candidates, err := seedCandidate(harvest.StrategyDiscover, seedURL)
	if err != nil {
		return nil, err
	}
	if !harvest.IsArticleURL(candidates[0].URL) {
		return nil, harvest.Permanentf("seed %q is not an article", candidates[0].URL)
	}
	return candidates, nil
}

// Expand returns related articles, DOM links ahead of mined script
// payloads so visible recommendations win frontier order.
func (d *Discovery) Expand(_ context.Context, parent harvest.Candidate, _ *harvest.ArticleRecord, page harvest.Page) []harvest.Candidate {
	set := newCandidateSet(harvest.StrategyDiscover, parent)

	doc, err := parseDoc(page)
	if err != nil {
		d.log.Debug("unparsable page, falling back to script mining",
			zap.String("url", page.URL), zap.Error(err))
	} else {
		for _, a := range domAnchors(doc, page.URL) {
			set.addArticle(a.href)
		}
	}

	for _, link := range extract.MineArticleLinks(page.Body) {
		set.addArticle(link)
	}

	return set.candidates()
}
