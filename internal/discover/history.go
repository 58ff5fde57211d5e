package discover

import (
	"context"

	"go.uber.org/zap"

	"mpharvester/internal/extract"
	"mpharvester/internal/harvest"
)

// Selectors that lead from an article to its account's history surfaces.
var (
	profileSelectors = []string{
		"a#js_name",
		`a[href*="profile_ext"]`,
		`a[href*="profile"]`,
		"strong#profileBt a",
		".profile_link a",
	}
	historySelectors = []string{
		`a[href*="history"]`,
		`a[href*="msglist"]`,
		`a[href*="getmasssendmsg"]`,
	}
)

// History harvests an account's back catalog. From an article it locates
// the account profile and history-listing links; from a rendered listing
// it collects every article the listing exposes. Publish-time filtering
// against a job's floor happens in the orchestrator, after extraction.
type History struct {
	log *zap.Logger
}

// NewHistory creates the history strategy.
func NewHistory(logger *zap.Logger) *History {
	return &History{log: logger.Named("history")}
}

// Name implements harvest.Discoverer.
func (h *History) Name() harvest.StrategyName { return harvest.StrategyHistory }

// Seed accepts an account article or a history/profile listing URL.
func (h *History) Seed(_ context.Context, seedURL string) ([]harvest.Candidate, error) {
	return seedCandidate(harvest.StrategyHistory, seedURL)
}

// Expand mines account surfaces and listed articles from the fetched page.
func (h *History) Expand(_ context.Context, parent harvest.Candidate, record *harvest.ArticleRecord, page harvest.Page) []harvest.Candidate {
	set := newCandidateSet(harvest.StrategyHistory, parent)

	doc, err := parseDoc(page)
	if err != nil {
		h.log.Debug("unparsable page, falling back to script mining",
			zap.String("url", page.URL), zap.Error(err))
		for _, link := range extract.MineArticleLinks(page.Body) {
			set.addArticle(link)
		}
		return set.candidates()
	}

	if harvest.IsListingURL(page.URL) {
		// Rendered listing: the scrolled DOM holds one anchor per listed
		// article, and older templates additionally embed a script payload.
		for _, a := range domAnchors(doc, page.URL) {
			set.addArticle(a.href)
		}
		for _, link := range extract.MineArticleLinks(page.Body) {
			set.addArticle(link)
		}
		return set.candidates()
	}

	if profile := firstHref(doc, page.URL, profileSelectors...); profile != "" {
		set.addListing(profile)
	}
	if history := firstHref(doc, page.URL, historySelectors...); history != "" {
		set.addListing(history)
	}

	// Same-account articles linked from the body count toward the catalog
	// even when no listing link is exposed.
	for _, link := range extract.MineArticleLinks(page.Body) {
		set.addArticle(link)
	}

	return set.candidates()
}
