package discover

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mpharvester/internal/harvest"
)

// anchor is a DOM link together with its visible text.
type anchor struct {
	href string
	text string
}

func parseDoc(page harvest.Page) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
}

// domAnchors returns every platform link in the document, hrefs resolved
// against the page URL, in document order.
func domAnchors(doc *goquery.Document, baseURL string) []anchor {
	var anchors []anchor
	doc.Find(`a[href*="` + harvest.ArticleHost + `"], a[href^="/"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved := harvest.ResolveURL(baseURL, href)
		if resolved == "" || !strings.Contains(resolved, harvest.ArticleHost) {
			return
		}
		anchors = append(anchors, anchor{
			href: resolved,
			text: strings.TrimSpace(sel.Text()),
		})
	})
	return anchors
}

// firstHref returns the first non-empty href (or data-url fallback) among
// the given selectors, resolved against baseURL.
func firstHref(doc *goquery.Document, baseURL string, selectors ...string) string {
	for _, selector := range selectors {
		var href string
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			for _, attr := range []string{"href", "data-url", "data-link"} {
				if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
					href = strings.TrimSpace(v)
					return false
				}
			}
			return true
		})
		if href != "" {
			return harvest.ResolveURL(baseURL, href)
		}
	}
	return ""
}

// candidateSet accumulates candidates for one expansion, deduplicating on
// canonical URL. The orchestrator dedupes across expansions; this only
// keeps a single expansion from emitting the same link twice.
type candidateSet struct {
	strategy harvest.StrategyName
	parent   harvest.Candidate
	seen     map[string]struct{}
	out      []harvest.Candidate
}

func newCandidateSet(strategy harvest.StrategyName, parent harvest.Candidate) *candidateSet {
	return &candidateSet{
		strategy: strategy,
		parent:   parent,
		seen:     make(map[string]struct{}),
	}
}

// addArticle records href as an article candidate if it passes the
// article URL check.
func (s *candidateSet) addArticle(href string) {
	if !harvest.IsArticleURL(href) {
		return
	}
	s.add(href)
}

// addListing records href as a listing candidate if it points at an
// account surface.
func (s *candidateSet) addListing(href string) {
	if !harvest.IsListingURL(href) {
		return
	}
	s.add(href)
}

func (s *candidateSet) add(href string) {
	key, err := harvest.CanonicalizeURL(href)
	if err != nil {
		return
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.out = append(s.out, harvest.Candidate{
		URL: href,
		DiscoveredVia: harvest.Origin{
			Strategy:  s.strategy,
			ParentURL: s.parent.URL,
		},
		Depth: s.parent.Depth + 1,
	})
}

func (s *candidateSet) candidates() []harvest.Candidate {
	return s.out
}

// seedCandidate validates the seed URL and wraps it as the depth-zero
// candidate.
func seedCandidate(strategy harvest.StrategyName, seedURL string) ([]harvest.Candidate, error) {
	trimmed := strings.TrimSpace(seedURL)
	if trimmed == "" {
		return nil, harvest.Permanentf("empty seed url")
	}
	if !strings.EqualFold(harvest.HostOf(trimmed), harvest.ArticleHost) {
		return nil, harvest.Permanentf("seed %q is not on %s", trimmed, harvest.ArticleHost)
	}
	if !harvest.IsArticleURL(trimmed) && !harvest.IsListingURL(trimmed) {
		return nil, harvest.Permanentf("seed %q is neither an article nor a listing", trimmed)
	}
	return []harvest.Candidate{{
		URL:           trimmed,
		DiscoveredVia: harvest.Origin{Strategy: strategy},
	}}, nil
}
