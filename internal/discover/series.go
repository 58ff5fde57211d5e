package discover

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mpharvester/internal/extract"
	"mpharvester/internal/harvest"
)

// Album navigation and directory selectors as they appear in rendered
// article markup.
var (
	prevSelectors = []string{
		".album_read_nav_prev a",
		".album_read_nav_prev",
		".js_prev_article",
		".prev-article a",
	}
	nextSelectors = []string{
		".album_read_nav_next a",
		".album_read_nav_next",
		".js_next_article",
		".next-article a",
	}
	directorySelectors = []string{
		`a[href*="appmsgalbum"]`,
		`a[href*="album"]`,
		".album_read_more a",
		".weui-pc-popover a",
	}
)

// Series walks an article series in both directions: previous/next album
// navigation from each article, the album directory when the page links
// one, and in-page anchors whose titles continue the numbering pattern of
// the current article.
type Series struct {
	log *zap.Logger
}

// NewSeries creates the series strategy.
func NewSeries(logger *zap.Logger) *Series {
	return &Series{log: logger.Named("series")}
}

// Name implements harvest.Discoverer.
func (s *Series) Name() harvest.StrategyName { return harvest.StrategySeries }

// Seed accepts either a series article or an album directory URL.
func (s *Series) Seed(_ context.Context, seedURL string) ([]harvest.Candidate, error) {
	return seedCandidate(harvest.StrategySeries, seedURL)
}

// Expand mines series neighbors from the fetched page.
func (s *Series) Expand(_ context.Context, parent harvest.Candidate, record *harvest.ArticleRecord, page harvest.Page) []harvest.Candidate {
	set := newCandidateSet(harvest.StrategySeries, parent)

	doc, err := parseDoc(page)
	if err != nil {
		s.log.Debug("unparsable page, falling back to script mining",
			zap.String("url", page.URL), zap.Error(err))
		for _, link := range extract.MineArticleLinks(page.Body) {
			set.addArticle(link)
		}
		return set.candidates()
	}

	if harvest.IsListingURL(page.URL) {
		// Album directory: every article it indexes belongs to the series.
		for _, a := range domAnchors(doc, page.URL) {
			set.addArticle(a.href)
		}
		for _, link := range extract.MineArticleLinks(page.Body) {
			set.addArticle(link)
		}
		return set.candidates()
	}

	// Previous/next neighbors keep the walk going in both directions.
	if prev := firstHref(doc, page.URL, prevSelectors...); prev != "" {
		set.addArticle(prev)
	}
	if next := firstHref(doc, page.URL, nextSelectors...); next != "" {
		set.addArticle(next)
	}

	// The album directory link, when present, yields the whole series at
	// once.
	if dir := firstHref(doc, page.URL, directorySelectors...); dir != "" {
		set.addListing(dir)
	}

	// Anchors whose text continues this article's numbering pattern are
	// series siblings even without explicit navigation.
	if record != nil {
		if pattern, ok := AnalyzeTitlePattern(record.Title); ok {
			for _, a := range domAnchors(doc, page.URL) {
				if pattern.Matches(a.text) {
					set.addArticle(a.href)
				}
			}
		}
	}

	return set.candidates()
}

// TitlePattern describes a series numbering scheme shared by sibling
// titles: the same name followed by an issue number.
type TitlePattern struct {
	SeriesName string
	Number     int

	re *regexp.Regexp
}

// Numbering shapes observed on the platform, tried in order.
var titlePatternREs = []*regexp.Regexp{
	regexp.MustCompile(`^(.+?)\s*#(\d+)$`),
	regexp.MustCompile(`^(.+?)\s*[(（](\d+)[)）]$`),
	regexp.MustCompile(`^(.+?)\s*第(\d+)[期篇章集]$`),
	regexp.MustCompile(`^(.+?)\s*【(\d+)】$`),
	regexp.MustCompile(`(?i)^(.+?)\s*Vol\.?\s*(\d+)$`),
}

// AnalyzeTitlePattern extracts the series numbering pattern from a title,
// if it has one.
func AnalyzeTitlePattern(title string) (TitlePattern, bool) {
	title = strings.TrimSpace(title)
	for _, re := range titlePatternREs {
		m := re.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		num, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		return TitlePattern{SeriesName: name, Number: num, re: re}, true
	}
	return TitlePattern{}, false
}

// Matches reports whether text is a sibling title: same series name, same
// numbering shape, different issue number.
func (p TitlePattern) Matches(text string) bool {
	if p.re == nil {
		return false
	}
	m := p.re.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(m[1]), p.SeriesName) {
		return false
	}
	num, err := strconv.Atoi(m[2])
	return err == nil && num != p.Number
}
