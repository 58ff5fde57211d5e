package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"mpharvester/internal/harvest"
)

// Strategy names recorded on extracted articles.
const (
	StrategySemantic = "semantic"
	StrategyPatterns = "patterns"
	StrategyPayload  = "payload"
)

// draft is the partial article one strategy produced. A draft wins when it
// carries both a title and a body; the rest of its fields are merged with
// the other drafts.
type draft struct {
	title       string
	content     string
	author      string
	accountName string
	publishedAt time.Time
	coverImage  string
}

func (d draft) complete() bool { return d.title != "" && d.content != "" }

type strategy struct {
	name  string
	apply func(doc *goquery.Document, payload Payload) draft
}

// Extractor converts fetched pages into article records by trying each
// strategy in priority order.
type Extractor struct {
	logger *zap.Logger
	clock  harvest.Clock
	chain  []strategy
}

// New builds an Extractor with the default strategy chain: platform
// semantic markup, then known markup patterns, then the embedded payload.
func New(logger *zap.Logger, clock harvest.Clock) *Extractor {
	return &Extractor{
		logger: logger,
		clock:  clock,
		chain: []strategy{
			{name: StrategySemantic, apply: applySemantic},
			{name: StrategyPatterns, apply: applyPatterns},
			{name: StrategyPayload, apply: applyPayload},
		},
	}
}

// Extract parses the page and returns a structured article record. It
// returns an ExtractionError when no strategy yields both a title and a
// body; that failure is permanent for the candidate.
func (e *Extractor) Extract(page harvest.Page) (*harvest.ArticleRecord, error) {
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &harvest.ExtractionError{URL: pageURL, Err: fmt.Errorf("parse markup: %w", err)}
	}
	payload := Mine(page.Body)

	drafts := make([]draft, 0, len(e.chain))
	winner := -1
	for i, s := range e.chain {
		d := s.apply(doc, payload)
		drafts = append(drafts, d)
		if winner < 0 && d.complete() {
			winner = i
		}
	}
	if winner < 0 {
		return nil, &harvest.ExtractionError{
			URL: pageURL,
			Err: errors.New("no strategy yielded both a title and a body"),
		}
	}

	// The winning draft supplies title and body; optional fields fall back
	// through the remaining drafts in chain order.
	merged := drafts[winner]
	for i, d := range drafts {
		if i == winner {
			continue
		}
		if merged.author == "" {
			merged.author = d.author
		}
		if merged.accountName == "" {
			merged.accountName = d.accountName
		}
		if merged.publishedAt.IsZero() {
			merged.publishedAt = d.publishedAt
		}
		if merged.coverImage == "" {
			merged.coverImage = d.coverImage
		}
	}

	images := collectImages(doc, pageURL)
	cover := merged.coverImage
	if cover == "" {
		cover = metaContent(doc, `meta[property="og:image"]`)
	}
	if cover == "" && len(images) > 0 {
		cover = images[0]
	}

	name := e.chain[winner].name
	harvest.ExtractionsTotal.WithLabelValues(name).Inc()
	e.logger.Debug("article extracted",
		zap.String("url", pageURL),
		zap.String("strategy", name),
		zap.Int("images", len(images)),
	)

	return &harvest.ArticleRecord{
		URL:         pageURL,
		Title:       merged.title,
		Author:      merged.author,
		AccountName: merged.accountName,
		PublishTime: merged.publishedAt,
		Content:     merged.content,
		Images:      images,
		CoverImage:  cover,
		ReadCount:   payload.ReadCount,
		LikeCount:   payload.LikeCount,
		CrawlTime:   e.clock.Now(),
		ExtractedBy: name,
	}, nil
}

func applySemantic(doc *goquery.Document, _ Payload) draft {
	ts, _ := ParseTime(firstText(doc, "em#publish_time", "span#publish_time"))
	return draft{
		title:       firstText(doc, "h1#activity-name", "h2#activity-name", "#activity-name"),
		content:     containerText(doc, "#js_content"),
		author:      stripAuthorPrefix(firstText(doc, "span#js_author_name")),
		accountName: firstText(doc, "span#js_name", "a#js_name", "strong#profileBt a"),
		publishedAt: ts,
	}
}

func applyPatterns(doc *goquery.Document, _ Payload) draft {
	title := firstText(doc, "h1.rich_media_title", "h2.rich_media_title", ".rich_media_title")
	if title == "" {
		title = collapseSpaces(metaContent(doc, `meta[property="og:title"]`))
	}
	author := stripAuthorPrefix(firstText(doc, "span.rich_media_meta_text"))
	if author == "" {
		author = collapseSpaces(metaContent(doc, `meta[name="author"]`))
	}
	rawTime := firstText(doc, "span.publish_time")
	if rawTime == "" {
		rawTime = metaContent(doc, `meta[property="article:published_time"]`)
	}
	ts, _ := ParseTime(rawTime)
	return draft{
		title:       title,
		content:     containerText(doc, ".rich_media_content"),
		author:      author,
		accountName: firstText(doc, "span.profile_nickname", ".account_nickname"),
		publishedAt: ts,
	}
}

func applyPayload(_ *goquery.Document, payload Payload) draft {
	account := payload.Nickname
	if account == "" {
		account = payload.AccountID
	}
	return draft{
		title:       collapseSpaces(payload.Title),
		content:     collapseSpaces(payload.Description),
		accountName: collapseSpaces(account),
		publishedAt: payload.PublishedAt,
		coverImage:  payload.CoverURL,
	}
}

// Content containers searched for inline images.
var contentSelectors = []string{"#js_content", ".rich_media_content"}

// Lazy-loaded images carry the real source in data attributes.
var imageAttrs = []string{"data-src", "src", "data-backup-src"}

func collectImages(doc *goquery.Document, baseURL string) []string {
	var images []string
	seen := map[string]struct{}{}
	for _, sel := range contentSelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		container.Find("img").Each(func(_ int, img *goquery.Selection) {
			var src string
			for _, attr := range imageAttrs {
				if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
					src = strings.TrimSpace(v)
					break
				}
			}
			if src == "" {
				return
			}
			resolved := harvest.ResolveURL(baseURL, src)
			if resolved == "" {
				return
			}
			if _, dup := seen[resolved]; dup {
				return
			}
			seen[resolved] = struct{}{}
			images = append(images, resolved)
		})
		break
	}
	return images
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if text := collapseSpaces(s.Text()); text != "" {
			return text
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

var authorPrefixRE = regexp.MustCompile(`^作者[:：]\s*`)

func stripAuthorPrefix(s string) string {
	return strings.TrimSpace(authorPrefixRE.ReplaceAllString(s, ""))
}

// containerText renders the first matching container as plain text with
// block boundaries preserved as line breaks.
func containerText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		var b strings.Builder
		for _, n := range container.Nodes {
			appendNodeText(n, &b)
		}
		if text := normalizeBlock(b.String()); text != "" {
			return text
		}
	}
	return ""
}

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"ul": {}, "ol": {}, "li": {}, "blockquote": {}, "pre": {},
	"table": {}, "tr": {}, "figure": {}, "figcaption": {},
}

func appendNodeText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
		_, block := blockTags[n.Data]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			appendNodeText(c, b)
		}
		if block {
			b.WriteByte('\n')
		}
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			appendNodeText(c, b)
		}
	}
}

var spaceRE = regexp.MustCompile(`[\s\p{Zs}]+`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

// normalizeBlock trims each line and collapses runs of blank lines to one.
func normalizeBlock(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			if !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
