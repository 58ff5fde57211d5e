package extract

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mpharvester/internal/harvest"
)

// Payload holds values mined from the script variables the platform embeds
// in rendered article pages. Fields are empty when the page did not carry
// the corresponding variable.
type Payload struct {
	Title       string
	Description string
	Link        string
	SourceURL   string
	CoverURL    string
	AccountID   string
	Nickname    string
	PublishedAt time.Time
	ReadCount   int
	LikeCount   int
	// RelatedLinks are article URLs referenced by recommendation and
	// history list payloads.
	RelatedLinks []string
}

// Empty reports whether mining found nothing usable.
func (p Payload) Empty() bool {
	return p.Title == "" && p.Description == "" && p.Nickname == "" &&
		p.CoverURL == "" && p.PublishedAt.IsZero() && len(p.RelatedLinks) == 0
}

var (
	scriptRE = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)

	// Matches assignments like: var msg_title = 'Weekly Digest #12';
	// including the htmlDecode("...") wrapper some templates use.
	assignRE = regexp.MustCompile(`(?:var|let|const)\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(?:htmlDecode\(\s*)?("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')`)

	// Matches list payloads like: window.related_article_list = [...];
	listAssignRE = regexp.MustCompile(`(?s)(?:related_article_list|author_articles|history_articles)\s*=\s*(\[.*?\])\s*[;\n]`)

	articleLinkRE = regexp.MustCompile(`https?:\\?/\\?/mp\.weixin\.qq\.com\\?/s[^"'<>\s]*`)
)

// Mine scans the page body for embedded script variables and returns the
// values relevant to article extraction and link discovery.
func Mine(body []byte) Payload {
	var p Payload
	vars := map[string]string{}

	for _, script := range scriptRE.FindAllSubmatch(body, -1) {
		text := string(script[1])
		for _, m := range assignRE.FindAllStringSubmatch(text, -1) {
			name, value := m[1], unquoteJS(m[2])
			if value == "" {
				continue
			}
			if _, dup := vars[name]; !dup {
				vars[name] = value
			}
		}
		p.RelatedLinks = append(p.RelatedLinks, mineListLinks(text)...)
	}

	p.Title = vars["msg_title"]
	p.Description = vars["msg_desc"]
	p.Link = vars["msg_link"]
	p.SourceURL = vars["msg_source_url"]
	p.CoverURL = vars["msg_cdn_url"]
	p.AccountID = vars["user_name"]
	p.Nickname = vars["nickname"]

	for _, key := range []string{"publish_time", "ct", "create_time"} {
		if ts, ok := ParseTime(vars[key]); ok {
			p.PublishedAt = ts
			break
		}
	}
	p.ReadCount = parseCount(vars["read_num"])
	p.LikeCount = parseCount(vars["like_num"], vars["old_like_num"])

	p.RelatedLinks = dedupeLinks(p.RelatedLinks)
	return p
}

// parseCount returns the first value that parses as a non-negative count.
func parseCount(values ...string) int {
	for _, v := range values {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// MineArticleLinks returns every article URL referenced by script payloads
// in the page, canonical-form deduplicated in first-seen order.
func MineArticleLinks(body []byte) []string {
	var links []string
	for _, script := range scriptRE.FindAllSubmatch(body, -1) {
		for _, raw := range articleLinkRE.FindAllString(string(script[1]), -1) {
			if link, ok := cleanMinedLink(raw); ok {
				links = append(links, link)
			}
		}
	}
	return dedupeLinks(links)
}

func mineListLinks(script string) []string {
	var links []string
	for _, m := range listAssignRE.FindAllStringSubmatch(script, -1) {
		var items []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal([]byte(m[1]), &items); err == nil {
			for _, item := range items {
				if link, ok := cleanMinedLink(item.URL); ok {
					links = append(links, link)
				}
			}
			continue
		}
		// Not strict JSON; fall back to scanning the blob for URLs.
		for _, raw := range articleLinkRE.FindAllString(m[1], -1) {
			if link, ok := cleanMinedLink(raw); ok {
				links = append(links, link)
			}
		}
	}
	return links
}

// cleanMinedLink undoes the escaping script payloads apply to URLs and
// keeps only links that identify an article.
func cleanMinedLink(raw string) (string, bool) {
	link := strings.ReplaceAll(raw, `\/`, "/")
	link = strings.ReplaceAll(link, `\x26`, "&")
	link = strings.TrimRight(link, `\`)
	link = html.UnescapeString(link)
	if !harvest.IsArticleURL(link) {
		return "", false
	}
	return link, true
}

func dedupeLinks(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, link := range links {
		key, err := harvest.CanonicalizeURL(link)
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}
	return out
}

func unquoteJS(quoted string) string {
	if len(quoted) < 2 {
		return ""
	}
	s := quoted[1 : len(quoted)-1]
	r := strings.NewReplacer(`\'`, "'", `\"`, `"`, `\\`, `\`, `\/`, "/", `\n`, "\n", `\t`, "\t")
	return strings.TrimSpace(html.UnescapeString(r.Replace(s)))
}

// Publish times appear in several shapes: date-only, localized dates,
// datetime strings, RFC 3339, and epoch seconds.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006年01月02日 15:04",
	"2006年01月02日",
	time.RFC3339,
}

var epochRE = regexp.MustCompile(`^\d{10}$`)

// ParseTime parses a publish-time string in any of the observed formats
// into UTC. The boolean is false when the value is empty or unrecognized.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if epochRE.MatchString(raw) {
		var secs int64
		for _, d := range raw {
			secs = secs*10 + int64(d-'0')
		}
		return time.Unix(secs, 0).UTC(), true
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
