package harvest

import (
	"fmt"
	"net/url"
	"strings"
)

// ArticleHost is the platform host that serves article pages.
const ArticleHost = "mp.weixin.qq.com"

// Query parameters that only carry share/tracking context. They are
// stripped during canonicalization so the same article dedupes to one URL.
var trackingParams = map[string]struct{}{
	"chksm":            {},
	"scene":            {},
	"srcid":            {},
	"sharer_sharetime": {},
	"sharer_shareid":   {},
	"exportkey":        {},
	"pass_ticket":      {},
	"key":              {},
	"uin":              {},
	"devicetype":       {},
	"version":          {},
	"lang":             {},
	"ascene":           {},
	"wx_header":        {},
	"poc_token":        {},
}

// URL substrings that mark account/share pages rather than articles.
var nonArticleMarkers = []string{
	"action=profile",
	"action=follow",
	"scene=",
	"__biz=",
	"tempkey=",
}

// CanonicalizeURL standardizes a URL for deduplication: lowercased scheme
// and host, default ports and fragments removed, tracking parameters
// stripped, remaining query sorted. Short-form article paths drop their
// query entirely since it never identifies the article.
func CanonicalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	if strings.HasPrefix(u.Path, "/s/") {
		u.RawQuery = ""
		return u.String(), nil
	}

	q := u.Query()
	for param := range q {
		if _, tracked := trackingParams[param]; tracked {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CanonicalKey returns the canonical form of raw for dedupe keys, falling
// back to the trimmed input when it cannot be parsed.
func CanonicalKey(raw string) string {
	key, err := CanonicalizeURL(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return key
}

// IsArticleURL reports whether raw points at an article page: the platform
// host with a short-form article path, excluding profile/follow/share
// variants that only look like articles.
func IsArticleURL(raw string) bool {
	if raw == "" || !strings.Contains(raw, ArticleHost) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), ArticleHost) {
		return false
	}
	if !strings.Contains(u.Path, "/s/") && !strings.Contains(raw, "/s?") {
		return false
	}
	for _, marker := range nonArticleMarkers {
		if strings.Contains(raw, marker) {
			return false
		}
	}
	return true
}

// Paths and query markers of account surfaces that index many articles:
// history listings, album directories, account homepages.
var listingMarkers = []string{
	"/mp/profile_ext",
	"/mp/appmsgalbum",
	"/mp/homepage",
	"/mp/getmasssendmsg",
	"action=home",
	"action=getalbum",
	"action=getmsg",
}

// IsListingURL reports whether raw points at a listing surface. Listings
// are rendered and mined for article links but never extracted as
// articles themselves.
func IsListingURL(raw string) bool {
	if raw == "" || !strings.EqualFold(HostOf(raw), ArticleHost) {
		return false
	}
	for _, marker := range listingMarkers {
		if strings.Contains(raw, marker) {
			return true
		}
	}
	return false
}

// ResolveURL resolves a possibly-relative href against the page it was
// found on.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	refURL, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

// HostOf returns the lowercased hostname of raw, or "" if unparsable.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
