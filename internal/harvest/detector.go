package harvest

import (
	"bytes"
	"strings"
)

// Default soft-block markers observed on the platform. URL markers catch
// verification redirects; body markers catch verification and denial pages
// that render with HTTP 200.
var (
	DefaultURLBlockMarkers = []string{
		"wappoc_appmsgcaptcha",
		"mp_profile_redirect",
		"blocked",
		"forbidden",
	}
	DefaultBodyBlockMarkers = []string{
		"验证码",
		"captcha",
		"环境异常",
		"系统错误",
		"网络错误",
		"blocked",
		"forbidden",
	}
	// DefaultGoneMarkers identify confirmed-removal pages. These are
	// permanent, not detection signals.
	DefaultGoneMarkers = []string{
		"页面不存在",
		"该内容已被发布者删除",
		"此内容因违规无法查看",
	}
)

// BlockDetector classifies fetched pages as soft-blocked, removed, or
// clean by scanning the final URL and rendered body for known markers.
type BlockDetector struct {
	urlMarkers  []string
	bodyMarkers [][]byte
	goneMarkers [][]byte
}

// NewBlockDetector builds a detector; empty marker lists fall back to the
// platform defaults.
func NewBlockDetector(urlMarkers, bodyMarkers, goneMarkers []string) *BlockDetector {
	if len(urlMarkers) == 0 {
		urlMarkers = DefaultURLBlockMarkers
	}
	if len(bodyMarkers) == 0 {
		bodyMarkers = DefaultBodyBlockMarkers
	}
	if len(goneMarkers) == 0 {
		goneMarkers = DefaultGoneMarkers
	}
	return &BlockDetector{
		urlMarkers:  lowerAll(urlMarkers),
		bodyMarkers: lowerBytes(bodyMarkers),
		goneMarkers: lowerBytes(goneMarkers),
	}
}

// Blocked returns the matched marker when the page carries a soft-block
// signal: a verification redirect in the final URL, a block-status code on
// an otherwise-valid page, or a denial marker in the body.
func (d *BlockDetector) Blocked(page Page) (string, bool) {
	finalURL := strings.ToLower(page.FinalURL)
	if finalURL == "" {
		finalURL = strings.ToLower(page.URL)
	}
	for _, marker := range d.urlMarkers {
		if strings.Contains(finalURL, marker) {
			return "url:" + marker, true
		}
	}
	switch page.StatusCode {
	case 403, 412, 429:
		return "status:" + statusLabel(page.StatusCode), true
	}
	if len(page.Body) == 0 {
		return "", false
	}
	lowerBody := bytes.ToLower(page.Body)
	for _, marker := range d.bodyMarkers {
		if bytes.Contains(lowerBody, marker) {
			return "body:" + string(marker), true
		}
	}
	return "", false
}

// Gone reports whether the page is a confirmed-removal page.
func (d *BlockDetector) Gone(page Page) bool {
	if page.StatusCode == 404 || page.StatusCode == 410 {
		return true
	}
	if len(page.Body) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(page.Body)
	for _, marker := range d.goneMarkers {
		if bytes.Contains(lowerBody, marker) {
			return true
		}
	}
	return false
}

func statusLabel(code int) string {
	switch code {
	case 403:
		return "403"
	case 412:
		return "412"
	case 429:
		return "429"
	default:
		return "blocked"
	}
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func lowerBytes(values []string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, bytes.ToLower([]byte(v)))
		}
	}
	return out
}
