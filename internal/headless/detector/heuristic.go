// Package detector decides when a probe fetch is not good enough and the
// page must be re-fetched through a browser session.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"mpharvester/internal/harvest"
)

// Heuristic implements rule-based promotion for probe responses.
type Heuristic struct {
	// MinBytes is the body size under which a script-heavy page is
	// considered an unrendered shell.
	MinBytes int
	// ScriptDensityPct is the share of body bytes inside script tags that
	// marks a page as script-driven.
	ScriptDensityPct int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minBytes, scriptDensityPct int) *Heuristic {
	if minBytes == 0 {
		minBytes = 2048
	}
	if scriptDensityPct == 0 {
		scriptDensityPct = 25
	}
	return &Heuristic{MinBytes: minBytes, ScriptDensityPct: scriptDensityPct}
}

// Static article markup always carries one of these containers; their
// absence means the content is rendered client-side.
var contentContainers = [][]byte{
	[]byte(`id="js_content"`),
	[]byte("rich_media_content"),
}

// Markers of client-side application shells.
var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a rendered fetch is required. Non-200
// responses are never promoted: the block and gone detectors own those.
func (h *Heuristic) ShouldPromote(page harvest.Page) bool {
	if page.Mode == harvest.FetchRendered {
		return false
	}
	if page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if !hasContentContainer(body) {
		return true
	}
	if len(body) < h.MinBytes && scriptDensityHigh(body, h.ScriptDensityPct) {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func hasContentContainer(body []byte) bool {
	for _, container := range contentContainers {
		if bytes.Contains(body, container) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte, thresholdPct int) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= thresholdPct
}
