// Package detector decides when a metadata page must be re-fetched through the
// headless renderer because the static HTML carries no usable rows.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// Heuristic implements rule-based promotion to headless rendering.
type Heuristic struct {
	BodyLengthThreshold int
	RequiredSelectors   []string
}

// NewHeuristic creates a detector. A page missing every required selector is
// promoted.
func NewHeuristic(threshold int, selectors ...string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	cleaned := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			cleaned = append(cleaned, sel)
		}
	}
	return &Heuristic{BodyLengthThreshold: threshold, RequiredSelectors: cleaned}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp cover.FetchResponse) bool {
	if h == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	switch {
	case len(body) == 0:
		return true
	case len(body) < h.BodyLengthThreshold && scriptDensityHigh(body):
		return true
	case h.missingSelectors(body):
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (h *Heuristic) missingSelectors(body []byte) bool {
	if len(h.RequiredSelectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range h.RequiredSelectors {
		if doc.Find(sel).Length() > 0 {
			return false
		}
	}
	return true
}

func scriptDensityHigh(body []byte) bool {
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
			// unterminated tag: the rest is script
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
