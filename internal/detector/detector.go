// Package detector classifies fetched pages as upstream block pages.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/y3shua/honor-the-fallen/internal/fetcher"
)

// DefaultMarkers are lowercase phrases that only appear on denial or challenge pages.
var DefaultMarkers = []string{
	"access denied",
	"captcha",
	"security check",
	"cloudflare",
}

// DefaultSelectors match challenge widgets that carry no telling text.
var DefaultSelectors = []string{
	"#challenge-form",
	"#cf-wrapper",
	".g-recaptcha",
	".h-captcha",
}

// Heuristic implements fetcher.BlockDetector using status and page signals.
type Heuristic struct {
	markers   []string
	selectors []string
}

// NewHeuristic constructs a detector. Nil slices select the defaults.
func NewHeuristic(markers, selectors []string) *Heuristic {
	if markers == nil {
		markers = DefaultMarkers
	}
	if selectors == nil {
		selectors = DefaultSelectors
	}
	lower := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lower = append(lower, m)
		}
	}
	return &Heuristic{markers: lower, selectors: selectors}
}

// Blocked reports whether resp is a non-200 response or a challenge page.
func (d *Heuristic) Blocked(resp fetcher.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return true
	}
	if len(resp.Body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return d.containsMarkers(strings.ToLower(string(resp.Body)))
	}
	for _, sel := range d.selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	doc.Find("script, style, noscript").Remove()
	return d.containsMarkers(strings.ToLower(doc.Text()))
}

// Reason returns the first signal that flagged resp, or "" when it is not blocked.
func (d *Heuristic) Reason(resp fetcher.Response) string {
	if resp.StatusCode != http.StatusOK {
		return "status " + http.StatusText(resp.StatusCode)
	}
	if !d.Blocked(resp) {
		return ""
	}
	text := strings.ToLower(string(resp.Body))
	for _, m := range d.markers {
		if strings.Contains(text, m) {
			return "marker " + m
		}
	}
	return "challenge widget"
}

func (d *Heuristic) containsMarkers(text string) bool {
	for _, m := range d.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
