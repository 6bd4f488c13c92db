package enrich

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultRegionSelectors locate the structured detail block of a profile page.
var DefaultRegionSelectors = []string{".content-div"}

const minNarrativeRunes = 40

var (
	blockTags = map[string]bool{
		"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"section": true, "article": true, "table": true, "tr": true, "td": true,
		"blockquote": true, "figure": true, "figcaption": true, "dd": true, "dt": true,
	}
	skipTags = map[string]bool{
		"script": true, "style": true, "noscript": true, "iframe": true, "svg": true, "#comment": true,
	}
	chromeSelectors = "nav, header, footer, aside, form"
	inlineSpace     = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
)

// Page is a parsed profile page with the text views extractors read.
type Page struct {
	Doc *goquery.Document
	// Region is the structured detail block, or nil when the page has none.
	Region *goquery.Selection
	// Heading is the region's first heading, which usually carries rank and name.
	Heading string
	// RegionText is the region rendered as line-separated plain text.
	RegionText string
	// Narrative joins the region's prose paragraphs.
	Narrative string
	// Text is the whole page without scripts or site chrome.
	Text string
}

// HasRegion reports whether the structured detail block was found.
func (p *Page) HasRegion() bool {
	return p.Region != nil && p.Region.Length() > 0
}

// NewPage parses html and locates the first region matching selectors.
func NewPage(html []byte, selectors []string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse profile html: %w", err)
	}
	if len(selectors) == 0 {
		selectors = DefaultRegionSelectors
	}

	page := &Page{Doc: doc}
	for _, sel := range selectors {
		if region := doc.Find(sel).First(); region.Length() > 0 {
			page.Region = region
			break
		}
	}

	body := doc.Find("body").Clone()
	body.Find(chromeSelectors).Remove()
	page.Text = renderText(body)

	if page.HasRegion() {
		page.Heading = collapse(page.Region.Find("h1, h2, h3").First().Text())
		page.RegionText = renderText(page.Region)
		page.Narrative = narrative(page.Region)
	}
	return page, nil
}

func narrative(region *goquery.Selection) string {
	var parts []string
	region.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := collapse(p.Text())
		if utf8.RuneCountInString(text) < minNarrativeRunes || !strings.ContainsAny(text, ".!?") {
			return
		}
		parts = append(parts, text)
	})
	return strings.Join(parts, " ")
}

// renderText flattens sel to text with a newline at every block boundary so
// patterns do not run across headings and paragraphs.
func renderText(sel *goquery.Selection) string {
	var b strings.Builder
	writeText(sel, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func writeText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch {
		case name == "#text":
			b.WriteString(strings.ReplaceAll(s.Text(), "\n", " "))
		case skipTags[name]:
		case blockTags[name]:
			b.WriteByte('\n')
			writeText(s, b)
			b.WriteByte('\n')
		default:
			writeText(s, b)
		}
	})
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
