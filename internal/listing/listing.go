// Package listing parses search-results pages into brief records.
package listing

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/fetcher"
)

// BucketPrefix identifies canonical full-size portraits.
const BucketPrefix = "https://s3.amazonaws.com/"

const (
	entrySelector    = ".data-box"
	nameSelector     = ".data-box-right h3 a"
	dateSelector     = ".data-box-right .blue-bold"
	recordImgSel     = ".record-image img"
	thumbnailImgSel  = ".data-box-left img"
	fallbackImageSel = "img"
)

// Parse extracts brief records from one results page in document order.
// Relative links and images are resolved against baseURL.
func Parse(html []byte, baseURL string) ([]fallen.BriefRecord, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	records := make([]fallen.BriefRecord, 0)
	doc.Find(entrySelector).Each(func(_ int, entry *goquery.Selection) {
		records = append(records, parseEntry(entry, base))
	})
	return records, nil
}

func parseEntry(entry *goquery.Selection, base *url.URL) fallen.BriefRecord {
	rec := fallen.BriefRecord{
		Name:            fallen.UnknownName,
		DateOfDeathText: fallen.UnknownDate,
	}

	nameTag := entry.Find(nameSelector).First()
	if name := collapseSpace(nameTag.Text()); name != "" {
		rec.Name = name
	}
	if href, ok := nameTag.Attr("href"); ok {
		rec.ProfileLink = resolve(base, cleanLink(href))
	}
	if date := collapseSpace(entry.Find(dateSelector).First().Text()); date != "" {
		rec.DateOfDeathText = date
	}
	rec.ImageURL = pickImage(entry, base)
	return rec
}

// pickImage prefers a bucket-hosted portrait over the thumbnail.
func pickImage(entry *goquery.Selection, base *url.URL) string {
	var fallback string
	for _, sel := range []string{recordImgSel, thumbnailImgSel, fallbackImageSel} {
		var found string
		entry.Find(sel).EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src := strings.TrimSpace(img.AttrOr("src", ""))
			if src == "" {
				return true
			}
			abs := resolve(base, src)
			if strings.HasPrefix(abs, BucketPrefix) {
				found = abs
				return false
			}
			if fallback == "" {
				fallback = abs
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return fallback
}

// cleanLink strips the trailing colon and whitespace the site appends to some hrefs.
func cleanLink(href string) string {
	return strings.TrimRight(strings.TrimSpace(href), ": \t\r\n")
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Parser turns fetched responses into records, treating block pages as empty.
type Parser struct {
	baseURL  string
	detector fetcher.BlockDetector
	logger   *zap.Logger
}

// NewParser constructs a Parser.
func NewParser(baseURL string, detector fetcher.BlockDetector, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{baseURL: baseURL, detector: detector, logger: logger}
}

// ParseResponse returns the page's records, or an empty slice when the page is
// blocked or unparseable.
func (p *Parser) ParseResponse(resp fetcher.Response) []fallen.BriefRecord {
	if p.detector != nil && p.detector.Blocked(resp) {
		p.logger.Warn("Search page blocked",
			zap.String("url", resp.URL),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", fetcher.BlockReason(p.detector, resp)),
		)
		return []fallen.BriefRecord{}
	}
	records, err := Parse(resp.Body, p.baseURL)
	if err != nil {
		p.logger.Warn("Search page unparseable", zap.String("url", resp.URL), zap.Error(err))
		return []fallen.BriefRecord{}
	}
	return records
}
