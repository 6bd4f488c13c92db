// Package search drives the listing parser across dates and merges the results.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/fetcher"
	"github.com/y3shua/honor-the-fallen/internal/listing"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
	"github.com/y3shua/honor-the-fallen/internal/policy/pacing"
)

// DefaultBaseURL is the memorial site origin.
const DefaultBaseURL = "https://thefallen.militarytimes.com"

const (
	queryDateLayout  = "01/02/2006"
	defaultDelay     = time.Second
	defaultStartYear = 2003
)

// Config controls the searcher.
type Config struct {
	BaseURL    string
	Delay      time.Duration
	StartYear  int
	RecentDays int
	// StartDate and EndDate bound the comprehensive mode.
	StartDate time.Time
	EndDate   time.Time
}

// Searcher issues paced listing queries.
type Searcher struct {
	fetcher fetcher.Fetcher
	parser  *listing.Parser
	det     fetcher.BlockDetector
	hasher  fallen.Hasher
	pauser  pacing.Pauser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Searcher.
func New(f fetcher.Fetcher, det fetcher.BlockDetector, hasher fallen.Hasher, cfg Config, pauser pacing.Pauser, logger *zap.Logger) *Searcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Delay < 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.StartYear <= 0 {
		cfg.StartYear = defaultStartYear
	}
	if cfg.RecentDays <= 0 {
		cfg.RecentDays = defaultRecentDays
	}
	if pauser == nil {
		pauser = pacing.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		fetcher: f,
		parser:  listing.NewParser(cfg.BaseURL, det, logger),
		det:     det,
		hasher:  hasher,
		pauser:  pauser,
		cfg:     cfg,
		logger:  logger,
	}
}

// QueryURL builds the search URL for a single day.
func QueryURL(baseURL string, date time.Time) string {
	day := date.Format(queryDateLayout)
	q := url.Values{}
	for _, key := range []string{"year", "year_month", "first_name", "last_name", "conflict", "home_state", "home_town"} {
		q.Set(key, "")
	}
	q.Set("start_date", day)
	q.Set("end_date", day)
	return strings.TrimRight(baseURL, "/") + "/search?" + q.Encode()
}

// SearchDate queries a single day.
func (s *Searcher) SearchDate(ctx context.Context, date time.Time) []fallen.BriefRecord {
	return s.collect(ctx, []time.Time{date})
}

// SearchYears queries month/day in every year from fromYear to toYear,
// skipping years where the date does not exist. A reversed range finds
// nothing.
func (s *Searcher) SearchYears(ctx context.Context, month time.Month, day, fromYear, toYear int, loc *time.Location) []fallen.BriefRecord {
	if loc == nil {
		loc = time.UTC
	}
	if toYear < fromYear {
		s.logger.Warn("Year range is empty", zap.Int("from_year", fromYear), zap.Int("to_year", toYear))
		return []fallen.BriefRecord{}
	}
	dates := make([]time.Time, 0, toYear-fromYear+1)
	for year := fromYear; year <= toYear; year++ {
		d := time.Date(year, month, day, 0, 0, 0, 0, loc)
		if d.Month() != month || d.Day() != day {
			s.logger.Debug("Skipping nonexistent date", zap.Int("year", year), zap.Stringer("month", month), zap.Int("day", day))
			continue
		}
		dates = append(dates, d)
	}
	return s.collect(ctx, dates)
}

// SearchRange queries every calendar day from from to to, inclusive.
func (s *Searcher) SearchRange(ctx context.Context, from, to time.Time) []fallen.BriefRecord {
	from = midnight(from)
	to = midnight(to)
	var dates []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return s.collect(ctx, dates)
}

// Probe reports whether the site answers without a block page.
func (s *Searcher) Probe(ctx context.Context) error {
	resp, err := s.fetcher.Fetch(ctx, fetcher.Request{URL: s.cfg.BaseURL, Headers: fetcher.BrowserHeaders()})
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.cfg.BaseURL, err)
	}
	if !resp.OK() {
		return fmt.Errorf("probe %s: status %d", s.cfg.BaseURL, resp.StatusCode)
	}
	if s.det != nil && s.det.Blocked(resp) {
		return fmt.Errorf("probe %s: blocked", s.cfg.BaseURL)
	}
	return nil
}

// collect runs one query per date, pausing between queries, and returns the
// records that carry an image. Records repeated across queries are kept once.
func (s *Searcher) collect(ctx context.Context, dates []time.Time) []fallen.BriefRecord {
	out := []fallen.BriefRecord{}
	seen := make(map[fallen.Identity]struct{})
	for i, date := range dates {
		if ctx.Err() != nil {
			s.logger.Warn("Search interrupted", zap.Int("remaining", len(dates)-i), zap.Error(ctx.Err()))
			break
		}
		if i > 0 {
			s.pauser.Pause(ctx, s.cfg.Delay)
		}
		for _, rec := range s.query(ctx, date) {
			if !rec.HasImage() {
				continue
			}
			if s.hasher != nil {
				id, err := fallen.Identify(s.hasher, rec)
				if err == nil {
					if _, dup := seen[id]; dup {
						continue
					}
					seen[id] = struct{}{}
				}
			}
			out = append(out, rec)
		}
	}
	metrics.ObserveRecordsFound(len(out))
	return out
}

func (s *Searcher) query(ctx context.Context, date time.Time) []fallen.BriefRecord {
	target := QueryURL(s.cfg.BaseURL, date)
	resp, err := s.fetcher.Fetch(ctx, fetcher.Request{URL: target, Headers: fetcher.BrowserHeaders()})
	if err != nil {
		s.logger.Warn("Search request failed", zap.String("url", target), zap.Error(err))
		metrics.ObserveSearch("error")
		return nil
	}
	records := s.parser.ParseResponse(resp)
	if len(records) == 0 {
		metrics.ObserveSearch("empty")
	} else {
		metrics.ObserveSearch("ok")
	}
	s.logger.Info("Searched date",
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("records", len(records)),
	)
	return records
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
