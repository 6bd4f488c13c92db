package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/fetcher"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
	"github.com/y3shua/honor-the-fallen/internal/policy/pacing"
)

// Config controls enrichment.
type Config struct {
	Workers          int
	Delay            time.Duration
	HometownEnabled  bool
	CircumstancesMax int
	UnitMinLength    int
	BucketPrefix     string
	RegionSelectors  []string
}

// Enricher fetches profile pages and extracts detail fields.
type Enricher struct {
	fetcher  fetcher.Fetcher
	detector fetcher.BlockDetector
	rules    []Rule
	cfg      Config
	pauser   pacing.Pauser
	logger   *zap.Logger
}

// New wires an Enricher. A nil vocab uses the embedded tables.
func New(f fetcher.Fetcher, detector fetcher.BlockDetector, vocab *Vocabulary, cfg Config, pauser pacing.Pauser, logger *zap.Logger) (*Enricher, error) {
	if vocab == nil {
		v, err := DefaultVocabulary()
		if err != nil {
			return nil, err
		}
		vocab = v
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if pauser == nil {
		pauser = pacing.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := BuildRules(vocab, Options{
		HometownEnabled:  cfg.HometownEnabled,
		CircumstancesMax: cfg.CircumstancesMax,
		UnitMinLength:    cfg.UnitMinLength,
		BucketPrefix:     cfg.BucketPrefix,
	})
	return &Enricher{
		fetcher:  f,
		detector: detector,
		rules:    rules,
		cfg:      cfg,
		pauser:   pauser,
		logger:   logger,
	}, nil
}

// Enrich returns rec with whatever detail fields its profile page yields.
// It never fails: any problem leaves the optional fields empty.
func (e *Enricher) Enrich(ctx context.Context, rec fallen.BriefRecord) fallen.DetailRecord {
	detail := fallen.NewDetail(rec)
	if formatted, ok := FormatDate(rec.DateOfDeathText); ok {
		detail.FormattedDate = formatted
	}
	if rec.ProfileLink == "" {
		metrics.ObserveEnrich("no_link")
		return detail
	}

	resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: rec.ProfileLink, Headers: fetcher.BrowserHeaders()})
	if err != nil {
		e.logger.Warn("Profile fetch failed", zap.String("name", rec.Name), zap.String("url", rec.ProfileLink), zap.Error(err))
		metrics.ObserveEnrich("fetch_error")
		return detail
	}
	if !resp.OK() || (e.detector != nil && e.detector.Blocked(resp)) {
		fields := []zap.Field{
			zap.String("name", rec.Name),
			zap.String("url", rec.ProfileLink),
			zap.Int("status", resp.StatusCode),
		}
		if e.detector != nil {
			fields = append(fields, zap.String("reason", fetcher.BlockReason(e.detector, resp)))
		}
		e.logger.Warn("Profile page unavailable", fields...)
		metrics.ObserveEnrich("blocked")
		return detail
	}

	page, err := NewPage(resp.Body, e.cfg.RegionSelectors)
	if err != nil {
		e.logger.Warn("Profile page unparseable", zap.String("url", rec.ProfileLink), zap.Error(err))
		metrics.ObserveEnrich("parse_error")
		return detail
	}
	if !page.HasRegion() {
		e.logger.Debug("Profile page has no detail region", zap.String("url", rec.ProfileLink))
		metrics.ObserveEnrich("no_region")
		return detail
	}

	Apply(page, e.rules, &detail)
	e.logger.Debug("Profile enriched",
		zap.String("name", rec.Name),
		zap.Bool("enriched", detail.Enriched()),
		zap.String("rank", detail.Rank),
		zap.String("branch", detail.Branch),
		zap.String("unit", detail.Unit),
	)
	metrics.ObserveEnrich("ok")
	return detail
}

// EnrichAll enriches records with a bounded pool. Output order matches input.
func (e *Enricher) EnrichAll(ctx context.Context, records []fallen.BriefRecord) []fallen.DetailRecord {
	out := make([]fallen.DetailRecord, len(records))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, rec := range records {
		g.Go(func() error {
			if ctx.Err() != nil {
				out[i] = fallen.NewDetail(rec)
				return nil
			}
			e.pauser.Pause(ctx, e.cfg.Delay)
			out[i] = e.Enrich(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
