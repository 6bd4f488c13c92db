// Package pipeline runs one search-enrich-publish pass in a selected mode.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/caption"
	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
	"github.com/y3shua/honor-the-fallen/internal/photo"
	"github.com/y3shua/honor-the-fallen/internal/policy/pacing"
	"github.com/y3shua/honor-the-fallen/internal/publish"
	"github.com/y3shua/honor-the-fallen/internal/search"
)

// Mode selects how found records are posted.
type Mode string

// Run modes.
const (
	// ModeSingle posts one randomly chosen unposted record.
	ModeSingle Mode = "single"
	// ModeIndividual posts every unposted record, one post each.
	ModeIndividual Mode = "individual"
	// ModeAlbum posts every found record in one multi-photo post.
	ModeAlbum Mode = "album"
)

const defaultSingleAttempts = 3

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSingle, ModeIndividual, ModeAlbum:
		return m, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q", s)
	}
}

// Searcher finds candidate records.
type Searcher interface {
	Run(ctx context.Context, plan search.Plan) []fallen.BriefRecord
	Probe(ctx context.Context) error
}

// Ledger tracks which records were already posted.
type Ledger interface {
	SelectUnposted(ctx context.Context, candidates []fallen.BriefRecord) (fallen.BriefRecord, fallen.Identity, error)
	Unposted(ctx context.Context, candidates []fallen.BriefRecord) ([]fallen.BriefRecord, bool, error)
	Add(ctx context.Context, id fallen.Identity) error
	Release(id fallen.Identity)
}

// Enricher fills detail fields from profile pages.
type Enricher interface {
	Enrich(ctx context.Context, rec fallen.BriefRecord) fallen.DetailRecord
	EnrichAll(ctx context.Context, records []fallen.BriefRecord) []fallen.DetailRecord
}

// Downloader fetches portrait bytes.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Normalizer validates and reshapes portraits.
type Normalizer interface {
	Normalize(data []byte) ([]byte, error)
}

// Publisher posts media.
type Publisher interface {
	PublishOne(ctx context.Context, media fallen.PublishableMedia) publish.Result
	PublishAlbum(ctx context.Context, caption string, items []fallen.PublishableMedia) publish.AlbumResult
}

// Config controls a run.
type Config struct {
	Mode Mode
	Plan search.Plan
	// SingleAttempts bounds how many candidates single mode tries when
	// portraits turn out to be unusable.
	SingleAttempts int
	// PublishDelay separates consecutive posts in individual mode.
	PublishDelay time.Duration
	// ProbeConnection checks the site is reachable before a single-mode search.
	ProbeConnection bool
	NotifyTopic     string
}

// Summary counts the outcome of a run.
type Summary struct {
	RunID     string `json:"run_id"`
	Mode      Mode   `json:"mode"`
	Found     int    `json:"found"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Degraded  int    `json:"degraded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// ExitCode is 1 only when posts were attempted and none succeeded.
func (s Summary) ExitCode() int {
	if s.Attempted > 0 && s.Succeeded == 0 {
		return 1
	}
	return 0
}

func (s Summary) fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("mode", string(s.Mode)),
		zap.Int("found", s.Found),
		zap.Int("attempted", s.Attempted),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("degraded", s.Degraded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
	}
}

// LogAbortedRun logs the zero summary of a run that stopped before it could
// search, so every invocation leaves one "Run finished" line.
func LogAbortedRun(logger *zap.Logger, mode Mode, err error) {
	if logger == nil {
		return
	}
	fields := Summary{Mode: mode}.fields()
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Info("Run finished", fields...)
}

// PostedEvent is announced after each successful post.
type PostedEvent struct {
	RunID    string          `json:"run_id"`
	Identity fallen.Identity `json:"identity"`
	Name     string          `json:"name"`
	PostID   string          `json:"post_id"`
	Degraded bool            `json:"degraded"`
	PostedAt time.Time       `json:"posted_at"`
}

// Runner wires the pipeline stages together.
type Runner struct {
	searcher   Searcher
	ledger     Ledger
	enricher   Enricher
	downloader Downloader
	normalizer Normalizer
	publisher  Publisher
	hasher     fallen.Hasher
	clock      fallen.Clock
	ids        fallen.IDGenerator
	pauser     pacing.Pauser
	archive    fallen.BlobStore
	notifier   fallen.Notifier
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Runner. archive and notifier are optional.
func New(
	searcher Searcher,
	ledger Ledger,
	enricher Enricher,
	downloader Downloader,
	normalizer Normalizer,
	publisher Publisher,
	hasher fallen.Hasher,
	clock fallen.Clock,
	ids fallen.IDGenerator,
	pauser pacing.Pauser,
	archive fallen.BlobStore,
	notifier fallen.Notifier,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.Mode == "" {
		cfg.Mode = ModeSingle
	}
	if cfg.SingleAttempts <= 0 {
		cfg.SingleAttempts = defaultSingleAttempts
	}
	if pauser == nil {
		pauser = pacing.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		searcher:   searcher,
		ledger:     ledger,
		enricher:   enricher,
		downloader: downloader,
		normalizer: normalizer,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		pauser:     pauser,
		archive:    archive,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes one pass. The summary is logged whatever the outcome; the
// returned error reports failures that stopped the run before publishing.
func (r *Runner) Run(ctx context.Context) (summary Summary, err error) {
	runID, err := r.ids.NewID()
	if err != nil {
		err = fmt.Errorf("generate run id: %w", err)
		LogAbortedRun(r.logger, r.cfg.Mode, err)
		return Summary{Mode: r.cfg.Mode}, err
	}
	summary = Summary{RunID: runID, Mode: r.cfg.Mode}
	logger := r.logger.With(zap.String("run_id", runID), zap.String("mode", string(r.cfg.Mode)))
	start := r.clock.Now()
	defer func() {
		metrics.ObserveRun(string(r.cfg.Mode), r.clock.Now().Sub(start))
		fields := summary.fields()
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		r.logger.Info("Run finished", fields...)
	}()

	switch r.cfg.Mode {
	case ModeSingle:
		err = r.runSingle(ctx, &summary, logger)
	case ModeIndividual:
		err = r.runIndividual(ctx, &summary, logger)
	case ModeAlbum:
		err = r.runAlbum(ctx, &summary, logger)
	default:
		err = fmt.Errorf("unknown pipeline mode %q", r.cfg.Mode)
	}
	return summary, err
}

func (r *Runner) find(ctx context.Context, summary *Summary) []fallen.BriefRecord {
	found := r.searcher.Run(ctx, r.cfg.Plan)
	summary.Found = len(found)
	return found
}

func (r *Runner) runSingle(ctx context.Context, summary *Summary, logger *zap.Logger) error {
	if r.cfg.ProbeConnection {
		if err := r.searcher.Probe(ctx); err != nil {
			logger.Warn("Connection probe failed; searching anyway", zap.Error(err))
		}
	}
	found := r.find(ctx, summary)
	if len(found) == 0 {
		logger.Info("No records found", zap.Stringer("plan", r.cfg.Plan))
		return nil
	}
	// Filter once so that dropping rejected picks never triggers a reset.
	pool, reset, err := r.ledger.Unposted(ctx, found)
	if err != nil {
		return fmt.Errorf("filter posted records: %w", err)
	}
	if reset {
		logger.Info("Every record was already posted; ledger reset")
	}

	for attempt := 0; attempt < r.cfg.SingleAttempts && len(pool) > 0; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pick, id, err := r.ledger.SelectUnposted(ctx, pool)
		if err != nil {
			return fmt.Errorf("select record: %w", err)
		}
		pool = without(pool, pick)

		detail := r.enricher.Enrich(ctx, pick)
		media, ok := r.prepare(ctx, detail, id, caption.Single(detail), logger)
		if !ok {
			r.ledger.Release(id)
			summary.Skipped++
			continue
		}

		summary.Attempted++
		res := r.publisher.PublishOne(ctx, media)
		if !res.Succeeded() {
			r.ledger.Release(id)
			summary.Failed++
			logger.Error("Publish failed", zap.String("name", pick.Name), zap.Error(res.Err))
			return nil
		}
		r.confirm(ctx, summary, logger, runEvent(summary.RunID, id, pick.Name, res))
		return nil
	}
	logger.Warn("No usable portrait among selected records", zap.Int("skipped", summary.Skipped))
	return nil
}

func (r *Runner) runIndividual(ctx context.Context, summary *Summary, logger *zap.Logger) error {
	found := r.find(ctx, summary)
	if len(found) == 0 {
		logger.Info("No records found", zap.Stringer("plan", r.cfg.Plan))
		return nil
	}
	unposted, reset, err := r.ledger.Unposted(ctx, found)
	if err != nil {
		return fmt.Errorf("filter posted records: %w", err)
	}
	if reset {
		logger.Info("Every record was already posted; ledger reset")
	}
	summary.Skipped += len(found) - len(unposted)

	details := r.enricher.EnrichAll(ctx, unposted)
	posted := 0
	for _, detail := range details {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id, err := fallen.Identify(r.hasher, detail.BriefRecord)
		if err != nil {
			summary.Skipped++
			logger.Warn("Identity failed", zap.String("name", detail.Name), zap.Error(err))
			continue
		}
		media, ok := r.prepare(ctx, detail, id, caption.Single(detail), logger)
		if !ok {
			summary.Skipped++
			continue
		}
		if posted > 0 {
			r.pauser.Pause(ctx, r.cfg.PublishDelay)
		}
		posted++

		summary.Attempted++
		res := r.publisher.PublishOne(ctx, media)
		if !res.Succeeded() {
			summary.Failed++
			logger.Error("Publish failed", zap.String("name", detail.Name), zap.Error(res.Err))
			continue
		}
		r.confirm(ctx, summary, logger, runEvent(summary.RunID, id, detail.Name, res))
	}
	return nil
}

func (r *Runner) runAlbum(ctx context.Context, summary *Summary, logger *zap.Logger) error {
	found := r.find(ctx, summary)
	if len(found) == 0 {
		logger.Info("No records found", zap.Stringer("plan", r.cfg.Plan))
		return nil
	}

	details := r.enricher.EnrichAll(ctx, found)
	items := make([]fallen.PublishableMedia, 0, len(details))
	ids := make([]fallen.Identity, 0, len(details))
	for _, detail := range details {
		id, err := fallen.Identify(r.hasher, detail.BriefRecord)
		if err != nil {
			summary.Skipped++
			logger.Warn("Identity failed", zap.String("name", detail.Name), zap.Error(err))
			continue
		}
		media, ok := r.prepare(ctx, detail, id, caption.Single(detail), logger)
		if !ok {
			summary.Skipped++
			continue
		}
		items = append(items, media)
		ids = append(ids, id)
	}
	if len(items) == 0 {
		logger.Warn("No usable portraits for album")
		return nil
	}

	records := make([]fallen.DetailRecord, len(items))
	for i, item := range items {
		records[i] = item.Record
	}
	summary.Attempted = len(items)
	res := r.publisher.PublishAlbum(ctx, caption.Album(r.albumDay(), records), items)
	if !res.Succeeded() {
		summary.Failed = len(items)
		logger.Error("Album publish failed", zap.Error(res.Err))
		return nil
	}

	summary.Failed = len(items) - len(res.Included)
	for _, idx := range res.Included {
		r.confirm(ctx, summary, logger, runEvent(summary.RunID, ids[idx], items[idx].Record.Name, res.Result))
	}
	return nil
}

// prepare downloads and normalizes the record's portrait. It falls back to
// the listing thumbnail when the profile image cannot be used.
func (r *Runner) prepare(ctx context.Context, detail fallen.DetailRecord, id fallen.Identity, text string, logger *zap.Logger) (fallen.PublishableMedia, bool) {
	urls := []string{detail.BestImageURL()}
	if detail.ImageURL != "" && detail.ImageURL != urls[0] {
		urls = append(urls, detail.ImageURL)
	}

	for _, url := range urls {
		if url == "" {
			continue
		}
		raw, _, err := r.downloader.Download(ctx, url)
		if err != nil {
			logger.Warn("Portrait download failed", zap.String("name", detail.Name), zap.String("url", url), zap.Error(err))
			continue
		}
		data, err := r.normalizer.Normalize(raw)
		if err != nil {
			logger.Warn("Portrait unusable", zap.String("name", detail.Name), zap.String("url", url), zap.Error(err))
			continue
		}
		r.archivePhoto(ctx, id, data, logger)
		return fallen.PublishableMedia{
			Record:      detail,
			Image:       data,
			ContentType: photo.ContentType,
			Caption:     text,
		}, true
	}
	return fallen.PublishableMedia{}, false
}

func (r *Runner) archivePhoto(ctx context.Context, id fallen.Identity, data []byte, logger *zap.Logger) {
	if r.archive == nil {
		return
	}
	uri, err := photo.Archive(ctx, r.archive, r.clock.Now(), id, data)
	if err != nil {
		logger.Warn("Photo archive failed", zap.String("identity", string(id)), zap.Error(err))
		return
	}
	logger.Debug("Photo archived", zap.String("uri", uri))
}

// confirm records a successful post in the ledger and announces it.
func (r *Runner) confirm(ctx context.Context, summary *Summary, logger *zap.Logger, event PostedEvent) {
	summary.Succeeded++
	if event.Degraded {
		summary.Degraded++
	}
	if err := r.ledger.Add(ctx, event.Identity); err != nil {
		logger.Error("Ledger update failed", zap.String("identity", string(event.Identity)), zap.Error(err))
	}
	logger.Info("Posted",
		zap.String("name", event.Name),
		zap.String("post_id", event.PostID),
		zap.Bool("degraded", event.Degraded),
	)

	if r.notifier == nil {
		return
	}
	event.PostedAt = r.clock.Now()
	if _, err := r.notifier.Publish(ctx, r.cfg.NotifyTopic, event); err != nil {
		logger.Warn("Posted notification failed", zap.String("identity", string(event.Identity)), zap.Error(err))
	}
}

func (r *Runner) albumDay() time.Time {
	if !r.cfg.Plan.From.IsZero() {
		return r.cfg.Plan.From
	}
	return r.clock.Now()
}

func runEvent(runID string, id fallen.Identity, name string, res publish.Result) PostedEvent {
	return PostedEvent{
		RunID:    runID,
		Identity: id,
		Name:     name,
		PostID:   res.PostID,
		Degraded: res.Degraded,
	}
}

func without(records []fallen.BriefRecord, drop fallen.BriefRecord) []fallen.BriefRecord {
	out := make([]fallen.BriefRecord, 0, len(records))
	for _, rec := range records {
		if rec != drop {
			out = append(out, rec)
		}
	}
	return out
}
