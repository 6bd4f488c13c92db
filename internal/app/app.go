// Package app initializes and holds the long-lived services of one job
// invocation, acting as the dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/clock/system"
	"github.com/y3shua/honor-the-fallen/internal/config"
	"github.com/y3shua/honor-the-fallen/internal/detector"
	"github.com/y3shua/honor-the-fallen/internal/enrich"
	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/fetcher"
	collyfetcher "github.com/y3shua/honor-the-fallen/internal/fetcher/colly"
	"github.com/y3shua/honor-the-fallen/internal/fetcher/headless"
	"github.com/y3shua/honor-the-fallen/internal/graph"
	"github.com/y3shua/honor-the-fallen/internal/hash/sha256"
	"github.com/y3shua/honor-the-fallen/internal/id/uuid"
	"github.com/y3shua/honor-the-fallen/internal/ledger"
	notifypubsub "github.com/y3shua/honor-the-fallen/internal/notify/pubsub"
	"github.com/y3shua/honor-the-fallen/internal/photo"
	"github.com/y3shua/honor-the-fallen/internal/pipeline"
	"github.com/y3shua/honor-the-fallen/internal/policy/pacing"
	"github.com/y3shua/honor-the-fallen/internal/policy/ratelimit"
	"github.com/y3shua/honor-the-fallen/internal/publish"
	"github.com/y3shua/honor-the-fallen/internal/search"
	"github.com/y3shua/honor-the-fallen/internal/storage/gcs"
	"github.com/y3shua/honor-the-fallen/internal/storage/local"
	"github.com/y3shua/honor-the-fallen/internal/storage/postgres"
)

// ErrNoCredentials is returned when a posting service is requested from an
// App loaded without Facebook credentials.
var ErrNoCredentials = errors.New("facebook credentials were not loaded")

const ledgerConnLifetime = 30 * time.Minute

// App holds the services shared by every command. Searching is always
// available; posting services are built on demand.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	hasher   *sha256.Hasher
	detector *detector.Heuristic
	// direct skips the headless fallback; portraits are fetched through it.
	direct   fetcher.Fetcher
	pages    fetcher.Fetcher
	searcher *search.Searcher
	graph    *graph.Client
	closers  []func()
}

// NewApp builds the fetch stack and the searcher from cfg.
func NewApp(_ context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock, err := system.NewNamed(cfg.Search.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		hasher:   sha256.New(),
		detector: detector.NewHeuristic(nil, nil),
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	direct, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
		ProxyURL:  cfg.HTTP.Proxy(),
	}, limiter)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	a.direct = direct
	a.pages = direct

	if cfg.HTTP.HeadlessFallback {
		browser, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			ProxyURL:          cfg.HTTP.Proxy(),
			NavigationTimeout: cfg.Headless.NavTimeout,
			Settle:            cfg.Headless.Settle,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, browser.Close)
		a.pages = &fetcher.Chain{
			Primary:  direct,
			Fallback: browser,
			Detector: a.detector,
			Logger:   logger.Named("fetch"),
		}
		logger.Info("Headless fallback enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	start, end, err := cfg.Search.Range(clock.Now().Location())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.searcher = search.New(a.pages, a.detector, a.hasher, search.Config{
		BaseURL:    cfg.Search.BaseURL,
		Delay:      cfg.Search.Delay,
		StartYear:  cfg.Search.StartYear,
		RecentDays: cfg.Search.RecentDays,
		StartDate:  start,
		EndDate:    end,
	}, pacing.Timer{}, logger.Named("search"))

	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Plan resolves the dates to search. A non-empty date (YYYY-MM-DD) searches
// that day only; otherwise the configured search mode is used.
func (a *App) Plan(date string) (search.Plan, error) {
	now := a.clock.Now()
	if date != "" {
		day, err := time.ParseInLocation(config.DateLayout, date, now.Location())
		if err != nil {
			return search.Plan{}, fmt.Errorf("parse date %q: %w", date, err)
		}
		return search.DatePlan(day), nil
	}
	return a.searcher.Plan(a.cfg.SearchMode(), now)
}

// Search runs plan without touching the ledger or the page.
func (a *App) Search(ctx context.Context, plan search.Plan) []fallen.BriefRecord {
	return a.searcher.Run(ctx, plan)
}

// Verify fetches the page name to prove the credentials work.
func (a *App) Verify(ctx context.Context) (graph.PageInfo, error) {
	client, err := a.graphClient()
	if err != nil {
		return graph.PageInfo{}, err
	}
	return client.PageInfo(ctx)
}

// Runner wires a pipeline for mode and plan. Resources it opens are released
// by Close.
func (a *App) Runner(ctx context.Context, mode pipeline.Mode, plan search.Plan) (*pipeline.Runner, error) {
	client, err := a.graphClient()
	if err != nil {
		return nil, err
	}

	store, err := a.ledgerStore(ctx)
	if err != nil {
		return nil, err
	}
	posted := ledger.Open(ctx, store, a.hasher, a.logger.Named("ledger"))

	var vocab *enrich.Vocabulary
	if path := a.cfg.Enrich.VocabularyFile; path != "" {
		vocab, err = enrich.LoadVocabulary(path)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
	}
	enricher, err := enrich.New(a.pages, a.detector, vocab, enrich.Config{
		Workers:          a.cfg.Enrich.Workers,
		Delay:            a.cfg.Enrich.Delay,
		HometownEnabled:  a.cfg.Enrich.HometownEnabled,
		CircumstancesMax: a.cfg.Enrich.CircumstancesMax,
		UnitMinLength:    a.cfg.Enrich.UnitMinLength,
		BucketPrefix:     a.cfg.Enrich.BucketPrefix,
	}, pacing.Timer{}, a.logger.Named("enrich"))
	if err != nil {
		return nil, fmt.Errorf("init enricher: %w", err)
	}

	policy, err := photo.ParsePolicy(a.cfg.Image.Policy)
	if err != nil {
		return nil, err
	}
	normalizer, err := photo.NewNormalizer(photo.Config{
		Policy:          policy,
		Size:            a.cfg.Image.Size,
		Quality:         a.cfg.Image.Quality,
		PreserveQuality: a.cfg.Image.PreserveQuality,
		PadColor:        a.cfg.Image.PadColor,
		Skip:            a.cfg.Image.SkipProcessing,
	}, a.logger.Named("photo"))
	if err != nil {
		return nil, fmt.Errorf("init normalizer: %w", err)
	}
	downloader := photo.NewDownloader(a.direct, a.cfg.Image.MinBytes, a.cfg.Search.BaseURL, a.logger.Named("photo"))

	archive, err := a.archive(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifier(ctx)
	if err != nil {
		return nil, err
	}

	publisher := publish.New(client, publish.Config{FallbackLink: a.cfg.Publish.FallbackLink}, a.logger.Named("publish"))

	return pipeline.New(
		a.searcher,
		posted,
		enricher,
		downloader,
		normalizer,
		publisher,
		a.hasher,
		a.clock,
		uuid.New(),
		pacing.Timer{},
		archive,
		notifier,
		pipeline.Config{
			Mode:            mode,
			Plan:            plan,
			SingleAttempts:  a.cfg.Pipeline.SingleAttempts,
			PublishDelay:    a.cfg.Publish.Delay,
			ProbeConnection: a.cfg.Pipeline.ProbeConnection,
			NotifyTopic:     a.cfg.Notify.Topic,
		},
		a.logger.Named("pipeline"),
	), nil
}

// Close releases every resource opened by the App, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) graphClient() (*graph.Client, error) {
	if a.graph != nil {
		return a.graph, nil
	}
	if !a.cfg.RequireCredentials {
		return nil, ErrNoCredentials
	}
	client, err := graph.New(graph.Config{
		BaseURL:        a.cfg.Publish.GraphBaseURL,
		PageID:         a.cfg.Facebook.PageID,
		AccessToken:    a.cfg.Facebook.AccessToken,
		Timeout:        a.cfg.Publish.Timeout,
		UploadInterval: a.cfg.Publish.UploadInterval,
	}, a.logger.Named("graph"))
	if err != nil {
		return nil, fmt.Errorf("init graph client: %w", err)
	}
	a.graph = client
	return client, nil
}

func (a *App) ledgerStore(ctx context.Context) (ledger.Store, error) {
	switch a.cfg.Ledger.Backend {
	case config.LedgerPostgres:
		a.logger.Info("Using Postgres ledger", zap.String("table", a.cfg.Ledger.Table))
		store, err := postgres.NewLedgerStore(ctx, postgres.LedgerStoreConfig{
			DSN:             a.cfg.Ledger.DSN,
			Table:           a.cfg.Ledger.Table,
			MaxConns:        a.cfg.Ledger.MaxConns,
			MaxConnLifetime: ledgerConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		a.logger.Info("Using file ledger", zap.String("path", a.cfg.Ledger.Path))
		return ledger.NewFileStore(a.cfg.Ledger.Path, a.logger.Named("ledger")), nil
	}
}

func (a *App) archive(ctx context.Context) (fallen.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.logger.Info("Archiving photos locally", zap.String("dir", a.cfg.Archive.Dir))
		return store, nil
	case config.ArchiveGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.Bucket, Prefix: a.cfg.Archive.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("Error closing GCS client", zap.Error(err))
			}
		})
		a.logger.Info("Archiving photos to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) notifier(ctx context.Context) (fallen.Notifier, error) {
	if !a.cfg.Notify.Enabled {
		return nil, nil
	}
	n, err := notifypubsub.New(ctx, notifypubsub.Config{
		ProjectID: a.cfg.Notify.ProjectID,
		Topic:     a.cfg.Notify.Topic,
	}, a.logger.Named("notify"))
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := n.Close(); err != nil {
			a.logger.Warn("Error closing Pub/Sub client", zap.Error(err))
		}
	})
	a.logger.Info("Publishing post events", zap.String("topic", a.cfg.Notify.Topic))
	return n, nil
}
