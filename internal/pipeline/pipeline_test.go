package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/hash/sha256"
	"github.com/y3shua/honor-the-fallen/internal/ledger"
	notifymemory "github.com/y3shua/honor-the-fallen/internal/notify/memory"
	"github.com/y3shua/honor-the-fallen/internal/photo"
	"github.com/y3shua/honor-the-fallen/internal/policy/pacing"
	"github.com/y3shua/honor-the-fallen/internal/publish"
	"github.com/y3shua/honor-the-fallen/internal/search"
	storagememory "github.com/y3shua/honor-the-fallen/internal/storage/memory"
)

var now = time.Date(2024, time.May, 27, 9, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type fixedIDs struct{ err error }

func (g fixedIDs) NewID() (string, error) { return "run-1", g.err }

type memStore struct {
	mu  sync.Mutex
	ids []string
}

func (s *memStore) Load(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...), nil
}

func (s *memStore) Save(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append([]string(nil), ids...)
	return nil
}

type fakeSearcher struct {
	records  []fallen.BriefRecord
	probeErr error
	runs     int
	plan     search.Plan
}

func (s *fakeSearcher) Run(_ context.Context, plan search.Plan) []fallen.BriefRecord {
	s.runs++
	s.plan = plan
	return s.records
}

func (s *fakeSearcher) Probe(context.Context) error { return s.probeErr }

type fakeEnricher struct{}

func (fakeEnricher) Enrich(_ context.Context, rec fallen.BriefRecord) fallen.DetailRecord {
	d := fallen.NewDetail(rec)
	d.Rank = "Sgt."
	d.Branch = "U.S. Army"
	return d
}

func (e fakeEnricher) EnrichAll(ctx context.Context, records []fallen.BriefRecord) []fallen.DetailRecord {
	out := make([]fallen.DetailRecord, len(records))
	for i, rec := range records {
		out[i] = e.Enrich(ctx, rec)
	}
	return out
}

type fakeDownloader struct {
	bad map[string]bool
}

func (d fakeDownloader) Download(_ context.Context, url string) ([]byte, string, error) {
	if d.bad[url] {
		return nil, "", photo.ErrTooSmall
	}
	return []byte("img:" + url), "image/jpeg", nil
}

type passNormalizer struct{}

func (passNormalizer) Normalize(data []byte) ([]byte, error) {
	return data, nil
}

type fakePublisher struct {
	failing  map[string]bool
	degraded map[string]bool
	album    *publish.AlbumResult

	one          []fallen.PublishableMedia
	albumCaption string
	albumItems   []fallen.PublishableMedia
}

func (p *fakePublisher) PublishOne(_ context.Context, media fallen.PublishableMedia) publish.Result {
	p.one = append(p.one, media)
	name := media.Record.Name
	switch {
	case p.failing[name]:
		return publish.Result{State: publish.StateFailed, Err: errors.New("graph down")}
	case p.degraded[name]:
		return publish.Result{State: publish.StateTextFallback, PostID: "post-" + name, Degraded: true}
	default:
		return publish.Result{State: publish.StateAttached, PostID: "post-" + name, MediaIDs: []string{"m-" + name}}
	}
}

func (p *fakePublisher) PublishAlbum(_ context.Context, caption string, items []fallen.PublishableMedia) publish.AlbumResult {
	p.albumCaption = caption
	p.albumItems = items
	if p.album != nil {
		return *p.album
	}
	included := make([]int, len(items))
	for i := range items {
		included[i] = i
	}
	return publish.AlbumResult{
		Result:   publish.Result{State: publish.StateAttached, PostID: "album-1"},
		Included: included,
	}
}

func record(name string) fallen.BriefRecord {
	slug := strings.ReplaceAll(strings.ToLower(name), " ", "-")
	return fallen.BriefRecord{
		Name:            name,
		DateOfDeathText: "May 27, 2007",
		ProfileLink:     "https://thefallen.militarytimes.com/" + slug,
		ImageURL:        "https://s3.amazonaws.com/static/" + slug + ".jpg",
	}
}

type harness struct {
	searcher  *fakeSearcher
	store     *memStore
	ledger    *ledger.Ledger
	download  fakeDownloader
	publisher *fakePublisher
	pauser    *pacing.Recorder
	archive   *storagememory.BlobStore
	notifier  *notifymemory.Notifier
	hasher    fallen.Hasher
}

func newHarness(t *testing.T, records []fallen.BriefRecord, posted ...fallen.BriefRecord) *harness {
	t.Helper()
	hasher := sha256.New()
	store := &memStore{}
	for _, rec := range posted {
		id, err := fallen.Identify(hasher, rec)
		require.NoError(t, err)
		store.ids = append(store.ids, string(id))
	}
	return &harness{
		searcher:  &fakeSearcher{records: records},
		store:     store,
		ledger:    ledger.Open(context.Background(), store, hasher, nil),
		download:  fakeDownloader{bad: map[string]bool{}},
		publisher: &fakePublisher{failing: map[string]bool{}, degraded: map[string]bool{}},
		pauser:    &pacing.Recorder{},
		archive:   storagememory.NewBlobStore(),
		notifier:  notifymemory.New(),
		hasher:    hasher,
	}
}

func (h *harness) runner(cfg Config) *Runner {
	return New(
		h.searcher,
		h.ledger,
		fakeEnricher{},
		h.download,
		passNormalizer{},
		h.publisher,
		h.hasher,
		fixedClock{},
		fixedIDs{},
		h.pauser,
		h.archive,
		h.notifier,
		cfg,
		nil,
	)
}

func (h *harness) identity(t *testing.T, rec fallen.BriefRecord) fallen.Identity {
	t.Helper()
	id, err := fallen.Identify(h.hasher, rec)
	require.NoError(t, err)
	return id
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"single", "individual", "album"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("batch")
	require.Error(t, err)
}

func TestSummaryExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Summary{}.ExitCode())
	assert.Equal(t, 0, Summary{Attempted: 3, Succeeded: 1, Failed: 2}.ExitCode())
	assert.Equal(t, 1, Summary{Attempted: 2, Failed: 2}.ExitCode())
}

func TestSinglePostsUnpostedRecord(t *testing.T) {
	t.Parallel()

	done, fresh := record("John Doe"), record("Jane Roe")
	h := newHarness(t, []fallen.BriefRecord{done, fresh}, done)

	plan := search.DatePlan(now)
	summary, err := h.runner(Config{Mode: ModeSingle, Plan: plan, ProbeConnection: true, NotifyTopic: "posted"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{RunID: "run-1", Mode: ModeSingle, Found: 2, Attempted: 1, Succeeded: 1}, summary)
	assert.Equal(t, 0, summary.ExitCode())
	assert.Equal(t, plan, h.searcher.plan)

	require.Len(t, h.publisher.one, 1)
	media := h.publisher.one[0]
	assert.Equal(t, "Jane Roe", media.Record.Name)
	assert.Equal(t, photo.ContentType, media.ContentType)
	assert.Contains(t, media.Caption, "Jane Roe")

	id := h.identity(t, fresh)
	assert.True(t, h.ledger.Contains(id))
	assert.Contains(t, h.store.ids, string(id))

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "posted", msgs[0].Topic)
	assert.Equal(t, PostedEvent{
		RunID:    "run-1",
		Identity: id,
		Name:     "Jane Roe",
		PostID:   "post-Jane Roe",
		PostedAt: now,
	}, msgs[0].Payload)

	_, _, ok := h.archive.Object(photo.ArchivePath(now, id))
	assert.True(t, ok)
}

func TestSingleSkipsUnusablePortrait(t *testing.T) {
	t.Parallel()

	broken, good := record("John Doe"), record("Jane Roe")
	h := newHarness(t, []fallen.BriefRecord{broken, good})
	h.download.bad[broken.ImageURL] = true

	summary, err := h.runner(Config{Mode: ModeSingle}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.LessOrEqual(t, summary.Skipped, 1)
	require.Len(t, h.publisher.one, 1)
	assert.Equal(t, "Jane Roe", h.publisher.one[0].Record.Name)
	assert.False(t, h.ledger.Contains(h.identity(t, broken)))
	assert.True(t, h.ledger.Contains(h.identity(t, good)))
}

func TestSingleGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	records := []fallen.BriefRecord{record("A One"), record("B Two"), record("C Three")}
	h := newHarness(t, records)
	for _, rec := range records {
		h.download.bad[rec.ImageURL] = true
	}

	summary, err := h.runner(Config{Mode: ModeSingle, SingleAttempts: 2}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Attempted)
	assert.Equal(t, 0, summary.ExitCode())
	assert.Empty(t, h.publisher.one)
	assert.Equal(t, 0, h.ledger.Len())
}

func TestSinglePublishFailureReleasesReservation(t *testing.T) {
	t.Parallel()

	rec := record("John Doe")
	h := newHarness(t, []fallen.BriefRecord{rec})
	h.publisher.failing[rec.Name] = true

	summary, err := h.runner(Config{Mode: ModeSingle}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.ExitCode())
	assert.False(t, h.ledger.Contains(h.identity(t, rec)))
	assert.Empty(t, h.store.ids)
	assert.Empty(t, h.notifier.Messages())
}

func TestSingleProbeFailureStillSearches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []fallen.BriefRecord{record("John Doe")})
	h.searcher.probeErr = errors.New("connection refused")

	summary, err := h.runner(Config{Mode: ModeSingle, ProbeConnection: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.searcher.runs)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestNothingFound(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeSingle, ModeIndividual, ModeAlbum} {
		h := newHarness(t, nil)
		summary, err := h.runner(Config{Mode: mode}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Found)
		assert.Equal(t, 0, summary.ExitCode())
	}
}

func TestRunIDFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	h := newHarness(t, nil)
	r := New(h.searcher, h.ledger, fakeEnricher{}, h.download, passNormalizer{}, h.publisher,
		h.hasher, fixedClock{}, fixedIDs{err: errors.New("entropy")}, h.pauser, nil, nil,
		Config{Mode: ModeAlbum}, zap.New(core))
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, h.searcher.runs)

	finished := logs.FilterMessage("Run finished").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.Equal(t, "album", fields["mode"])
	assert.Equal(t, int64(0), fields["attempted"])
	assert.Contains(t, fields["error"], "entropy")
}

func TestLogAbortedRun(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	LogAbortedRun(zap.New(core), ModeIndividual, errors.New("verify credentials: expired"))
	LogAbortedRun(nil, ModeSingle, nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Run finished", entries[0].Message)
	assert.Equal(t, "individual", fields["mode"])
	assert.Equal(t, int64(0), fields["found"])
	assert.Equal(t, int64(0), fields["succeeded"])
	assert.Equal(t, "verify credentials: expired", fields["error"])
}

func TestIndividualPostsEachUnpostedRecord(t *testing.T) {
	t.Parallel()

	a, b, c, d := record("A One"), record("B Two"), record("C Three"), record("D Four")
	h := newHarness(t, []fallen.BriefRecord{a, b, c, d}, d)
	h.publisher.failing[b.Name] = true
	h.publisher.degraded[c.Name] = true

	summary, err := h.runner(Config{Mode: ModeIndividual, PublishDelay: 10 * time.Second}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{
		RunID: "run-1", Mode: ModeIndividual,
		Found: 4, Attempted: 3, Succeeded: 2, Degraded: 1, Failed: 1, Skipped: 1,
	}, summary)
	assert.Equal(t, 0, summary.ExitCode())

	names := make([]string, 0, len(h.publisher.one))
	for _, m := range h.publisher.one {
		names = append(names, m.Record.Name)
	}
	assert.Equal(t, []string{"A One", "B Two", "C Three"}, names)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, h.pauser.Delays)

	assert.True(t, h.ledger.Contains(h.identity(t, a)))
	assert.False(t, h.ledger.Contains(h.identity(t, b)))
	assert.True(t, h.ledger.Contains(h.identity(t, c)))
	assert.Len(t, h.notifier.Messages(), 2)
}

func TestIndividualDoesNotPauseForSkippedRecords(t *testing.T) {
	t.Parallel()

	a, b := record("A One"), record("B Two")
	h := newHarness(t, []fallen.BriefRecord{a, b})
	h.download.bad[a.ImageURL] = true

	summary, err := h.runner(Config{Mode: ModeIndividual, PublishDelay: time.Second}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, h.pauser.Delays)
}

func TestAlbumPostsUsableRecords(t *testing.T) {
	t.Parallel()

	a, b, c := record("A One"), record("B Two"), record("C Three")
	h := newHarness(t, []fallen.BriefRecord{a, b, c}, a)
	h.download.bad[b.ImageURL] = true
	h.publisher.album = &publish.AlbumResult{
		Result:   publish.Result{State: publish.StateAttached, PostID: "album-1"},
		Included: []int{1},
	}

	summary, err := h.runner(Config{Mode: ModeAlbum, Plan: search.DatePlan(now)}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.publisher.albumItems, 2)
	assert.Equal(t, "A One", h.publisher.albumItems[0].Record.Name)
	assert.Equal(t, "C Three", h.publisher.albumItems[1].Record.Name)
	assert.Contains(t, h.publisher.albumCaption, "On this day, May 27")

	assert.Equal(t, Summary{
		RunID: "run-1", Mode: ModeAlbum,
		Found: 3, Attempted: 2, Succeeded: 1, Failed: 1, Skipped: 1,
	}, summary)
	assert.True(t, h.ledger.Contains(h.identity(t, c)))
	assert.False(t, h.ledger.Contains(h.identity(t, b)))

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(PostedEvent)
	require.True(t, ok)
	assert.Equal(t, "C Three", event.Name)
	assert.Equal(t, "album-1", event.PostID)
}

func TestAlbumTotalFailure(t *testing.T) {
	t.Parallel()

	a, b := record("A One"), record("B Two")
	h := newHarness(t, []fallen.BriefRecord{a, b})
	h.publisher.album = &publish.AlbumResult{
		Result: publish.Result{State: publish.StateFailed, Err: publish.ErrNoUploads},
	}

	summary, err := h.runner(Config{Mode: ModeAlbum}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.ExitCode())
	assert.Equal(t, 0, h.ledger.Len())
}

func TestPrepareFallsBackToThumbnail(t *testing.T) {
	t.Parallel()

	rec := record("John Doe")
	h := newHarness(t, []fallen.BriefRecord{rec})
	detail := fallen.NewDetail(rec)
	detail.HighQualityImageURL = "https://s3.amazonaws.com/static/hq.jpg"
	h.download.bad[detail.HighQualityImageURL] = true

	r := h.runner(Config{})
	media, ok := r.prepare(context.Background(), detail, "id-1", "caption", r.logger)
	require.True(t, ok)
	assert.Equal(t, []byte("img:"+rec.ImageURL), media.Image)
}

func TestArchiveAndNotifyFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	rec := record("John Doe")
	h := newHarness(t, []fallen.BriefRecord{rec})
	h.archive.FailWith(errors.New("disk full"))
	h.notifier.FailWith(errors.New("topic missing"))

	summary, err := h.runner(Config{Mode: ModeSingle}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.True(t, h.ledger.Contains(h.identity(t, rec)))
}
