package enrich

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/y3shua/honor-the-fallen/internal/detector"
	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/fetcher"
	"github.com/y3shua/honor-the-fallen/internal/policy/pacing"
)

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]fetcher.Response
	errs  map[string]error
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.URL)
	if err := s.errs[req.URL]; err != nil {
		return fetcher.Response{}, err
	}
	if resp, ok := s.pages[req.URL]; ok {
		return resp, nil
	}
	return fetcher.Response{URL: req.URL, StatusCode: http.StatusNotFound}, nil
}

func page(url, body string) fetcher.Response {
	return fetcher.Response{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}
}

func newTestEnricher(t *testing.T, f fetcher.Fetcher, cfg Config, pauser pacing.Pauser) *Enricher {
	t.Helper()
	e, err := New(f, detector.NewHeuristic(nil, nil), nil, cfg, pauser, nil)
	require.NoError(t, err)
	return e
}

func brief(link string) fallen.BriefRecord {
	return fallen.BriefRecord{
		Name:            "John A. Doe",
		DateOfDeathText: "June 16, 2004",
		ProfileLink:     link,
		ImageURL:        "https://thefallen.militarytimes.com/thumbs/doe.jpg",
	}
}

func TestEnrichFullProfile(t *testing.T) {
	t.Parallel()

	const link = "https://thefallen.militarytimes.com/army-staff-sgt-john-a-doe/1"
	f := &stubFetcher{pages: map[string]fetcher.Response{link: page(link, profilePage)}}
	e := newTestEnricher(t, f, Config{HometownEnabled: true}, nil)

	d := e.Enrich(context.Background(), brief(link))

	assert.Equal(t, brief(link), d.BriefRecord)
	assert.Equal(t, "June 16, 2004", d.FormattedDate)
	assert.Equal(t, "Staff Sergeant", d.Rank)
	assert.Equal(t, "U.S. Army", d.Branch)
	assert.Equal(t, "St. Louis, Mo.", d.Hometown)
	assert.Equal(t, hqImage, d.BestImageURL())
	assert.True(t, d.Enriched())
}

func TestEnrichWithoutRegionLeavesFieldsAbsent(t *testing.T) {
	t.Parallel()

	const link = "https://thefallen.militarytimes.com/doe/2"
	f := &stubFetcher{pages: map[string]fetcher.Response{link: page(link, regionlessPage)}}
	e := newTestEnricher(t, f, Config{HometownEnabled: true}, nil)

	d := e.Enrich(context.Background(), brief(link))

	assert.False(t, d.Enriched())
	assert.Empty(t, d.Rank)
	assert.Empty(t, d.Branch)
	assert.Empty(t, d.Unit)
	assert.Empty(t, d.HighQualityImageURL)
	assert.Equal(t, "June 16, 2004", d.FormattedDate)
	assert.Equal(t, brief(link).ImageURL, d.BestImageURL())
}

func TestEnrichFailuresReturnBrief(t *testing.T) {
	t.Parallel()

	const (
		broken  = "https://thefallen.militarytimes.com/broken/3"
		blocked = "https://thefallen.militarytimes.com/blocked/4"
		missing = "https://thefallen.militarytimes.com/missing/5"
	)
	f := &stubFetcher{
		pages: map[string]fetcher.Response{
			blocked: page(blocked, `<html><body><div class="content-div">Access Denied. Army Sgt.</div></body></html>`),
		},
		errs: map[string]error{broken: errors.New("connection reset")},
	}
	e := newTestEnricher(t, f, Config{}, nil)

	for _, link := range []string{broken, blocked, missing, ""} {
		d := e.Enrich(context.Background(), brief(link))
		assert.False(t, d.Enriched(), link)
		assert.Equal(t, brief(link), d.BriefRecord, link)
		assert.Equal(t, "June 16, 2004", d.FormattedDate, link)
	}
	assert.Len(t, f.calls, 3)
}

func TestEnrichLogsBlockReasonAndOutcome(t *testing.T) {
	t.Parallel()

	const (
		full    = "https://thefallen.militarytimes.com/army-staff-sgt-john-a-doe/1"
		blocked = "https://thefallen.militarytimes.com/blocked/4"
	)
	f := &stubFetcher{pages: map[string]fetcher.Response{
		full:    page(full, profilePage),
		blocked: page(blocked, `<html><body>Access Denied</body></html>`),
	}}
	core, logs := observer.New(zap.DebugLevel)
	e, err := New(f, detector.NewHeuristic(nil, nil), nil, Config{}, nil, zap.New(core))
	require.NoError(t, err)

	e.Enrich(context.Background(), brief(blocked))
	e.Enrich(context.Background(), brief(full))

	unavailable := logs.FilterMessage("Profile page unavailable").All()
	require.Len(t, unavailable, 1)
	assert.Equal(t, "marker access denied", unavailable[0].ContextMap()["reason"])

	enriched := logs.FilterMessage("Profile enriched").All()
	require.Len(t, enriched, 1)
	assert.Equal(t, true, enriched[0].ContextMap()["enriched"])
}

func TestEnrichAllPreservesOrderAndPaces(t *testing.T) {
	t.Parallel()

	links := []string{
		"https://thefallen.militarytimes.com/a/1",
		"https://thefallen.militarytimes.com/b/2",
		"https://thefallen.militarytimes.com/c/3",
		"https://thefallen.militarytimes.com/d/4",
	}
	f := &stubFetcher{pages: map[string]fetcher.Response{links[2]: page(links[2], profilePage)}}
	pauser := &lockedRecorder{}
	e := newTestEnricher(t, f, Config{Workers: 3, Delay: 250 * time.Millisecond}, pauser)

	records := make([]fallen.BriefRecord, len(links))
	for i, l := range links {
		records[i] = brief(l)
		records[i].Name = l
	}
	out := e.EnrichAll(context.Background(), records)

	require.Len(t, out, len(records))
	for i := range records {
		assert.Equal(t, records[i].Name, out[i].Name)
	}
	assert.Equal(t, "Staff Sergeant", out[2].Rank)
	assert.Empty(t, out[0].Rank)
	assert.Len(t, pauser.delays(), len(records))
	assert.Equal(t, 250*time.Millisecond, pauser.delays()[0])
}

func TestEnrichAllCanceledContext(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{}
	e := newTestEnricher(t, f, Config{Workers: 2}, &lockedRecorder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.EnrichAll(ctx, []fallen.BriefRecord{brief("https://thefallen.militarytimes.com/a/1")})
	require.Len(t, out, 1)
	assert.Equal(t, "John A. Doe", out[0].Name)
	assert.Empty(t, f.calls)
}

type lockedRecorder struct {
	mu  sync.Mutex
	rec pacing.Recorder
}

func (l *lockedRecorder) Pause(ctx context.Context, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Pause(ctx, d)
}

func (l *lockedRecorder) delays() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.rec.Delays...)
}
