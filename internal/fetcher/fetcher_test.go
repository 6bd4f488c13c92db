package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	resp  Response
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, _ Request) (Response, error) {
	s.calls++
	return s.resp, s.err
}

type statusDetector struct{}

func (statusDetector) Blocked(resp Response) bool { return resp.StatusCode != http.StatusOK }

type reasonDetector struct{ statusDetector }

func (reasonDetector) Reason(resp Response) string { return http.StatusText(resp.StatusCode) }

func TestBlockReason(t *testing.T) {
	t.Parallel()

	resp := Response{StatusCode: http.StatusForbidden}
	require.Equal(t, "Forbidden", BlockReason(reasonDetector{}, resp))
	require.Empty(t, BlockReason(statusDetector{}, resp))
}

func TestChainReturnsPrimaryWhenNotBlocked(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{resp: Response{StatusCode: http.StatusOK, Body: []byte("ok")}}
	fallback := &stubFetcher{}
	chain := &Chain{Primary: primary, Fallback: fallback, Detector: statusDetector{}, Logger: zap.NewNop()}

	resp, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.Zero(t, fallback.calls)
}

func TestChainUsesFallbackWhenBlocked(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{resp: Response{StatusCode: http.StatusForbidden}}
	fallback := &stubFetcher{resp: Response{StatusCode: http.StatusOK, UsedHeadless: true}}
	chain := &Chain{Primary: primary, Fallback: fallback, Detector: statusDetector{}, Logger: zap.NewNop()}

	resp, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)
	require.Equal(t, 1, fallback.calls)
}

func TestChainKeepsPrimaryWhenFallbackErrors(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{resp: Response{StatusCode: http.StatusForbidden}}
	fallback := &stubFetcher{err: errors.New("no chrome")}
	chain := &Chain{Primary: primary, Fallback: fallback, Detector: statusDetector{}}

	resp, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChainPropagatesPrimaryError(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{err: errors.New("timeout")}
	fallback := &stubFetcher{}
	chain := &Chain{Primary: primary, Fallback: fallback, Detector: statusDetector{}}

	_, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.Error(t, err)
	require.Zero(t, fallback.calls)
}

func TestHeaderSets(t *testing.T) {
	t.Parallel()

	require.Contains(t, BrowserHeaders().Get("Accept"), "text/html")
	img := ImageHeaders("https://thefallen.militarytimes.com/")
	require.Contains(t, img.Get("Accept"), "image/")
	require.Equal(t, "https://thefallen.militarytimes.com/", img.Get("Referer"))
	require.Empty(t, ImageHeaders("").Get("Referer"))
}
