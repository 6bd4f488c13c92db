// Package fetcher defines the HTTP fetch contract shared by the colly and
// headless implementations, plus the fallback chain that joins them.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Request describes one GET.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the outcome of a completed GET, whatever its status.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// OK reports whether the response carried a 200 status.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// ContentType returns the response Content-Type header.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Fetcher retrieves a URL. Transport failures are returned as errors; HTTP
// error statuses are returned as responses.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// BlockDetector decides whether a response is an upstream block page.
type BlockDetector interface {
	Blocked(resp Response) bool
}

// BlockReason asks d why resp was flagged. Detectors that cannot explain
// themselves yield "".
func BlockReason(d BlockDetector, resp Response) string {
	r, ok := d.(interface{ Reason(Response) string })
	if !ok {
		return ""
	}
	return r.Reason(resp)
}

// BrowserHeaders returns the header set sent with page requests.
func BrowserHeaders() http.Header {
	return http.Header{
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Cache-Control":             {"max-age=0"},
		"Dnt":                       {"1"},
		"Upgrade-Insecure-Requests": {"1"},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Sec-Fetch-Site":            {"none"},
		"Sec-Fetch-User":            {"?1"},
	}
}

// ImageHeaders returns the header set sent with image downloads.
func ImageHeaders(referer string) http.Header {
	h := http.Header{
		"Accept":          {"image/avif,image/webp,image/apng,image/*,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9"},
		"Sec-Fetch-Dest":  {"image"},
		"Sec-Fetch-Mode":  {"no-cors"},
		"Sec-Fetch-Site":  {"cross-site"},
	}
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

// Chain fetches with Primary and retries once with Fallback when the
// primary response looks like a block page.
type Chain struct {
	Primary  Fetcher
	Fallback Fetcher
	Detector BlockDetector
	Logger   *zap.Logger
}

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, req Request) (Response, error) {
	if c.Primary == nil {
		return Response{}, fmt.Errorf("primary fetcher is required")
	}
	resp, err := c.Primary.Fetch(ctx, req)
	if err != nil || c.Fallback == nil || c.Detector == nil || !c.Detector.Blocked(resp) {
		return resp, err
	}
	if c.Logger != nil {
		c.Logger.Info("Primary fetch blocked; retrying headless",
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode),
		)
	}
	fallback, ferr := c.Fallback.Fetch(ctx, req)
	if ferr != nil {
		if c.Logger != nil {
			c.Logger.Warn("Headless fallback failed", zap.String("url", req.URL), zap.Error(ferr))
		}
		return resp, nil
	}
	return fallback, nil
}
