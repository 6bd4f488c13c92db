// Package photo downloads portraits and normalizes them for upload.
package photo

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/fetcher"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
)

// DefaultMinBytes is the smallest payload accepted as a real image.
const DefaultMinBytes = 1024

var (
	// ErrTooSmall marks payloads below the minimum size.
	ErrTooSmall = errors.New("image payload too small")
	// ErrNotImage marks responses whose content type is not image/*.
	ErrNotImage = errors.New("response is not an image")
	// ErrUndecodable marks payloads no registered decoder accepts.
	ErrUndecodable = errors.New("image cannot be decoded")
)

// Downloader fetches image bytes and applies the acceptance checks.
type Downloader struct {
	fetcher  fetcher.Fetcher
	minBytes int
	referer  string
	logger   *zap.Logger
}

// NewDownloader constructs a Downloader. referer is sent with every request.
func NewDownloader(f fetcher.Fetcher, minBytes int, referer string, logger *zap.Logger) *Downloader {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{fetcher: f, minBytes: minBytes, referer: referer, logger: logger}
}

// Download returns the image bytes and their content type.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("download: empty url")
	}
	resp, err := d.fetcher.Fetch(ctx, fetcher.Request{URL: url, Headers: fetcher.ImageHeaders(d.referer)})
	if err != nil {
		metrics.ObserveImage("fetch_error")
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	if !resp.OK() {
		metrics.ObserveImage("bad_status")
		return nil, "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	contentType := resp.ContentType()
	if !isImageType(contentType) {
		metrics.ObserveImage("not_image")
		return nil, "", fmt.Errorf("download %s: %w (content type %q)", url, ErrNotImage, contentType)
	}
	if len(resp.Body) < d.minBytes {
		metrics.ObserveImage("too_small")
		return nil, "", fmt.Errorf("download %s: %w (%d bytes, minimum %d)", url, ErrTooSmall, len(resp.Body), d.minBytes)
	}
	d.logger.Debug("Image downloaded", zap.String("url", url), zap.Int("bytes", len(resp.Body)))
	metrics.ObserveImage("downloaded")
	return resp.Body, contentType, nil
}

func isImageType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
