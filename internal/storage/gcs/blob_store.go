// Package gcs archives photos in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

type objectWriter interface {
	io.Writer
	Close() error
	SetContentType(contentType string)
}

type storageWriter struct {
	*storage.Writer
}

func (w storageWriter) SetContentType(contentType string) {
	w.ContentType = contentType
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	newWriter func(ctx context.Context, bucket, object string) objectWriter
	bucket    string
	prefix    string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newBlobStore(func(ctx context.Context, bucket, object string) objectWriter {
		return storageWriter{Writer: client.Bucket(bucket).Object(object).NewWriter(ctx)}
	}, cfg)
}

func newBlobStore(newWriter func(context.Context, string, string) objectWriter, cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		newWriter: newWriter,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName applies the configured prefix to p.
func (s *BlobStore) ObjectName(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// PutObject uploads body and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, body io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := s.ObjectName(p)
	writer := s.newWriter(ctx, s.bucket, object)
	if contentType != "" {
		writer.SetContentType(contentType)
	}
	if _, err := io.Copy(writer, body); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
