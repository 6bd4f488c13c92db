package fallen

import (
	"context"
	"io"
	"time"
)

// Hasher computes deterministic digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore persists archived photos.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Notifier announces completed posts to downstream consumers.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
