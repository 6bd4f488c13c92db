package photo

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
)

// ArchivePath is the object path for a normalized portrait.
func ArchivePath(day time.Time, id fallen.Identity) string {
	return path.Join("photos", day.Format("2006-01-02"), string(id)+".jpg")
}

// Archive writes data to store under ArchivePath and returns the stored URI.
func Archive(ctx context.Context, store fallen.BlobStore, day time.Time, id fallen.Identity, data []byte) (string, error) {
	uri, err := store.PutObject(ctx, ArchivePath(day, id), ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("archive photo %s: %w", id, err)
	}
	return uri, nil
}
