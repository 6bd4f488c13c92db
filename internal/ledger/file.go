package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type fileLayout struct {
	PostedHeroes []string `json:"posted_heroes"`
}

// FileStore keeps the ledger in a JSON file.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the identity list. A missing or corrupt file loads as empty.
// Both the {"posted_heroes": [...]} layout and a bare JSON list are accepted.
func (s *FileStore) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err == nil {
		return layout.PostedHeroes, nil
	}
	// Older ledgers were a bare list.
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn("Ledger file corrupt, treating as empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return ids, nil
}

// Save replaces the file contents through a temp file and rename.
func (s *FileStore) Save(_ context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(fileLayout{PostedHeroes: ids}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
