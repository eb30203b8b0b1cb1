package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const IndexFile = "index.json"

// Store keeps one index per storage directory as <dir>/index.json.
type Store struct{}

func New() *Store {
	return &Store{}
}

func (s *Store) Load(_ context.Context, storagePath string) (*domain.Index, error) {
	path := filepath.Join(storagePath, IndexFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrIndexNotFound, "load index", fmt.Errorf("%s does not exist", path))
	}
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	var index domain.Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index", err)
	}
	if index.Meta.FormatVersion != domain.IndexFormatVersion {
		return nil, domain.WrapError(domain.ErrIndexIncompatible, "load index",
			fmt.Errorf("format version %d, want %d", index.Meta.FormatVersion, domain.IndexFormatVersion))
	}
	return &index, nil
}

// Save writes to a temp file in the same directory and renames it over the
// target, so readers see either the old or the new index.
func (s *Store) Save(_ context.Context, storagePath string, index *domain.Index) error {
	if index == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save index", errors.New("index is nil"))
	}
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	payload, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmp, err := os.CreateTemp(storagePath, IndexFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(storagePath, IndexFile)); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}
