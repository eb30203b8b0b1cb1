package localdir

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/docqa/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/docqa/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/docqa/internal/infrastructure/extractor/xlsx"
)

// DefaultExtractors maps lower-case file extensions to the extractor that
// handles them.
func DefaultExtractors() map[string]ports.TextExtractor {
	text := plaintext.NewExtractor()
	return map[string]ports.TextExtractor{
		".txt":  text,
		".md":   text,
		".csv":  text,
		".json": text,
		".docx": docx.NewExtractor(),
		".pdf":  pdf.NewExtractor(),
		".xlsx": xlsx.NewExtractor(),
	}
}

type Source struct {
	extractors map[string]ports.TextExtractor
	recursive  bool
	logger     *slog.Logger
}

type Option func(*Source)

func WithRecursive(recursive bool) Option {
	return func(s *Source) {
		s.recursive = recursive
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(extractors map[string]ports.TextExtractor, opts ...Option) *Source {
	if extractors == nil {
		extractors = DefaultExtractors()
	}
	s := &Source{
		extractors: extractors,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Load(ctx context.Context, sourcePath string) ([]domain.Document, error) {
	info, err := os.Stat(sourcePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrNoDocuments, "load documents", fmt.Errorf("source directory %q does not exist", sourcePath))
	}
	if err != nil {
		return nil, fmt.Errorf("stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load documents", fmt.Errorf("%q is not a directory", sourcePath))
	}

	paths, err := s.listFiles(sourcePath)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ext := strings.ToLower(filepath.Ext(rel))
		extractor, ok := s.extractors[ext]
		if !ok {
			s.logger.Debug("document_skipped", "source", rel, "reason", "unsupported extension")
			continue
		}

		raw, err := os.ReadFile(filepath.Join(sourcePath, rel))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		text, err := extractor.Extract(ctx, rel, raw)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", rel, err)
		}
		if strings.TrimSpace(text) == "" {
			s.logger.Debug("document_skipped", "source", rel, "reason", "empty")
			continue
		}

		docs = append(docs, domain.Document{
			ID:      documentID(rel),
			Source:  rel,
			Content: text,
		})
	}

	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrNoDocuments, "load documents", fmt.Errorf("no readable documents in %q", sourcePath))
	}
	s.logger.Info("documents_loaded", "source_path", sourcePath, "documents", len(docs))
	return docs, nil
}

func (s *Source) listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !s.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list source directory: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func documentID(rel string) string {
	sum := sha1.Sum([]byte(rel))
	return hex.EncodeToString(sum[:])
}
