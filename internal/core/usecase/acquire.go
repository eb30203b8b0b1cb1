package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
)

const defaultEmbedBatchSize = 64

type AcquireIndexUseCase struct {
	store     ports.IndexStore
	source    ports.DocumentSource
	chunker   ports.Chunker
	embedder  ports.Embedder
	expected  domain.IndexMeta
	batchSize int
	events    ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type AcquireOption func(*AcquireIndexUseCase)

func WithAcquireEvents(events ports.EventPublisher) AcquireOption {
	return func(uc *AcquireIndexUseCase) {
		uc.events = events
	}
}

func WithAcquireLogger(logger *slog.Logger) AcquireOption {
	return func(uc *AcquireIndexUseCase) {
		if logger != nil {
			uc.logger = logger
		}
	}
}

func WithEmbedBatchSize(size int) AcquireOption {
	return func(uc *AcquireIndexUseCase) {
		if size > 0 {
			uc.batchSize = size
		}
	}
}

// NewAcquireIndexUseCase builds the acquirer. expected describes the
// embedding and chunking settings a loaded index must match to be reused.
func NewAcquireIndexUseCase(
	store ports.IndexStore,
	source ports.DocumentSource,
	chunker ports.Chunker,
	embedder ports.Embedder,
	expected domain.IndexMeta,
	opts ...AcquireOption,
) *AcquireIndexUseCase {
	uc := &AcquireIndexUseCase{
		store:     store,
		source:    source,
		chunker:   chunker,
		embedder:  embedder,
		expected:  expected,
		batchSize: defaultEmbedBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *AcquireIndexUseCase) Acquire(ctx context.Context, storagePath, sourcePath string) (*domain.AcquiredIndex, error) {
	unlock := uc.lockPath(storagePath)
	defer unlock()

	index, err := uc.store.Load(ctx, storagePath)
	var reason string
	switch {
	case err == nil:
		if index.Meta.Compatible(uc.expected) {
			uc.logger.Info("index_loaded",
				"storage_path", storagePath,
				"records", len(index.Records),
				"documents", index.Meta.DocumentCount,
			)
			return &domain.AcquiredIndex{Index: index, StoragePath: storagePath}, nil
		}
		reason = fmt.Sprintf("index settings differ from configuration (model=%s chunk=%d/%d)",
			index.Meta.EmbedModel, index.Meta.ChunkSize, index.Meta.ChunkOverlap)
	case domain.IsRecoverableIndexError(err):
		reason = err.Error()
	default:
		return nil, fmt.Errorf("load index %s: %w", storagePath, err)
	}

	uc.logger.Warn("index_rebuild_required", "storage_path", storagePath, "reason", reason)
	return uc.rebuild(ctx, storagePath, sourcePath, reason)
}

func (uc *AcquireIndexUseCase) Rebuild(ctx context.Context, storagePath, sourcePath string) (*domain.AcquiredIndex, error) {
	unlock := uc.lockPath(storagePath)
	defer unlock()
	return uc.rebuild(ctx, storagePath, sourcePath, "rebuild requested")
}

func (uc *AcquireIndexUseCase) rebuild(ctx context.Context, storagePath, sourcePath, reason string) (*domain.AcquiredIndex, error) {
	started := uc.now()
	buildCounter := usage.NewCounter()
	buildCtx := usage.WithCounter(ctx, buildCounter)

	docs, err := uc.loadDocuments(buildCtx, sourcePath)
	if err != nil {
		return nil, err
	}

	records, err := uc.chunkDocuments(docs)
	if err != nil {
		return nil, err
	}

	if err := uc.embedRecords(buildCtx, records); err != nil {
		return nil, err
	}

	embedTokens := buildCounter.Snapshot().EmbeddingTokens
	if outer, ok := usage.CounterFromContext(ctx); ok {
		outer.AddEmbedding(embedTokens)
	}

	meta := uc.expected
	meta.FormatVersion = domain.IndexFormatVersion
	meta.EmbedDim = len(records[0].Vector)
	meta.DocumentCount = len(docs)
	meta.EmbeddingTokens = embedTokens
	meta.CreatedAt = uc.now().UTC()
	index := &domain.Index{Meta: meta, Records: records}

	if err := uc.store.Save(ctx, storagePath, index); err != nil {
		return nil, fmt.Errorf("persist index %s: %w", storagePath, err)
	}

	uc.logger.Info("index_rebuilt",
		"storage_path", storagePath,
		"source_path", sourcePath,
		"documents", len(docs),
		"records", len(records),
		"embedding_tokens", embedTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	uc.publishRebuilt(ctx, storagePath, reason, index)

	return &domain.AcquiredIndex{
		Index:         index,
		StoragePath:   storagePath,
		Rebuilt:       true,
		RebuildReason: reason,
	}, nil
}

func (uc *AcquireIndexUseCase) loadDocuments(ctx context.Context, sourcePath string) ([]domain.Document, error) {
	docs, err := uc.source.Load(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("load documents from %s: %w", sourcePath, err)
	}
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrNoDocuments, "load documents", fmt.Errorf("source %s is empty", sourcePath))
	}
	return docs, nil
}

func (uc *AcquireIndexUseCase) chunkDocuments(docs []domain.Document) ([]domain.IndexRecord, error) {
	records := make([]domain.IndexRecord, 0, len(docs))
	for _, doc := range docs {
		for idx, chunk := range uc.chunker.Split(doc.Content) {
			records = append(records, domain.IndexRecord{
				DocumentID: doc.ID,
				Source:     doc.Source,
				ChunkIndex: idx,
				Text:       chunk,
			})
		}
	}
	if len(records) == 0 {
		return nil, domain.WrapError(domain.ErrNoDocuments, "chunk documents", errors.New("chunking produced zero chunks"))
	}
	return records, nil
}

func (uc *AcquireIndexUseCase) embedRecords(ctx context.Context, records []domain.IndexRecord) error {
	for start := 0; start < len(records); start += uc.batchSize {
		end := start + uc.batchSize
		if end > len(records) {
			end = len(records)
		}

		texts := make([]string, 0, end-start)
		for _, rec := range records[start:end] {
			texts = append(texts, rec.Text)
		}

		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed chunks %d-%d: got %d vectors for %d texts", start, end, len(vectors), len(texts))
		}
		for i, vec := range vectors {
			if len(vec) == 0 {
				return fmt.Errorf("embed chunk %d: empty vector", start+i)
			}
			records[start+i].Vector = vec
		}
	}
	return nil
}

func (uc *AcquireIndexUseCase) publishRebuilt(ctx context.Context, storagePath, reason string, index *domain.Index) {
	if uc.events == nil {
		return
	}
	event := domain.IndexRebuiltEvent{
		ID:          uuid.NewString(),
		Type:        domain.EventIndexRebuilt,
		StoragePath: storagePath,
		Reason:      reason,
		Documents:   index.Meta.DocumentCount,
		Records:     len(index.Records),
		EmbedTokens: index.Meta.EmbeddingTokens,
		At:          index.Meta.CreatedAt,
	}
	if err := uc.events.PublishIndexRebuilt(ctx, event); err != nil {
		uc.logger.Warn("index_event_publish_failed", "storage_path", storagePath, "error", err)
	}
}

func (uc *AcquireIndexUseCase) lockPath(storagePath string) func() {
	uc.locksMu.Lock()
	lock, ok := uc.locks[storagePath]
	if !ok {
		lock = &sync.Mutex{}
		uc.locks[storagePath] = lock
	}
	uc.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}
