package ports

import (
	"context"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// QueryService is the inbound contract shared by every front end.
type QueryService interface {
	Answer(ctx context.Context, question string) (*domain.QueryResponse, error)
}

// IndexAcquirer loads a persisted index or rebuilds it from a source directory.
type IndexAcquirer interface {
	Acquire(ctx context.Context, storagePath, sourcePath string) (*domain.AcquiredIndex, error)
	Rebuild(ctx context.Context, storagePath, sourcePath string) (*domain.AcquiredIndex, error)
}
