package ports

import (
	"context"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// DocumentSource enumerates documents under a source path.
type DocumentSource interface {
	Load(ctx context.Context, sourcePath string) ([]domain.Document, error)
}

// TextExtractor turns the raw bytes of one file into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, raw []byte) (string, error)
}

// IndexStore persists built indexes. Load reports missing, corrupt and
// incompatible payloads with the matching domain error kinds.
type IndexStore interface {
	Load(ctx context.Context, storagePath string) (*domain.Index, error)
	Save(ctx context.Context, storagePath string, index *domain.Index) error
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// Retriever searches one loaded index.
type Retriever interface {
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.RetrievedChunk, error)
	SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error)
}

// AnswerGenerator covers every LLM step of the sub-question workflow.
type AnswerGenerator interface {
	GenerateSubQuestions(ctx context.Context, question string, tools []domain.ToolDescriptor) ([]domain.SubQuestion, error)
	GenerateAnswer(ctx context.Context, question string, chunks []domain.RetrievedChunk) (string, error)
	SynthesizeAnswer(ctx context.Context, question string, sources []domain.SourceAttribution) (string, error)
}

// EventPublisher broadcasts usage and index lifecycle events.
type EventPublisher interface {
	PublishQueryAnswered(ctx context.Context, event domain.QueryAnsweredEvent) error
	PublishIndexRebuilt(ctx context.Context, event domain.IndexRebuiltEvent) error
}
