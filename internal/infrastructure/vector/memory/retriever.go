// Package memory serves similarity search over one loaded index held in
// process memory.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type entry struct {
	record domain.IndexRecord
	norm   float64
	sparse sparseVector
}

// Retriever is immutable after construction and safe for concurrent use.
type Retriever struct {
	dim     int
	entries []entry
}

func New(index *domain.Index) (*Retriever, error) {
	if index == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "build retriever", fmt.Errorf("index is nil"))
	}

	r := &Retriever{
		dim:     index.Meta.EmbedDim,
		entries: make([]entry, 0, len(index.Records)),
	}
	for i, rec := range index.Records {
		if r.dim == 0 {
			r.dim = len(rec.Vector)
		}
		if len(rec.Vector) != r.dim {
			return nil, domain.WrapError(domain.ErrIndexCorrupt, "build retriever",
				fmt.Errorf("record %d has dimension %d, want %d", i, len(rec.Vector), r.dim))
		}
		r.entries = append(r.entries, entry{
			record: rec,
			norm:   norm(rec.Vector),
			sparse: encodeSparseDocument(rec.Text, rec.Source),
		})
	}
	return r, nil
}

func (r *Retriever) Len() int {
	return len(r.entries)
}

// Search ranks every record by cosine similarity to queryVector.
func (r *Retriever) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.RetrievedChunk, error) {
	if len(r.entries) == 0 || limit <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	if len(queryVector) != r.dim {
		return nil, domain.WrapError(domain.ErrIndexIncompatible, "vector search",
			fmt.Errorf("query dimension %d, index dimension %d", len(queryVector), r.dim))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qNorm := norm(queryVector)
	scored := make([]domain.RetrievedChunk, 0, len(r.entries))
	for _, e := range r.entries {
		score := 0.0
		if qNorm > 0 && e.norm > 0 {
			score = dot(queryVector, e.record.Vector) / (qNorm * e.norm)
		}
		scored = append(scored, toChunk(e.record, score))
	}
	return topN(scored, limit), nil
}

// SearchLexical ranks records by BM25-weighted term overlap with queryText.
// Records sharing no term with the query are not returned.
func (r *Retriever) SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error) {
	query := encodeSparseQuery(queryText)
	if len(r.entries) == 0 || limit <= 0 || len(query.Indices) == 0 {
		return []domain.RetrievedChunk{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored := make([]domain.RetrievedChunk, 0, len(r.entries))
	for _, e := range r.entries {
		score := e.sparse.dot(query)
		if score <= 0 {
			continue
		}
		scored = append(scored, toChunk(e.record, score))
	}
	return topN(scored, limit), nil
}

func toChunk(rec domain.IndexRecord, score float64) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		DocumentID: rec.DocumentID,
		Source:     rec.Source,
		ChunkIndex: rec.ChunkIndex,
		Text:       rec.Text,
		Score:      score,
	}
}

func topN(chunks []domain.RetrievedChunk, limit int) []domain.RetrievedChunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
