package domain

import "time"

const IndexFormatVersion = 1

type IndexMeta struct {
	FormatVersion   int       `json:"format_version"`
	EmbedProvider   string    `json:"embed_provider"`
	EmbedModel      string    `json:"embed_model"`
	EmbedDim        int       `json:"embed_dim"`
	ChunkSize       int       `json:"chunk_size"`
	ChunkOverlap    int       `json:"chunk_overlap"`
	DocumentCount   int       `json:"document_count"`
	EmbeddingTokens int       `json:"embedding_tokens"`
	CreatedAt       time.Time `json:"created_at"`
}

type IndexRecord struct {
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

type Index struct {
	Meta    IndexMeta     `json:"meta"`
	Records []IndexRecord `json:"records"`
}

// Compatible reports whether an index built with meta can serve queries
// for a process configured with want.
func (m IndexMeta) Compatible(want IndexMeta) bool {
	if m.FormatVersion != IndexFormatVersion {
		return false
	}
	if want.EmbedProvider != "" && m.EmbedProvider != want.EmbedProvider {
		return false
	}
	if want.EmbedModel != "" && m.EmbedModel != want.EmbedModel {
		return false
	}
	if want.ChunkSize > 0 && (m.ChunkSize != want.ChunkSize || m.ChunkOverlap != want.ChunkOverlap) {
		return false
	}
	return true
}

type AcquiredIndex struct {
	Index         *Index
	StoragePath   string
	Rebuilt       bool
	RebuildReason string
}
