package usecase

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const (
	RetrievalSemantic = "semantic"
	RetrievalHybrid   = "hybrid"
)

type RetrievalSettings struct {
	Mode       string
	Candidates int
	RRFK       int
	RerankTopN int
}

func (s RetrievalSettings) normalize(limit int) RetrievalSettings {
	out := s
	out.Mode = strings.ToLower(strings.TrimSpace(out.Mode))
	if out.Mode != RetrievalHybrid {
		out.Mode = RetrievalSemantic
	}
	if out.Candidates < limit {
		out.Candidates = limit * 4
	}
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	if out.RerankTopN <= 0 {
		out.RerankTopN = out.Candidates
	}
	return out
}

// fuseRRF merges ranked lists with reciprocal rank fusion, deduplicating by chunk.
func fuseRRF(rrfK int, lists ...[]domain.RetrievedChunk) []domain.RetrievedChunk {
	type candidate struct {
		chunk domain.RetrievedChunk
		score float64
	}

	acc := make(map[string]candidate)
	for _, chunks := range lists {
		for rank, chunk := range chunks {
			key := chunkKey(chunk)
			c, ok := acc[key]
			if !ok {
				c.chunk = chunk
			}
			c.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = c
		}
	}

	out := make([]domain.RetrievedChunk, 0, len(acc))
	for _, c := range acc {
		chunk := c.chunk
		chunk.Score = c.score
		out = append(out, chunk)
	}
	sortChunks(out)
	return out
}

// rerankByOverlap rescores the head of fused by blending the fused score with
// query term overlap and a hit on the source file name.
func rerankByOverlap(question string, fused []domain.RetrievedChunk, topN int) []domain.RetrievedChunk {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.RetrievedChunk, topN)
	copy(head, fused[:topN])
	terms := termSet(question)

	lo, hi := head[0].Score, head[0].Score
	for _, chunk := range head[1:] {
		lo = min(lo, chunk.Score)
		hi = max(hi, chunk.Score)
	}
	spread := hi - lo

	for i := range head {
		norm := 0.0
		switch {
		case spread > 0:
			norm = (head[i].Score - lo) / spread
		case head[i].Score > 0:
			norm = 1
		}
		head[i].Score = 0.60*norm + 0.30*termOverlap(terms, termSet(head[i].Text)) + 0.10*sourceHit(terms, head[i].Source)
	}
	sortChunks(head)

	return append(head, fused[topN:]...)
}

func truncateChunks(chunks []domain.RetrievedChunk, limit int) []domain.RetrievedChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

func sortChunks(chunks []domain.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}

func chunkKey(chunk domain.RetrievedChunk) string {
	if chunk.DocumentID != "" {
		return fmt.Sprintf("%s:%d", chunk.DocumentID, chunk.ChunkIndex)
	}
	return chunk.Source + "|" + chunk.Text
}

func termOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for term := range query {
		if _, ok := chunk[term]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sourceHit(query map[string]struct{}, source string) float64 {
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)))
	if len(query) == 0 || name == "" {
		return 0
	}
	for term := range query {
		if strings.Contains(name, term) {
			return 1
		}
	}
	return 0
}

// termSet lowercases s and splits it on anything that is not a letter or digit
// in any script.
func termSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
