package chunking

import (
	"strings"
	"testing"
)

func TestNewSplitterDefaults(t *testing.T) {
	s := NewSplitter(0, -5)
	if s.ChunkSize != DefaultChunkSize || s.Overlap != 0 {
		t.Fatalf("unexpected splitter %+v", s)
	}
	s = NewSplitter(100, 100)
	if s.Overlap != 25 {
		t.Fatalf("expected overlap clamp to 25, got %d", s.Overlap)
	}
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	got := NewSplitter(1024, 200).Split("  laptop with 16GB RAM  ")
	if len(got) != 1 || got[0] != "laptop with 16GB RAM" {
		t.Fatalf("unexpected chunks %q", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := NewSplitter(10, 2).Split(" \n\t "); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}

func TestSplitRespectsSizeAndKeepsWordsWhole(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 20)
	chunks := NewSplitter(40, 10).Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	words := map[string]bool{"alpha": true, "beta": true, "gamma": true, "delta": true}
	for _, chunk := range chunks {
		if len([]rune(chunk)) > 40 {
			t.Fatalf("chunk exceeds size: %q", chunk)
		}
		for _, w := range strings.Fields(chunk) {
			if !words[w] {
				t.Fatalf("word split across chunks: %q in %q", w, chunk)
			}
		}
	}
}

func TestSplitOverlapSharesText(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven twelve"
	chunks := NewSplitter(24, 8).Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %q", chunks)
	}
	first := strings.Fields(chunks[0])
	if !strings.Contains(chunks[1], first[len(first)-1]) {
		t.Fatalf("expected overlap between %q and %q", chunks[0], chunks[1])
	}
}

func TestSplitWithoutWhitespaceFallsBackToHardCut(t *testing.T) {
	chunks := NewSplitter(10, 0).Split(strings.Repeat("x", 25))
	if len(chunks) != 3 || len(chunks[0]) != 10 || len(chunks[2]) != 5 {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}
