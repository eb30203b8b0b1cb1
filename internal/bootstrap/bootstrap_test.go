package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
)

func newOllamaFake(t *testing.T, embedCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			embedCalls.Add(1)
			var req struct {
				Input []string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode embed request: %v", err)
			}
			vectors := make([][]float32, len(req.Input))
			for i, text := range req.Input {
				vectors[i] = []float32{float32(len(text)), 1, 0.5}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors, "prompt_eval_count": 4 * len(req.Input)})
		case "/api/generate":
			var req struct {
				Format string `json:"format"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode generate request: %v", err)
			}
			response := "The store sells the ThinkPad X1."
			if req.Format == "json" {
				response = `{"items":[{"sub_question":"Which laptops are sold?","tool_name":"store_laptop"}]}`
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"response": response, "prompt_eval_count": 10, "eval_count": 5})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testConfig(t *testing.T, ollamaURL string) config.Config {
	t.Helper()
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "laptops.txt"), []byte("ThinkPad X1 Carbon, 16GB RAM, 1500 USD"), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return config.Config{
		LLMProvider:           config.ProviderOllama,
		OllamaURL:             ollamaURL,
		OllamaGenModel:        "llama3",
		OllamaEmbedModel:      "nomic",
		IndexStore:            config.IndexStoreFile,
		ChunkSize:             1024,
		ChunkOverlap:          200,
		EmbedBatchSize:        16,
		RAGTopK:               3,
		RAGRetrievalMode:      "semantic",
		LLMCallTimeoutSeconds: 5,
		QueryTimeoutSeconds:   30,
		RetryMaxAttempts:      1,
		Tools: []config.ToolConfig{{
			Name:        "store_laptop",
			Description: "laptops for sale",
			DataDir:     dataDir,
			StorageDir:  filepath.Join(t.TempDir(), "storage"),
		}},
	}
}

func TestLoadEngineRebuildsThenReusesIndex(t *testing.T) {
	var embedCalls atomic.Int32
	server := newOllamaFake(t, &embedCalls)
	defer server.Close()

	cfg := testConfig(t, server.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	engine, err := app.LoadEngine(context.Background())
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if embedCalls.Load() != 1 {
		t.Fatalf("expected one embed batch during rebuild, got %d", embedCalls.Load())
	}

	resp, err := engine.Answer(context.Background(), "What laptops do you have?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Answer != "The store sells the ThinkPad X1." {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	if len(resp.SubQuestions) != 1 || resp.SubQuestions[0] != "Which laptops are sold?" {
		t.Fatalf("unexpected sub-questions %q", resp.SubQuestions)
	}
	if resp.Usage.EmbeddingTokens != 4 || resp.Usage.LLMTokens() != 45 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	second, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer second.Close()
	before := embedCalls.Load()
	if _, err := second.LoadEngine(context.Background()); err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if embedCalls.Load() != before {
		t.Fatalf("expected persisted index to be loaded without embedding")
	}
}

func TestReindexForcesRebuild(t *testing.T) {
	var embedCalls atomic.Int32
	server := newOllamaFake(t, &embedCalls)
	defer server.Close()

	app, err := New(context.Background(), testConfig(t, server.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if _, err := app.LoadEngine(context.Background()); err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	acquired, err := app.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if len(acquired) != 1 || !acquired[0].Rebuilt || embedCalls.Load() != 2 {
		t.Fatalf("expected forced rebuild, got %+v after %d embed calls", acquired, embedCalls.Load())
	}
}

func TestNewRejectsMissingOpenAIKey(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.LLMProvider = config.ProviderOpenAI
	if _, err := New(context.Background(), cfg, nil); !domain.IsKind(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestLoadEngineSurfacesEmptySource(t *testing.T) {
	server := newOllamaFake(t, new(atomic.Int32))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Tools[0].DataDir = t.TempDir()
	app, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if _, err := app.LoadEngine(context.Background()); !domain.IsKind(err, domain.ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
}
