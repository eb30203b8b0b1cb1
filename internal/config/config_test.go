package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LLM_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL", "LLM_TEMPERATURE", "DATA_DIR", "STORAGE_DIR",
		"TOOL_NAME", "TOOL_DESCRIPTION", "TOOLS_FILE", "INDEX_STORE", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"RAG_TOP_K", "RAG_RETRIEVAL_MODE", "CORS_ALLOWED_ORIGINS", "NATS_URL", "LLM_CALL_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMProvider != ProviderOpenAI || cfg.OpenAIModel != "gpt-4.1-nano" || cfg.LLMTemperature != 0.8 {
		t.Fatalf("unexpected llm defaults: %+v", cfg)
	}
	if cfg.RAGTopK != 3 || cfg.ChunkSize != 1024 || cfg.ChunkOverlap != 200 {
		t.Fatalf("unexpected retrieval defaults: top_k=%d chunk=%d/%d", cfg.RAGTopK, cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.CORSAllowedOrigins != "*" || cfg.NATSURL != "" {
		t.Fatalf("unexpected api defaults: cors=%q nats=%q", cfg.CORSAllowedOrigins, cfg.NATSURL)
	}
	if len(cfg.Tools) != 1 {
		t.Fatalf("expected one default tool, got %d", len(cfg.Tools))
	}
	tool := cfg.Tools[0]
	if tool.Name != "store_laptop" || tool.DataDir != "data4" || tool.StorageDir != "storage" || tool.Description == "" {
		t.Fatalf("unexpected default tool %+v", tool)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "Ollama")
	t.Setenv("LLM_TEMPERATURE", "0.1")
	t.Setenv("RAG_TOP_K", "5")
	t.Setenv("RAG_RETRIEVAL_MODE", "hybrid")
	t.Setenv("CHUNK_SIZE", "not-a-number")
	t.Setenv("LLM_CALL_TIMEOUT_SECONDS", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMProvider != ProviderOllama || cfg.LLMTemperature != 0.1 || cfg.RAGTopK != 5 || cfg.RAGRetrievalMode != "hybrid" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ChunkSize != 1024 {
		t.Fatalf("expected invalid int to fall back to default, got %d", cfg.ChunkSize)
	}
	if cfg.EmbedModel() != cfg.OllamaEmbedModel || cfg.ChatModel() != cfg.OllamaGenModel {
		t.Fatalf("expected ollama models to be selected")
	}
	if cfg.Resilience().AttemptTimeout != 15*time.Second {
		t.Fatalf("unexpected attempt timeout %v", cfg.Resilience().AttemptTimeout)
	}
}

func TestLoadToolsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  - name: store_laptop
    description: laptops
    data_dir: data4
    storage_dir: storage/laptops
  - name: store_phone
    description: phones
    data_dir: data5
    storage_dir: storage/phones
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write tools file: %v", err)
	}
	t.Setenv("TOOLS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Tools) != 2 || cfg.Tools[1].Name != "store_phone" || cfg.Tools[1].Descriptor().Description != "phones" {
		t.Fatalf("unexpected tools %+v", cfg.Tools)
	}
}

func TestLoadToolsFileRejectsSharedStorage(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  - {name: a, data_dir: d1, storage_dir: s}
  - {name: b, data_dir: d2, storage_dir: s}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write tools file: %v", err)
	}
	t.Setenv("TOOLS_FILE", path)

	if _, err := Load(); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateRequiresOpenAIKey(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); !domain.IsKind(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}

	cfg.OpenAIAPIKey = "sk-test-123456789"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsBadChunking(t *testing.T) {
	cfg := Config{LLMProvider: ProviderOllama, OllamaURL: "http://x", IndexStore: IndexStoreFile, ChunkSize: 100, ChunkOverlap: 100, Tools: []ToolConfig{{Name: "t"}}}
	if err := cfg.Validate(); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMaskedAPIKey(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "sk-abcdefghijkl"}
	if got := cfg.MaskedAPIKey(); got != "sk-a*******ijkl" {
		t.Fatalf("unexpected mask %q", got)
	}
	cfg.OpenAIAPIKey = "short"
	if got := cfg.MaskedAPIKey(); got != "*****" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestHTTPWriteTimeoutExceedsQueryTimeout(t *testing.T) {
	cfg := Config{QueryTimeoutSeconds: 300}
	if got := cfg.HTTPWriteTimeout(); got <= 300*time.Second {
		t.Fatalf("expected write timeout above query timeout, got %s", got)
	}
	if got := (Config{}).HTTPWriteTimeout(); got != 60*time.Second {
		t.Fatalf("expected 60s fallback, got %s", got)
	}
}
