package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usecase"
	"github.com/kirillkom/docqa/internal/infrastructure/chunking"
	eventsnats "github.com/kirillkom/docqa/internal/infrastructure/events/nats"
	"github.com/kirillkom/docqa/internal/infrastructure/indexstore/localfs"
	"github.com/kirillkom/docqa/internal/infrastructure/indexstore/postgres"
	"github.com/kirillkom/docqa/internal/infrastructure/llm"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
	"github.com/kirillkom/docqa/internal/infrastructure/source/localdir"
	"github.com/kirillkom/docqa/internal/infrastructure/vector/memory"
	"github.com/kirillkom/docqa/internal/observability/metrics"
)

// App holds the wired collaborators shared by every front end.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Acquirer  *usecase.AcquireIndexUseCase
	Embedder  ports.Embedder
	Generator ports.AnswerGenerator
	Events    ports.EventPublisher
	// Publisher is the NATS connection behind Events, nil when NATS_URL is empty.
	Publisher *eventsnats.Publisher

	service      string
	indexMetrics *metrics.IndexMetrics
	closeFn      func()
}

type Option func(*App)

func WithIndexMetrics(service string, m *metrics.IndexMetrics) Option {
	return func(a *App) {
		a.service = service
		a.indexMetrics = m
	}
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	executor := resilience.NewExecutor(cfg.Resilience())

	var (
		completer llm.Completer
		embedder  ports.Embedder
	)
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		client := ollama.New(ollama.Config{
			BaseURL:     cfg.OllamaURL,
			GenModel:    cfg.OllamaGenModel,
			EmbedModel:  cfg.OllamaEmbedModel,
			Temperature: cfg.LLMTemperature,
		}, executor)
		completer = client
		embedder = ollama.NewEmbedder(client)
	default:
		client, err := openai.New(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			ChatModel:   cfg.OpenAIModel,
			EmbedModel:  cfg.OpenAIEmbedModel,
			Temperature: cfg.LLMTemperature,
		}, executor)
		if err != nil {
			return nil, err
		}
		completer = client
		embedder = openai.NewEmbedder(client)
	}

	var (
		store ports.IndexStore
		db    *sql.DB
	)
	switch cfg.IndexStore {
	case config.IndexStorePostgres:
		var err error
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pg := postgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = pg
	default:
		store = localfs.New()
	}

	var (
		events    ports.EventPublisher
		publisher *eventsnats.Publisher
	)
	if cfg.NATSURL != "" {
		var err error
		publisher, err = eventsnats.New(cfg.NATSURL, cfg.NATSSubject, eventsnats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		events = publisher
	}

	expected := domain.IndexMeta{
		EmbedProvider: cfg.EmbedProvider(),
		EmbedModel:    cfg.EmbedModel(),
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
	}
	acquirer := usecase.NewAcquireIndexUseCase(
		store,
		localdir.New(nil, localdir.WithLogger(logger)),
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		expected,
		usecase.WithAcquireEvents(events),
		usecase.WithAcquireLogger(logger),
		usecase.WithEmbedBatchSize(cfg.EmbedBatchSize),
	)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Acquirer:  acquirer,
		Embedder:  embedder,
		Generator: llm.NewGenerator(completer, cfg.MaxSubQuestions),
		Events:    events,
		Publisher: publisher,
		closeFn: func() {
			if publisher != nil {
				publisher.Close()
			}
			if db != nil {
				_ = db.Close()
			}
		},
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// LoadEngine acquires the index of every configured tool and builds the query
// engine over them. Acquisition is synchronous.
func (a *App) LoadEngine(ctx context.Context) (*usecase.SubQuestionEngine, error) {
	tools := make([]usecase.QueryTool, 0, len(a.Config.Tools))
	for _, tool := range a.Config.Tools {
		acquired, err := a.acquire(ctx, tool, false)
		if err != nil {
			return nil, err
		}
		retriever, err := memory.New(acquired.Index)
		if err != nil {
			return nil, fmt.Errorf("load index for tool %s: %w", tool.Name, err)
		}
		tools = append(tools, usecase.QueryTool{
			Descriptor: tool.Descriptor(),
			Retriever:  retriever,
			TopK:       a.Config.RAGTopK,
		})
	}

	return usecase.NewSubQuestionEngine(
		usecase.EngineSettings{
			TopK:         a.Config.RAGTopK,
			CallTimeout:  time.Duration(a.Config.LLMCallTimeoutSeconds) * time.Second,
			QueryTimeout: time.Duration(a.Config.QueryTimeoutSeconds) * time.Second,
			Retrieval: usecase.RetrievalSettings{
				Mode:       a.Config.RAGRetrievalMode,
				Candidates: a.Config.RAGHybridCandidates,
				RRFK:       a.Config.RAGFusionRRFK,
				RerankTopN: a.Config.RAGRerankTopN,
			},
		},
		a.Embedder,
		a.Generator,
		tools,
		usecase.WithEngineEvents(a.Events),
		usecase.WithEngineLogger(a.Logger),
	)
}

// Reindex forces a rebuild of every tool's index.
func (a *App) Reindex(ctx context.Context) ([]*domain.AcquiredIndex, error) {
	out := make([]*domain.AcquiredIndex, 0, len(a.Config.Tools))
	for _, tool := range a.Config.Tools {
		acquired, err := a.acquire(ctx, tool, true)
		if err != nil {
			return out, err
		}
		out = append(out, acquired)
	}
	return out, nil
}

func (a *App) acquire(ctx context.Context, tool config.ToolConfig, force bool) (*domain.AcquiredIndex, error) {
	start := time.Now()
	var (
		acquired *domain.AcquiredIndex
		err      error
	)
	if force {
		acquired, err = a.Acquirer.Rebuild(ctx, tool.StorageDir, tool.DataDir)
	} else {
		acquired, err = a.Acquirer.Acquire(ctx, tool.StorageDir, tool.DataDir)
	}
	duration := time.Since(start)
	if a.indexMetrics != nil {
		a.indexMetrics.ObserveAcquisition(a.service, tool.Name, acquired, duration, err)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire index for tool %s: %w", tool.Name, err)
	}

	a.Logger.Info("index_acquired",
		"tool", tool.Name,
		"storage_path", tool.StorageDir,
		"rebuilt", acquired.Rebuilt,
		"records", len(acquired.Index.Records),
		"duration_ms", duration.Milliseconds(),
	)
	return acquired, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
