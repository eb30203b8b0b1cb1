package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
)

const defaultTopK = 3

type EngineSettings struct {
	TopK         int
	CallTimeout  time.Duration
	QueryTimeout time.Duration
	Retrieval    RetrievalSettings
}

// QueryTool binds a descriptor to the index it answers from.
type QueryTool struct {
	Descriptor domain.ToolDescriptor
	Retriever  ports.Retriever
	TopK       int
}

type SubQuestionEngine struct {
	settings  EngineSettings
	embedder  ports.Embedder
	generator ports.AnswerGenerator
	tools     []QueryTool
	byName    map[string]QueryTool
	events    ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

type EngineOption func(*SubQuestionEngine)

func WithEngineEvents(events ports.EventPublisher) EngineOption {
	return func(e *SubQuestionEngine) {
		e.events = events
	}
}

func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *SubQuestionEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewSubQuestionEngine(
	settings EngineSettings,
	embedder ports.Embedder,
	generator ports.AnswerGenerator,
	tools []QueryTool,
	opts ...EngineOption,
) (*SubQuestionEngine, error) {
	if len(tools) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "build query engine", errors.New("at least one tool is required"))
	}
	if settings.TopK <= 0 {
		settings.TopK = defaultTopK
	}

	normalized := make([]QueryTool, 0, len(tools))
	byName := make(map[string]QueryTool, len(tools))
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Descriptor.Name)
		tool.Descriptor.Name = name
		if name == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "build query engine", errors.New("tool name is required"))
		}
		if tool.Retriever == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "build query engine", fmt.Errorf("tool %s has no index", name))
		}
		if _, exists := byName[name]; exists {
			return nil, domain.WrapError(domain.ErrInvalidInput, "build query engine", fmt.Errorf("duplicate tool name %s", name))
		}
		byName[name] = tool
		normalized = append(normalized, tool)
	}

	e := &SubQuestionEngine{
		settings:  settings,
		embedder:  embedder,
		generator: generator,
		tools:     normalized,
		byName:    byName,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *SubQuestionEngine) Tools() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, 0, len(e.tools))
	for _, tool := range e.tools {
		out = append(out, tool.Descriptor)
	}
	return out
}

// Answer decomposes the question, answers every sub-question against its tool
// sequentially and synthesizes the final answer. Usage is accounted on the
// counter carried by ctx, or on a fresh one.
func (e *SubQuestionEngine) Answer(ctx context.Context, question string) (*domain.QueryResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer question", errors.New("question is required"))
	}

	started := e.now()
	counter, ok := usage.CounterFromContext(ctx)
	if !ok {
		counter = usage.NewCounter()
		ctx = usage.WithCounter(ctx, counter)
	}
	counter.Reset()

	if e.settings.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settings.QueryTimeout)
		defer cancel()
	}

	plan, err := e.decompose(ctx, question)
	if err != nil {
		return nil, err
	}

	sources, err := e.answerSubQuestions(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		sources, err = e.answerDirectly(ctx, question)
		if err != nil {
			return nil, err
		}
	}

	final, err := e.synthesize(ctx, question, sources)
	if err != nil {
		return nil, err
	}

	resp := &domain.QueryResponse{
		Answer:       final,
		Sources:      sources,
		SubQuestions: UniqueSubQuestions(sources),
		Usage:        counter.Snapshot(),
	}

	duration := time.Since(started)
	e.logger.Info("query_answered",
		"sub_questions", len(resp.SubQuestions),
		"sources", len(resp.Sources),
		"embedding_tokens", resp.Usage.EmbeddingTokens,
		"llm_tokens", resp.Usage.LLMTokens(),
		"duration_ms", duration.Milliseconds(),
	)
	e.publishAnswered(ctx, resp, duration)
	return resp, nil
}

func (e *SubQuestionEngine) decompose(ctx context.Context, question string) ([]domain.SubQuestion, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	generated, err := e.generator.GenerateSubQuestions(callCtx, question, e.Tools())
	if err != nil {
		return nil, fmt.Errorf("generate sub-questions: %w", err)
	}

	plan := make([]domain.SubQuestion, 0, len(generated))
	seen := make(map[domain.SubQuestion]struct{}, len(generated))
	for _, sq := range generated {
		sq.Question = strings.TrimSpace(sq.Question)
		sq.ToolName = strings.TrimSpace(sq.ToolName)
		if sq.Question == "" {
			continue
		}
		if _, dup := seen[sq]; dup {
			continue
		}
		seen[sq] = struct{}{}
		plan = append(plan, sq)
	}
	return plan, nil
}

func (e *SubQuestionEngine) answerSubQuestions(ctx context.Context, plan []domain.SubQuestion) ([]domain.SourceAttribution, error) {
	sources := make([]domain.SourceAttribution, 0, len(plan))
	for _, sq := range plan {
		tool, ok := e.byName[sq.ToolName]
		if !ok {
			e.logger.Warn("sub_question_unknown_tool", "tool", sq.ToolName, "sub_question", sq.Question)
			continue
		}

		source, err := e.queryTool(ctx, tool, sq.Question)
		if err != nil {
			return nil, fmt.Errorf("[%s] %s: %w", tool.Descriptor.Name, sq.Question, err)
		}
		subQuestion := sq.Question
		source.SubQuestion = &subQuestion
		sources = append(sources, source)
	}
	return sources, nil
}

func (e *SubQuestionEngine) answerDirectly(ctx context.Context, question string) ([]domain.SourceAttribution, error) {
	sources := make([]domain.SourceAttribution, 0, len(e.tools))
	for _, tool := range e.tools {
		source, err := e.queryTool(ctx, tool, question)
		if err != nil {
			return nil, fmt.Errorf("[%s] %s: %w", tool.Descriptor.Name, question, err)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func (e *SubQuestionEngine) queryTool(ctx context.Context, tool QueryTool, question string) (domain.SourceAttribution, error) {
	chunks, err := e.retrieve(ctx, tool, question)
	if err != nil {
		return domain.SourceAttribution{}, err
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	answer, err := e.generator.GenerateAnswer(callCtx, question, chunks)
	if err != nil {
		return domain.SourceAttribution{}, fmt.Errorf("generate answer: %w", err)
	}

	return domain.SourceAttribution{
		ToolName: tool.Descriptor.Name,
		Answer:   strings.TrimSpace(answer),
		Chunks:   chunks,
	}, nil
}

func (e *SubQuestionEngine) retrieve(ctx context.Context, tool QueryTool, question string) ([]domain.RetrievedChunk, error) {
	embedCtx, cancel := e.callContext(ctx)
	defer cancel()
	vector, err := e.embedder.EmbedQuery(embedCtx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := tool.TopK
	if limit <= 0 {
		limit = e.settings.TopK
	}
	retrieval := e.settings.Retrieval.normalize(limit)
	if retrieval.Mode == RetrievalSemantic {
		chunks, err := tool.Retriever.Search(ctx, vector, limit)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		return chunks, nil
	}

	semantic, err := tool.Retriever.Search(ctx, vector, retrieval.Candidates)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	lexical, err := tool.Retriever.SearchLexical(ctx, question, retrieval.Candidates)
	if err != nil {
		return nil, fmt.Errorf("lexical search index: %w", err)
	}
	fused := fuseRRF(retrieval.RRFK, semantic, lexical)
	return truncateChunks(rerankByOverlap(question, fused, retrieval.RerankTopN), limit), nil
}

func (e *SubQuestionEngine) synthesize(ctx context.Context, question string, sources []domain.SourceAttribution) (string, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	answer, err := e.generator.SynthesizeAnswer(callCtx, question, sources)
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (e *SubQuestionEngine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.settings.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.settings.CallTimeout)
}

func (e *SubQuestionEngine) publishAnswered(ctx context.Context, resp *domain.QueryResponse, duration time.Duration) {
	if e.events == nil {
		return
	}
	event := domain.QueryAnsweredEvent{
		ID:           uuid.NewString(),
		Type:         domain.EventQueryAnswered,
		SubQuestions: len(resp.SubQuestions),
		Sources:      len(resp.Sources),
		Usage:        resp.Usage,
		DurationMS:   duration.Milliseconds(),
		At:           e.now().UTC(),
	}
	if err := e.events.PublishQueryAnswered(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn("query_event_publish_failed", "error", err)
	}
}

// UniqueSubQuestions returns the trimmed sub-question tags of sources in
// first-seen order without duplicates. The result is never nil.
func UniqueSubQuestions(sources []domain.SourceAttribution) []string {
	out := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, source := range sources {
		if source.SubQuestion == nil {
			continue
		}
		q := strings.TrimSpace(*source.SubQuestion)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
