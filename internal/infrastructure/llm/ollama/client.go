package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/usage"
	"github.com/kirillkom/docqa/internal/infrastructure/llm"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/httpjson"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL     string
	GenModel    string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	http        *httpjson.Client
	genModel    string
	embedModel  string
	temperature float64
	executor    *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		http:        httpjson.New("ollama", cfg.BaseURL, cfg.Timeout),
		genModel:    cfg.GenModel,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
		executor:    executor,
	}
}

func (c *Client) GenModel() string   { return c.genModel }
func (c *Client) EmbedModel() string { return c.embedModel }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete implements llm.Completer on top of /api/generate.
func (c *Client) Complete(ctx context.Context, req llm.Completion) (string, error) {
	body := generateRequest{
		Model:   c.genModel,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: map[string]any{"temperature": c.temperature},
	}
	if req.JSON {
		body.Format = "json"
	}

	operation := "ollama.generate." + req.Operation
	resp, err := resilience.Run(ctx, c.executor, operation, func(ctx context.Context) (generateResponse, error) {
		var out generateResponse
		err := c.http.Post(ctx, "/api/generate", body, &out, "generate")
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return "", httpjson.WrapError(operation, err)
	}

	text := strings.TrimSpace(resp.Response)
	prompt, completion := resp.PromptEvalCount, resp.EvalCount
	if prompt == 0 && completion == 0 {
		prompt, completion = usage.EstimateTokens(req.Prompt), usage.EstimateTokens(text)
	}
	usage.FromContext(ctx).AddLLM(prompt, completion)
	return text, nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embedRequest{Model: e.client.embedModel, Input: texts}
	resp, err := resilience.Run(ctx, e.client.executor, "ollama.embed", func(ctx context.Context) (embedResponse, error) {
		var out embedResponse
		err := e.client.http.Post(ctx, "/api/embed", body, &out, "embed")
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return nil, httpjson.WrapError("ollama embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	tokens := resp.PromptEvalCount
	if tokens == 0 {
		for _, text := range texts {
			tokens += usage.EstimateTokens(text)
		}
	}
	usage.FromContext(ctx).AddEmbedding(tokens)
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
