package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/usage"
	"github.com/kirillkom/docqa/internal/infrastructure/llm"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/httpjson"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultChatModel  = "gpt-4.1-nano"
	DefaultEmbedModel = "text-embedding-3-small"
)

type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	http        *httpjson.Client
	chatModel   string
	embedModel  string
	temperature float64
	executor    *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrMissingCredential, "openai client", errors.New("OPENAI_API_KEY is not set"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		http:        httpjson.New("openai", cfg.BaseURL, cfg.Timeout, httpjson.WithBearerToken(cfg.APIKey)),
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
		executor:    executor,
	}, nil
}

func (c *Client) ChatModel() string  { return c.chatModel }
func (c *Client) EmbedModel() string { return c.embedModel }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req llm.Completion) (string, error) {
	temperature := c.temperature
	body := chatRequest{
		Model:       c.chatModel,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: &temperature,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	operation := "openai.chat." + req.Operation
	resp, err := resilience.Run(ctx, c.executor, operation, func(ctx context.Context) (chatResponse, error) {
		var out chatResponse
		err := c.http.Post(ctx, "/chat/completions", body, &out, "chat")
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return "", httpjson.WrapError(operation, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
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

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embeddingRequest{Model: e.client.embedModel, Input: texts}
	resp, err := resilience.Run(ctx, e.client.executor, "openai.embed", func(ctx context.Context) (embeddingResponse, error) {
		var out embeddingResponse
		err := e.client.http.Post(ctx, "/embeddings", body, &out, "embed")
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return nil, httpjson.WrapError("openai embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vectors[i] = item.Embedding
	}

	tokens := resp.Usage.PromptTokens
	if tokens == 0 {
		for _, text := range texts {
			tokens += usage.EstimateTokens(text)
		}
	}
	usage.FromContext(ctx).AddEmbedding(tokens)
	return vectors, nil
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
