package usage

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// Counter accumulates token usage for one query.
type Counter struct {
	mu       sync.Mutex
	snapshot domain.TokenUsage
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Reset() {
	c.mu.Lock()
	c.snapshot = domain.TokenUsage{}
	c.mu.Unlock()
}

func (c *Counter) Snapshot() domain.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Counter) AddEmbedding(tokens int) {
	if tokens <= 0 {
		return
	}
	c.mu.Lock()
	c.snapshot.EmbeddingTokens += tokens
	c.mu.Unlock()
}

func (c *Counter) AddLLM(promptTokens, completionTokens int) {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	c.mu.Lock()
	c.snapshot.LLM.PromptTokens += promptTokens
	c.snapshot.LLM.CompletionTokens += completionTokens
	c.snapshot.LLM.TotalTokens += promptTokens + completionTokens
	c.mu.Unlock()
}

type counterContextKey struct{}

func WithCounter(ctx context.Context, c *Counter) context.Context {
	return context.WithValue(ctx, counterContextKey{}, c)
}

// FromContext returns the counter carried by ctx. Without one it returns a
// detached counter, so recording never needs a nil check.
func FromContext(ctx context.Context) *Counter {
	if ctx != nil {
		if c, ok := ctx.Value(counterContextKey{}).(*Counter); ok && c != nil {
			return c
		}
	}
	return NewCounter()
}

// CounterFromContext is FromContext without the detached fallback.
func CounterFromContext(ctx context.Context) (*Counter, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(counterContextKey{}).(*Counter)
	return c, ok && c != nil
}

// EstimateTokens approximates a token count for providers that omit usage.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
