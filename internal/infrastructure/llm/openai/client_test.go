package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/usage"
	"github.com/kirillkom/docqa/internal/infrastructure/llm"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(Config{APIKey: "sk-test", BaseURL: url, Temperature: 0.8}, resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil)
	if !domain.IsKind(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestCompleteRecordsUsageAndSendsJSONMode(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" {\"items\":[]} "}}],"usage":{"prompt_tokens":40,"completion_tokens":6,"total_tokens":46}}`))
	}))
	defer server.Close()

	counter := usage.NewCounter()
	ctx := usage.WithCounter(context.Background(), counter)
	got, err := newTestClient(t, server.URL).Complete(ctx, llm.Completion{Operation: "sub_questions", Prompt: "return JSON", JSON: true})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != `{"items":[]}` {
		t.Fatalf("unexpected content %q", got)
	}
	if captured.Model != DefaultChatModel || captured.Temperature == nil || *captured.Temperature != 0.8 {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format")
	}
	snap := counter.Snapshot()
	if snap.LLM.PromptTokens != 40 || snap.LLM.CompletionTokens != 6 || snap.LLMTokens() != 46 {
		t.Fatalf("unexpected usage %+v", snap.LLM)
	}
}

func TestEmbedOrdersByIndexAndRecordsUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":9,"total_tokens":9}}`))
	}))
	defer server.Close()

	counter := usage.NewCounter()
	ctx := usage.WithCounter(context.Background(), counter)
	vectors, err := NewEmbedder(newTestClient(t, server.URL)).Embed(ctx, []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("expected vectors ordered by index, got %v", vectors)
	}
	if counter.Snapshot().EmbeddingTokens != 9 {
		t.Fatalf("expected 9 embedding tokens, got %d", counter.Snapshot().EmbeddingTokens)
	}
}

func TestEmbedRetriesRateLimitThenWrapsTemporary(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(t, server.URL)).Embed(context.Background(), []string{"hello"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("expected API message in error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestCompleteMapsUnauthorized(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"Incorrect API key provided"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Complete(context.Background(), llm.Completion{Operation: "answer", Prompt: "p"})
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry on 401, got %d calls", calls)
	}
}
