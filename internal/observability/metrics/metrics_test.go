package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func scrape(t *testing.T, m *HTTPServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMiddlewareCountsRequests(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ask", nil))

	body := scrape(t, m)
	if !strings.Contains(body, `docqa_http_requests_total{method="POST",path="/ask",service="api",status="418"} 1`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
}

func TestRecordQueryTracksTokensAndSources(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordQuery("api", &domain.QueryResponse{
		SubQuestions: []string{"a", "b"},
		Sources: []domain.SourceAttribution{
			{ToolName: "store_laptop", Chunks: []domain.RetrievedChunk{{Text: "x"}}},
		},
		Usage: domain.TokenUsage{
			EmbeddingTokens: 7,
			LLM:             domain.LLMTokenUsage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25},
		},
	}, time.Second, nil)

	body := scrape(t, m)
	for _, want := range []string{
		`docqa_llm_tokens_total{kind="embedding",service="api"} 7`,
		`docqa_llm_tokens_total{kind="prompt",service="api"} 20`,
		`docqa_query_sources_total{service="api",tool="store_laptop"} 1`,
		`docqa_query_requests_total{service="api",status="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in:\n%s", want, body)
		}
	}
}

func TestIndexMetricsObserveAcquisition(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	idx := NewIndexMetrics(m.Registerer())
	idx.ObserveAcquisition("api", "store_laptop", &domain.AcquiredIndex{
		Index:   &domain.Index{Records: make([]domain.IndexRecord, 4)},
		Rebuilt: true,
	}, 2*time.Second, nil)

	body := scrape(t, m)
	if !strings.Contains(body, `docqa_index_acquisitions_total{result="rebuilt",service="api",tool="store_laptop"} 1`) {
		t.Fatalf("acquisition counter missing:\n%s", body)
	}
	if !strings.Contains(body, `docqa_index_records{service="api",tool="store_laptop"} 4`) {
		t.Fatalf("records gauge missing:\n%s", body)
	}
}
