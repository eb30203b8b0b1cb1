package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const namespace = "docqa"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queryTotal        *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	querySubQuestions *prometheus.HistogramVec
	queryNoContext    *prometheus.CounterVec
	querySourcesTotal *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total answered questions by status.",
		},
		[]string{"service", "status"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Question answering duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service"},
	)
	querySubQuestions := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "sub_questions",
			Help:      "Distribution of generated sub-questions per answered question.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		},
		[]string{"service"},
	)
	queryNoContext := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "no_context_total",
			Help:      "Total answered questions without any retrieved chunk.",
		},
		[]string{"service"},
	)
	querySourcesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "sources_total",
			Help:      "Total source attributions by tool.",
		},
		[]string{"service", "tool"},
	)
	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queryTotal,
		queryDuration,
		querySubQuestions,
		queryNoContext,
		querySourcesTotal,
		tokensTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		queryTotal:        queryTotal,
		queryDuration:     queryDuration,
		querySubQuestions: querySubQuestions,
		queryNoContext:    queryNoContext,
		querySourcesTotal: querySourcesTotal,
		tokensTotal:       tokensTotal,
	}
}

// Registerer lets other collectors (index acquisition) share the /metrics endpoint.
func (m *HTTPServerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RecordQuery observes one Answer call. resp may be nil when err is set.
func (m *HTTPServerMetrics) RecordQuery(service string, resp *domain.QueryResponse, duration time.Duration, err error) {
	if err != nil {
		m.queryTotal.WithLabelValues(service, "error").Inc()
		return
	}
	m.queryTotal.WithLabelValues(service, "success").Inc()
	m.queryDuration.WithLabelValues(service).Observe(duration.Seconds())
	if resp == nil {
		return
	}

	m.querySubQuestions.WithLabelValues(service).Observe(float64(len(resp.SubQuestions)))
	chunks := 0
	for _, src := range resp.Sources {
		m.querySourcesTotal.WithLabelValues(service, src.ToolName).Inc()
		chunks += len(src.Chunks)
	}
	if chunks == 0 {
		m.queryNoContext.WithLabelValues(service).Inc()
	}
	m.RecordTokenUsage(service, resp.Usage)
}

func (m *HTTPServerMetrics) RecordTokenUsage(service string, usage domain.TokenUsage) {
	if usage.EmbeddingTokens > 0 {
		m.tokensTotal.WithLabelValues(service, "embedding").Add(float64(usage.EmbeddingTokens))
	}
	if usage.LLM.PromptTokens > 0 {
		m.tokensTotal.WithLabelValues(service, "prompt").Add(float64(usage.LLM.PromptTokens))
	}
	if usage.LLM.CompletionTokens > 0 {
		m.tokensTotal.WithLabelValues(service, "completion").Add(float64(usage.LLM.CompletionTokens))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
