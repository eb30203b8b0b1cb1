package httpadapter

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
	"github.com/kirillkom/docqa/internal/observability/metrics"
)

const maxAskBodyBytes = 64 << 10

type Router struct {
	cfg     config.Config
	queryUC ports.QueryService
	metrics *metrics.HTTPServerMetrics
	service string
	logger  *slog.Logger
}

type RouterOption func(*Router)

func WithMetrics(service string, m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.service = service
		rt.metrics = m
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(cfg config.Config, queryUC ports.QueryService, opts ...RouterOption) *Router {
	rt := &Router{
		cfg:     cfg,
		queryUC: queryUC,
		service: "docqa-api",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/ask", rt.ask)
	mux.HandleFunc("/openapi.yaml", rt.openAPISpec)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = openAPIValidationMiddleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = corsMiddleware(handler, rt.cfg.CORSAllowedOrigins)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: "method_not_allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPISpec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: "method_not_allowed"})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpecYAML)
}

type askRequest struct {
	Question string `json:"question"`
}

// AskResponse is the public /ask payload; the MCP tool returns the same shape.
type AskResponse struct {
	Answer       string            `json:"answer"`
	SubQuestions []string          `json:"sub_questions"`
	TokenStats   domain.TokenUsage `json:"token_stats"`
}

func NewAskResponse(resp *domain.QueryResponse) AskResponse {
	subQuestions := resp.SubQuestions
	if subQuestions == nil {
		subQuestions = []string{}
	}
	return AskResponse{
		Answer:       resp.Answer,
		SubQuestions: subQuestions,
		TokenStats:   resp.Usage,
	}
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: "method_not_allowed"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAskBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "invalid_input"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required", Code: "invalid_input"})
		return
	}

	// Each request owns its usage counter.
	ctx := usage.WithCounter(r.Context(), usage.NewCounter())
	start := time.Now()
	resp, err := rt.queryUC.Answer(ctx, req.Question)
	if rt.metrics != nil {
		rt.metrics.RecordQuery(rt.service, resp, time.Since(start), err)
	}
	if err != nil {
		rt.logger.Error("ask_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewAskResponse(resp))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), errorResponse{Error: err.Error(), Code: errorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
