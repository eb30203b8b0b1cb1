package llm

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/kirillkom/docqa/internal/core/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"deref": func(s *string) string { return *s },
}).ParseFS(promptFS, "prompts/*.tmpl"))

const defaultMaxSubQuestions = 8

// Completion is one prompt sent to a provider. JSON asks the provider for a
// JSON-only reply when it supports that mode.
type Completion struct {
	Operation string
	Prompt    string
	JSON      bool
}

// Completer is implemented by every provider client.
type Completer interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// Generator renders the workflow prompts and parses their replies.
type Generator struct {
	completer       Completer
	maxSubQuestions int
}

func NewGenerator(completer Completer, maxSubQuestions int) *Generator {
	if maxSubQuestions <= 0 {
		maxSubQuestions = defaultMaxSubQuestions
	}
	return &Generator{completer: completer, maxSubQuestions: maxSubQuestions}
}

func (g *Generator) GenerateSubQuestions(ctx context.Context, question string, tools []domain.ToolDescriptor) ([]domain.SubQuestion, error) {
	prompt, err := render("sub_questions.tmpl", map[string]any{"Question": question, "Tools": tools})
	if err != nil {
		return nil, err
	}

	raw, err := g.completer.Complete(ctx, Completion{Operation: "sub_questions", Prompt: prompt, JSON: true})
	if err != nil {
		return nil, err
	}

	items, parseErr := parseSubQuestions(raw)
	if parseErr != nil {
		repair, err := render("repair_json.tmpl", map[string]any{"Previous": raw})
		if err != nil {
			return nil, err
		}
		raw, err = g.completer.Complete(ctx, Completion{Operation: "sub_questions_repair", Prompt: repair, JSON: true})
		if err != nil {
			return nil, err
		}
		items, parseErr = parseSubQuestions(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("parse sub-questions: %w", parseErr)
		}
	}

	items = normalizeSubQuestions(items)
	if len(items) > g.maxSubQuestions {
		items = items[:g.maxSubQuestions]
	}
	return items, nil
}

// normalizeSubQuestions trims entries and drops blanks and repeats so the
// cap counts distinct questions only.
func normalizeSubQuestions(items []domain.SubQuestion) []domain.SubQuestion {
	out := make([]domain.SubQuestion, 0, len(items))
	seen := make(map[domain.SubQuestion]struct{}, len(items))
	for _, item := range items {
		item.Question = strings.TrimSpace(item.Question)
		item.ToolName = strings.TrimSpace(item.ToolName)
		if item.Question == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, chunks []domain.RetrievedChunk) (string, error) {
	prompt, err := render("answer.tmpl", map[string]any{"Question": question, "Chunks": chunks})
	if err != nil {
		return "", err
	}
	return g.completer.Complete(ctx, Completion{Operation: "answer", Prompt: prompt})
}

func (g *Generator) SynthesizeAnswer(ctx context.Context, question string, sources []domain.SourceAttribution) (string, error) {
	prompt, err := render("synthesize.tmpl", map[string]any{"Question": question, "Sources": sources})
	if err != nil {
		return "", err
	}
	return g.completer.Complete(ctx, Completion{Operation: "synthesize", Prompt: prompt})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// parseSubQuestions accepts {"items": [...]} or a bare array, tolerating
// prose around the JSON.
func parseSubQuestions(raw string) ([]domain.SubQuestion, error) {
	payload := ExtractJSON(raw)
	if strings.HasPrefix(payload, "[") {
		var items []domain.SubQuestion
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var plan struct {
		Items *[]domain.SubQuestion `json:"items"`
	}
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, err
	}
	if plan.Items == nil {
		return nil, fmt.Errorf("missing items key")
	}
	return *plan.Items, nil
}

// ExtractJSON trims anything before the first JSON object or array and after its end.
func ExtractJSON(raw string) string {
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return strings.TrimSpace(raw)
	}
	closer := "}"
	if raw[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(raw, closer)
	if end <= start {
		return strings.TrimSpace(raw)
	}
	return raw[start : end+1]
}
