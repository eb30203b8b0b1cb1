package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
)

type engineFake struct {
	resp       *domain.QueryResponse
	err        error
	calls      int
	hasCounter bool
}

func (f *engineFake) Answer(ctx context.Context, question string) (*domain.QueryResponse, error) {
	f.calls++
	_, f.hasCounter = usage.CounterFromContext(ctx)
	return f.resp, f.err
}

func loaderFor(engine ports.QueryService, err error) EngineLoader {
	return func(context.Context) (ports.QueryService, error) { return engine, err }
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return model, cmd
}

func loadedModel(t *testing.T, engine ports.QueryService) Model {
	t.Helper()
	m := New(context.Background(), "docqa", loaderFor(engine, nil))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	msg := m.loadEngine()()
	m, _ = update(t, m, msg)
	if m.Busy() {
		t.Fatalf("expected model to be idle after load")
	}
	return m
}

func TestAskIsRejectedWhileLoading(t *testing.T) {
	engine := &engineFake{}
	m := New(context.Background(), "docqa", loaderFor(engine, nil))
	m.input.SetValue("What laptops are in stock?")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatalf("expected no command while loading")
	}
	if !strings.Contains(m.Status(), "loading") {
		t.Fatalf("unexpected status: %q", m.Status())
	}
	if engine.calls != 0 {
		t.Fatalf("engine must not be called while loading")
	}
}

func TestAskRunsInBackgroundAndRendersAnswer(t *testing.T) {
	engine := &engineFake{resp: &domain.QueryResponse{
		Answer:       "The X1 costs 1500.",
		SubQuestions: []string{"What is the price of the X1?"},
		Usage:        domain.TokenUsage{EmbeddingTokens: 3, LLM: domain.LLMTokenUsage{TotalTokens: 20}},
	}}
	m := loadedModel(t, engine)
	m.input.SetValue("How much is the X1?")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected a query command")
	}
	if !m.Busy() {
		t.Fatalf("expected model to be busy while querying")
	}

	// A second submit is rejected while the first is in flight.
	m, second := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if second != nil {
		t.Fatalf("expected single-flight guard to reject second query")
	}

	m, _ = update(t, m, cmd())
	if engine.calls != 1 {
		t.Fatalf("expected exactly one engine call, got %d", engine.calls)
	}
	if !engine.hasCounter {
		t.Fatalf("expected query to carry its own usage counter")
	}
	if m.Busy() {
		t.Fatalf("expected model idle after answer")
	}
	content := m.renderAnswer()
	for _, want := range []string{"The X1 costs 1500.", "What is the price of the X1?", "total_llm=20"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in answer pane, got %q", want, content)
		}
	}
}

func TestErrorsShowModalUntilDismissed(t *testing.T) {
	engine := &engineFake{err: domain.WrapError(domain.ErrTemporary, "openai.complete", errors.New("upstream down"))}
	m := loadedModel(t, engine)
	m.input.SetValue("anything")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())

	if !strings.Contains(m.View(), "upstream down") {
		t.Fatalf("expected modal with error, got %q", m.View())
	}
	if !strings.HasPrefix(m.Status(), "Error:") {
		t.Fatalf("expected error status, got %q", m.Status())
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.modalErr != nil {
		t.Fatalf("expected modal to be dismissed")
	}
}

func TestLoadFailureLeavesAskDisabled(t *testing.T) {
	m := New(context.Background(), "docqa", loaderFor(nil, domain.ErrNoDocuments))
	m, _ = update(t, m, m.loadEngine()())
	if m.modalErr == nil {
		t.Fatalf("expected load error modal")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m.input.SetValue("question")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatalf("expected ask to be rejected without an engine")
	}
	if m.Status() != "No index loaded." {
		t.Fatalf("unexpected status: %q", m.Status())
	}
}
