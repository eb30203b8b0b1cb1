// Package tui is the terminal front end: one input line, an answer pane and a
// status line. Index loading and queries run as background commands.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
)

// EngineLoader acquires the indexes and returns a ready query service.
type EngineLoader func(ctx context.Context) (ports.QueryService, error)

type engineLoadedMsg struct {
	engine ports.QueryService
	err    error
}

type answerMsg struct {
	question string
	resp     *domain.QueryResponse
	err      error
}

type Model struct {
	ctx    context.Context
	title  string
	load   EngineLoader
	engine ports.QueryService

	input    textinput.Model
	viewport viewport.Model

	loading  bool
	querying bool
	status   string
	modalErr error
	resp     *domain.QueryResponse
	question string

	width int
	ready bool
}

func New(ctx context.Context, title string, load EngineLoader) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.CharLimit = 4000
	ti.Focus()

	return Model{
		ctx:      ctx,
		title:    title,
		load:     load,
		input:    ti,
		viewport: viewport.New(80, 16),
		loading:  true,
		status:   "Loading indexes...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadEngine())
}

func (m Model) loadEngine() tea.Cmd {
	ctx, load := m.ctx, m.load
	return func() tea.Msg {
		engine, err := load(ctx)
		return engineLoadedMsg{engine: engine, err: err}
	}
}

func (m Model) ask(question string) tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		resp, err := engine.Answer(usage.WithCounter(ctx, usage.NewCounter()), question)
		return answerMsg{question: question, resp: resp, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, frame := paneStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-frame-6)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil

	case engineLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.modalErr = msg.err
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.engine = msg.engine
		m.status = "Ready."
		return m, nil

	case answerMsg:
		m.querying = false
		if msg.err != nil {
			m.modalErr = msg.err
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.resp = msg.resp
		m.question = msg.question
		m.status = fmt.Sprintf("Answered %q", msg.question)
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		// The modal swallows keys until dismissed.
		if m.modalErr != nil {
			if msg.Type == tea.KeyEnter || msg.Type == tea.KeyEsc {
				m.modalErr = nil
			}
			return m, nil
		}
		switch msg.Type {
		case tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	question := strings.TrimSpace(m.input.Value())
	switch {
	case m.loading:
		m.status = "Still loading indexes, please wait."
		return m, nil
	case m.engine == nil:
		m.status = "No index loaded."
		return m, nil
	case m.querying:
		m.status = "A question is already being answered."
		return m, nil
	case question == "":
		m.status = "Type a question first."
		return m, nil
	}

	m.querying = true
	m.status = "Thinking..."
	return m, m.ask(question)
}

// Busy reports whether a load or query is in flight.
func (m Model) Busy() bool { return m.loading || m.querying }

func (m Model) Status() string { return m.status }

func (m Model) View() string {
	if !m.ready {
		return m.status
	}
	header := titleStyle.Render(m.title)
	if m.modalErr != nil {
		modal := modalStyle.Render("Error\n\n" + m.modalErr.Error() + "\n\n[enter] dismiss")
		return header + "\n" + lipgloss.Place(m.width, m.viewport.Height+4, lipgloss.Center, lipgloss.Center, modal)
	}
	return header + "\n" +
		paneStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(m.status)
}

func (m Model) renderAnswer() string {
	if m.resp == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(labelStyle.Render("Question: ") + m.question + "\n\n")
	b.WriteString(m.resp.Answer + "\n")
	if len(m.resp.SubQuestions) > 0 {
		b.WriteString("\n" + labelStyle.Render("Sub-questions:") + "\n")
		for _, sq := range m.resp.SubQuestions {
			b.WriteString("  - " + sq + "\n")
		}
	}
	u := m.resp.Usage
	b.WriteString(fmt.Sprintf("\n%s embedding=%d prompt=%d completion=%d total_llm=%d",
		labelStyle.Render("Tokens:"), u.EmbeddingTokens, u.LLM.PromptTokens, u.LLM.CompletionTokens, u.LLMTokens()))
	return b.String()
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	modalStyle  = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("9")).Padding(1, 2)
)
