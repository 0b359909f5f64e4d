// Package tui is the terminal chat front end: a question box above a
// scrolling transcript, with answers streamed in as they arrive.
package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Asker answers one question, delivering the reply through onToken.
type Asker interface {
	Ask(ctx context.Context, question string, onToken func(string) error) error
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, question string, onToken func(string) error) error

func (f AskerFunc) Ask(ctx context.Context, question string, onToken func(string) error) error {
	return f(ctx, question, onToken)
}

type turn struct {
	question string
	answer   strings.Builder
	err      error
}

// Messages produced by a running question.
type (
	tokenMsg struct{ text string }
	doneMsg  struct{ err error }
)

// Model is the Bubble Tea model for the chat.
type Model struct {
	asker    Asker
	title    string
	input    textinput.Model
	viewport viewport.Model
	turns    []*turn
	status   string
	busy     bool
	ready    bool

	events chan tea.Msg
	cancel context.CancelFunc
}

// New creates a chat model. title is shown in the header, typically the
// backend being talked to.
func New(asker Asker, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the site and press Enter"
	ti.CharLimit = 2000
	ti.Focus()
	return Model{
		asker:    asker,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready. Ctrl+C quits, Esc cancels an answer.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles input, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, qh := inputStyle.GetFrameSize()
		reserved := 2 + qh + 1 + th // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case tokenMsg:
		if len(m.turns) > 0 {
			m.turns[len(m.turns)-1].answer.WriteString(msg.text)
			m.refresh()
		}
		return m, m.wait()

	case doneMsg:
		m.busy = false
		m.events, m.cancel = nil, nil
		if last := m.last(); last != nil {
			last.err = msg.err
		}
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.status = "Cancelled."
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		default:
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.cancel != nil {
				m.cancel()
				m.status = "Cancelling..."
			}
			return m, nil
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
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.busy {
		return m, nil
	}
	m.input.SetValue("")
	m.turns = append(m.turns, &turn{question: q})
	m.busy = true
	m.status = "Thinking..."

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan tea.Msg, 64)
	m.events, m.cancel = events, cancel
	go func() {
		defer cancel()
		err := m.asker.Ask(ctx, q, func(tok string) error {
			select {
			case events <- tokenMsg{text: tok}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		events <- doneMsg{err: err}
		close(events)
	}()
	m.refresh()
	return m, m.wait()
}

// wait returns a command that delivers the next event of the running answer.
func (m Model) wait() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) last() *turn {
	if len(m.turns) == 0 {
		return nil
	}
	return m.turns[len(m.turns)-1]
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.Transcript())
	m.viewport.GotoBottom()
}

// View renders the header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("sitechat") + " " + dimStyle.Render(m.title)
	status := statusStyle.Render(m.status)
	if m.busy {
		status = busyStyle.Render(m.status)
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

// Transcript renders every question and answer so far.
func (m Model) Transcript() string {
	if len(m.turns) == 0 {
		return dimStyle.Render("No questions yet.")
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + t.question))
		b.WriteString("\n")
		answer := t.answer.String()
		switch {
		case answer != "":
			b.WriteString(highlightSources(answer))
		case t.err == nil:
			b.WriteString(dimStyle.Render("..."))
		}
		if t.err != nil {
			b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("error: %v", t.err)))
		}
	}
	return b.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Underline(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	busyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	urlRe = regexp.MustCompile(`https?://[^\s)\]]+`)
)

// highlightSources styles cited URLs so they stand out from the answer text.
func highlightSources(text string) string {
	return urlRe.ReplaceAllStringFunc(text, func(u string) string {
		return sourceStyle.Render(u)
	})
}
