package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bookrag/internal/service"
	"bookrag/internal/session"
)

// Port is the TUI-facing subset of the retrieval pipeline.
type Port interface {
	ProcessQuery(ctx context.Context, query string) service.Answer
	Rebuild(ctx context.Context) error
	Stats() service.Stats
}

type answerMsg struct {
	query  string
	answer service.Answer
}

type rebuildMsg struct {
	err error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	service  Port
	history  *session.History
	title    string
	input    textinput.Model
	viewport viewport.Model
	status   string
	busy     bool
	ready    bool
}

// New creates a chat model. title is shown in the header, usually the book name.
func New(ctx context.Context, service Port, history *session.History, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the book and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{ctx: ctx, service: service, history: history, title: title, input: ti, viewport: vp}
	m.status = m.statusLine()
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around transcript and query boxes
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 + 1 // header, spacer, input box, status, help
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		m.history.Add(session.RoleAssistant, msg.answer.Text, msg.answer.Sources)
		m.status = m.statusLine()
		m.refresh()
		return m, nil
	case rebuildMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Rebuild failed: " + msg.err.Error()
		} else {
			m.status = "Index rebuilt. " + m.statusLine()
		}
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.history.Add(session.RoleUser, q, nil)
			m.busy = true
			m.status = "Searching the book..."
			m.refresh()
			return m, m.ask(q)
		case "ctrl+l":
			m.history.Clear()
			m.status = "Chat cleared. " + m.statusLine()
			m.refresh()
			return m, nil
		case "ctrl+r":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Rebuilding index..."
			return m, m.rebuild()
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{query: q, answer: m.service.ProcessQuery(m.ctx, q)}
	}
}

func (m Model) rebuild() tea.Cmd {
	return func() tea.Msg {
		return rebuildMsg{err: m.service.Rebuild(m.ctx)}
	}
}

// View renders the TUI layout and the transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Book Q&A  " + m.title)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	help := dimStyle.Render("enter: ask  ctrl+l: clear  ctrl+r: rebuild index  pgup/pgdown: scroll  ctrl+c: quit")
	return header + "\n" + transcript + "\n" + input + "\n" + status + "\n" + help
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.history.Messages(), m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m Model) statusLine() string {
	st := m.service.Stats()
	if st.Documents == 0 {
		return fmt.Sprintf("%s (%s)", st.Status, st.State)
	}
	return fmt.Sprintf("%s: %d chunks, dim %d, model %s", st.Status, st.Documents, st.Dimension, st.Model)
}

func renderTranscript(msgs []session.Message, width int) string {
	if len(msgs) == 0 {
		return dimStyle.Render("No messages yet. Ask something about the book.")
	}
	wrap := lipgloss.NewStyle().Width(max(20, width-2))
	var sb strings.Builder
	lastQuery := ""
	for i, msg := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if msg.Role == session.RoleUser {
			lastQuery = msg.Content
			sb.WriteString(userStyle.Render("You: "))
			sb.WriteString(wrap.Render(msg.Content))
			continue
		}
		sb.WriteString(botStyle.Render("Book: "))
		sb.WriteString(wrap.Render(msg.Content))
		if len(msg.Sources) == 0 {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("Sources:\n" + session.FormatSources(msg.Sources)))
		top := msg.Sources[0]
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render(fmt.Sprintf("Top passage (page %d): ", top.Chunk.Page)))
		sb.WriteString(wrap.Render(highlightBestSentence(top.Chunk.Text, lastQuery)))
	}
	return sb.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	dimStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe      = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe         = regexp.MustCompile(`[^.!?]+[.!?]*`)
	markerRe           = regexp.MustCompile(`--- Page \d+ ---`)
)

func highlightBestSentence(text, query string) string {
	text = strings.Join(strings.Fields(markerRe.ReplaceAllString(text, " ")), " ")
	if text == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
