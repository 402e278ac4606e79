// Package tui is a terminal chat with the coach.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/repcoach/pkg/coach"
	"github.com/papercomputeco/repcoach/pkg/llm"
)

// streamBuffer is how many updates may queue before older ones are dropped.
// Every update carries the whole reply so far, so dropping one loses nothing.
const streamBuffer = 16

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	coachStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// streamUpdateMsg carries the reply so far for request gen.
type streamUpdateMsg struct {
	gen  uint64
	text string
}

// replyDoneMsg ends request gen.
type replyDoneMsg struct {
	gen  uint64
	text string
	err  error
}

// Model is the bubbletea model of a chat session.
type Model struct {
	ctx     context.Context
	session *coach.Session
	status  string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	// transcript is what has been shown, including failure placeholders.
	transcript []llm.Message
	// rendered holds the Markdown of each coach message in transcript,
	// rendered at renderedWidth. User entries are empty.
	rendered      []string
	renderedWidth int
	streaming  bool
	partial    string
	lastErr    error

	gen    uint64
	stream chan tea.Msg
}

// New creates a chat model. status is shown in the footer, e.g. the
// endpoint and unit preference.
func New(ctx context.Context, session *coach.Session, status string) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask your coach... (Enter to send, Esc to stop, Ctrl+N new chat)"
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = coachStyle

	return Model{
		ctx:     ctx,
		session: session,
		status:  status,
		input:   ti,
		spinner: sp,
	}
}

// Run starts the chat on the terminal and blocks until the user quits.
func Run(ctx context.Context, session *coach.Session, status string) error {
	p := tea.NewProgram(New(ctx, session, status), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.session.Cancel()
			return m, tea.Quit

		case tea.KeyEsc:
			if m.streaming {
				m.session.Cancel()
			}
			return m, nil

		case tea.KeyCtrlN:
			m.session.Reset()
			m.gen++
			m.transcript = nil
			m.rendered = nil
			m.partial = ""
			m.lastErr = nil
			m.endStream()
			m.refresh()
			return m, nil

		case tea.KeyEnter:
			if m.streaming {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.startReply(text)
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case streamUpdateMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.partial = msg.text
		m.refresh()
		return m, waitForStream(m.stream)

	case replyDoneMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		if msg.err != nil {
			m.lastErr = msg.err
			m.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: coach.FailureMessage})
		} else {
			m.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: msg.text})
		}
		m.partial = ""
		m.endStream()
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	if !m.streaming {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s", m.headerView(), m.viewport.View(), m.input.View(), m.footerView())
}

// startReply sends text as a new request generation. Updates flow back
// through m.stream and are applied only while gen is current.
func (m *Model) startReply(text string) tea.Cmd {
	m.gen++
	gen := m.gen
	stream := make(chan tea.Msg, streamBuffer)

	m.stream = stream
	m.streaming = true
	m.partial = ""
	m.lastErr = nil
	m.appendMessage(llm.Message{Role: llm.RoleUser, Content: text})
	m.input.Blur()
	m.refresh()

	session := m.session
	ctx := m.ctx
	go func() {
		reply, err := session.Send(ctx, text, nil, func(t string) {
			select {
			case stream <- streamUpdateMsg{gen: gen, text: t}:
			default:
			}
		})
		done := replyDoneMsg{gen: gen, text: reply, err: err}
		for {
			select {
			case stream <- done:
				return
			default:
				// Make room by dropping a queued update.
				select {
				case <-stream:
				default:
				}
			}
		}
	}()

	return tea.Batch(m.spinner.Tick, waitForStream(stream))
}

func (m *Model) endStream() {
	m.streaming = false
	m.stream = nil
	m.input.Focus()
}

func waitForStream(stream chan tea.Msg) tea.Cmd {
	if stream == nil {
		return nil
	}
	return func() tea.Msg {
		return <-stream
	}
}

func (m *Model) resize(width, height int) {
	m.width = max(width, 0)
	m.height = max(height, 0)

	// header, input and footer take a line each
	vpHeight := max(m.height-3, 1)
	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}
	m.input.Width = max(m.width-4, 1)
	if w := m.contentWidth(); w != m.renderedWidth {
		m.renderedWidth = w
		for i, msg := range m.transcript {
			m.rendered[i] = m.renderMessage(msg)
		}
	}
	m.refresh()
}

func (m Model) contentWidth() int {
	if m.width <= 0 {
		return DefaultWidth
	}
	return m.width
}

// appendMessage adds a finished message to the transcript. Coach replies
// are rendered once here rather than on every refresh.
func (m *Model) appendMessage(msg llm.Message) {
	if m.renderedWidth == 0 {
		m.renderedWidth = m.contentWidth()
	}
	m.transcript = append(m.transcript, msg)
	m.rendered = append(m.rendered, m.renderMessage(msg))
}

func (m Model) renderMessage(msg llm.Message) string {
	if msg.Role == llm.RoleUser {
		return ""
	}
	return RenderMarkdown(msg.Content, m.renderedWidth)
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	width := m.contentWidth()

	var b strings.Builder
	for i, msg := range m.transcript {
		if msg.Role == llm.RoleUser {
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(width).Render(msg.Content))
		} else {
			b.WriteString(coachStyle.Render("Coach"))
			b.WriteString("\n")
			b.WriteString(m.rendered[i])
		}
		b.WriteString("\n\n")
	}

	if m.streaming {
		b.WriteString(coachStyle.Render("Coach"))
		b.WriteString(" ")
		b.WriteString(m.spinner.View())
		b.WriteString("\n")
		// Raw text while streaming; Markdown renders once the reply is final.
		b.WriteString(lipgloss.NewStyle().Width(width).Render(m.partial))
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m Model) headerView() string {
	return titleStyle.Render("repcoach")
}

func (m Model) footerView() string {
	line := m.status
	if m.lastErr != nil {
		return errorStyle.Render(ansi.Truncate("error: "+m.lastErr.Error(), m.width, "…"))
	}
	if m.streaming {
		line = "coach is typing · esc to stop · " + line
	}
	return statusStyle.Render(ansi.Truncate(line, m.width, "…"))
}
