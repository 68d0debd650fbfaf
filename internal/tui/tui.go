// Package tui renders the live transcription session in the terminal.
package tui

import (
	"context"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"murmur/internal/domain"
	"murmur/internal/usecase"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	micStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type (
	stateMsg     domain.ConnectionState
	listeningMsg bool
	statusMsg    string
	deltaMsg     string
	finalMsg     string
	errorMsg     struct {
		code   domain.ErrorCode
		detail string
	}
	toggledMsg struct{ err error }
)

// Sink bridges engine callbacks into the Bubble Tea program. Events
// arriving before Attach are buffered.
type Sink struct {
	mu      sync.Mutex
	program *tea.Program
	backlog []tea.Msg
}

func NewSink() *Sink { return &Sink{} }

// Attach binds the running program and flushes buffered events.
func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	backlog := s.backlog
	s.backlog = nil
	s.mu.Unlock()
	for _, msg := range backlog {
		p.Send(msg)
	}
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	if p == nil {
		s.backlog = append(s.backlog, msg)
	}
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *Sink) ConnectionStateChanged(state domain.ConnectionState) { s.send(stateMsg(state)) }
func (s *Sink) ListeningChanged(listening bool)                     { s.send(listeningMsg(listening)) }
func (s *Sink) StatusChanged(status string)                         { s.send(statusMsg(status)) }
func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.send(errorMsg{code: code, detail: detail})
}

// Listener returns the transcript registration that feeds the view.
func (s *Sink) Listener() *domain.Listener {
	return &domain.Listener{
		OnDelta: func(text string) { s.send(deltaMsg(text)) },
		OnFinal: func(text string) { s.send(finalMsg(text)) },
	}
}

// Model is the root Bubble Tea model.
type Model struct {
	orchestrator *usecase.Orchestrator
	sink         *Sink

	state     domain.ConnectionState
	listening bool
	status    string
	lastErr   string
	partial   string
	finals    []string
	width     int
}

func New(orchestrator *usecase.Orchestrator, sink *Sink) Model {
	snap := orchestrator.Snapshot()
	return Model{
		orchestrator: orchestrator,
		sink:         sink,
		state:        snap.State,
		listening:    snap.Listening,
		status:       snap.Status,
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.orchestrator.StopListening(usecase.StopListenOptions{ClearListener: true})
			return m, tea.Quit
		case " ":
			return m, m.toggle()
		case "d":
			orchestrator := m.orchestrator
			return m, func() tea.Msg {
				orchestrator.Disconnect()
				return nil
			}
		}
		return m, nil

	case stateMsg:
		m.state = domain.ConnectionState(msg)
		return m, nil

	case listeningMsg:
		m.listening = bool(msg)
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errorMsg:
		m.lastErr = msg.detail
		return m, nil

	case deltaMsg:
		m.partial += string(msg)
		return m, nil

	case finalMsg:
		m.finals = append(m.finals, string(msg))
		m.partial = ""
		return m, nil

	case toggledMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) toggle() tea.Cmd {
	orchestrator := m.orchestrator
	listener := m.sink.Listener()
	return func() tea.Msg {
		return toggledMsg{err: orchestrator.ToggleListening(context.Background(), listener)}
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("murmur"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(m.statusLine()))
	if m.listening {
		b.WriteString("  ")
		b.WriteString(micStyle.Render("● listening"))
	}
	b.WriteString("\n\n")

	for _, final := range m.finals {
		b.WriteString(final)
		b.WriteString("\n")
	}
	if m.partial != "" {
		b.WriteString(partialStyle.Render(m.partial))
		b.WriteString("\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("error: " + m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space: toggle mic · d: disconnect · q: quit"))
	return b.String()
}

func (m Model) statusLine() string {
	if m.status != "" {
		return m.status
	}
	return string(m.state)
}

// Run starts the interactive view and blocks until it exits.
func Run(orchestrator *usecase.Orchestrator, sink *Sink) error {
	p := tea.NewProgram(New(orchestrator, sink), tea.WithAltScreen())
	sink.Attach(p)
	_, err := p.Run()
	return err
}
