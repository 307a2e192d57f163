// Package tui renders the live status dashboard for `ralph status --watch`.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/status"
)

// refreshInterval is how often the dashboard re-collects state.
const refreshInterval = 2 * time.Second

type keyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp returns bindings for the single-line help view.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}

// FullHelp returns bindings for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Quit}}
}

var defaultKeyMap = keyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type tickMsg time.Time

type snapshotMsg struct {
	snap *status.Snapshot
	err  error
}

// Model is the Bubble Tea model for the status dashboard.
type Model struct {
	cfg     *config.Config
	snap    *status.Snapshot
	err     error
	spinner spinner.Model
	keys    keyMap
	help    help.Model
	width   int
}

// NewModel creates a dashboard model for the configured repository.
func NewModel(cfg *config.Config) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		cfg:     cfg,
		spinner: s,
		keys:    defaultKeyMap,
		help:    help.New(),
	}
}

// Init starts the spinner and the first collection.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.collect())
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.collect()
		}
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.err = msg.err
		return m, m.tick()

	case tickMsg:
		return m, m.collect()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	var body string
	switch {
	case m.err != nil:
		body = errorStyle.Render("error: "+m.err.Error()) + "\n"
	case m.snap == nil:
		body = m.spinner.View() + " collecting...\n"
	default:
		body = status.Render(m.snap)
	}

	header := titleStyle.Render("ralph") + footerStyle.Render("  "+m.cfg.RepoDir) + "\n\n"
	footer := "\n" + m.help.View(m.keys)
	if m.snap != nil {
		footer = "\n" + footerStyle.Render("updated "+m.snap.Taken.Format("15:04:05")) + "  " + m.help.View(m.keys)
	}
	return header + body + footer
}

func (m Model) collect() tea.Cmd {
	cfg := m.cfg
	return func() tea.Msg {
		snap, err := status.Collect(cfg)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run starts the dashboard and blocks until the user quits.
func Run(cfg *config.Config) error {
	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
