package cmd

import (
	"fmt"

	"github.com/deftorch/deftheim/installer"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InstallProgressMsg carries one installer event, or the final summary, to
// the UI.
type InstallProgressMsg struct {
	Event   installer.Event
	Summary string
	Done    bool
}

// InstallModel controls the UI for the install command
type InstallModel struct {
	spinner      spinner.Model
	progressChan chan InstallProgressMsg
	rootID       string
	opts         installOptions

	// State
	status      string
	downloading []string
	completed   []string
	errors      []string
	summary     string
	done        bool

	// Counters
	total     int
	finished  int
	installed int
	skipped   int
}

func initialInstallModel(rootID string, opts installOptions) InstallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return InstallModel{
		spinner:      s,
		progressChan: make(chan InstallProgressMsg, 100), // Buffer slightly to avoid blocking
		rootID:       rootID,
		opts:         opts,
		status:       "Resolving dependencies...",
	}
}

func (m InstallModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startInstall(),
		m.waitForActivity(),
	)
}

func (m InstallModel) startInstall() tea.Cmd {
	return func() tea.Msg {
		go func() {
			defer close(m.progressChan)
			report := func(e installer.Event) {
				m.progressChan <- InstallProgressMsg{Event: e}
			}
			result, err := runInstall(m.rootID, m.opts, report)
			if err != nil {
				m.progressChan <- InstallProgressMsg{Done: true, Summary: fmt.Sprintf("Install of %s failed: %v", m.rootID, err)}
				return
			}
			m.progressChan <- InstallProgressMsg{Done: true, Summary: summarizeBatch(result)}
		}()
		return nil
	}
}

func (m InstallModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.progressChan
		if !ok {
			return InstallProgressMsg{Done: true}
		}
		return msg
	}
}

func (m InstallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case InstallProgressMsg:
		if msg.Done {
			m.done = true
			m.status = "Finished"
			if msg.Summary != "" {
				m.summary = msg.Summary
			}
			return m, tea.Quit
		}
		m.apply(msg.Event)
		return m, m.waitForActivity()
	}

	return m, nil
}

func (m *InstallModel) apply(e installer.Event) {
	switch e.Kind {
	case installer.EventResolved:
		m.total = e.Total
		m.status = fmt.Sprintf("Installing %s (%d packages)", e.ID, e.Total)
	case installer.EventStarted:
		m.downloading = append(m.downloading, e.ID)
	case installer.EventInstalled:
		m.remove(e.ID)
		m.completed = append(m.completed, "Installed "+e.ID)
		m.installed++
		m.finished++
	case installer.EventSkipped:
		m.remove(e.ID)
		m.skipped++
		m.finished++
	case installer.EventFailed:
		m.remove(e.ID)
		m.errors = append(m.errors, fmt.Sprintf("%s: %v", e.ID, e.Err))
		m.finished++
	}
	if m.total > 0 && e.Kind != installer.EventResolved {
		m.status = fmt.Sprintf("Installing %s (%d/%d)", m.rootID, m.finished, m.total)
	}
}

func (m *InstallModel) remove(id string) {
	for i, v := range m.downloading {
		if v == id {
			m.downloading = append(m.downloading[:i], m.downloading[i+1:]...)
			return
		}
	}
}

func (m InstallModel) View() string {
	var symbol string
	if m.done {
		symbol = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	} else {
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s\n\n", symbol, m.status)

	if len(m.downloading) > 0 {
		s += lipgloss.NewStyle().Bold(true).Render("Downloading:") + "\n"
		for _, d := range m.downloading {
			s += fmt.Sprintf("  • %s\n", d)
		}
		s += "\n"
	}

	if len(m.errors) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Errors:") + "\n"
		for _, e := range m.errors {
			s += fmt.Sprintf("  • %s\n", e)
		}
		s += "\n"
	}

	// Show last few completed
	if len(m.completed) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("Completed:") + "\n"
		start := 0
		if len(m.completed) > 5 && !m.done {
			start = len(m.completed) - 5
		}
		for i := start; i < len(m.completed); i++ {
			s += fmt.Sprintf("  • %s\n", m.completed[i])
		}
		s += "\n"
	}

	if m.done {
		s += lipgloss.NewStyle().Bold(true).Render(m.summary) + "\n"
	}

	return s
}
