package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "encore/internal/cli"
	"encore/internal/schedule"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dueStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

type jobsMsg struct {
	jobs []schedule.JobStatus
	err  error
	at   time.Time
}

type refreshMsg struct{}

type watchModel struct {
	client  *cl.Client
	token   string
	every   time.Duration
	spinner spinner.Model

	jobs    []schedule.JobStatus
	err     error
	updated time.Time
	loading bool
}

func newWatchModel(client *cl.Client, token string, every time.Duration) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle
	return watchModel{client: client, token: token, every: every, spinner: sp, loading: true}
}

func runWatch(client *cl.Client, token string, every time.Duration) error {
	_, err := tea.NewProgram(newWatchModel(client, token, every)).Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) fetch() tea.Cmd {
	client, token := m.client, m.token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		jobs, err := client.Jobs(ctx, token)
		return jobsMsg{jobs: jobs, err: err, at: time.Now()}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.loading {
				m.loading = true
				return m, m.fetch()
			}
		}
		return m, nil
	case jobsMsg:
		m.loading = false
		m.updated = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.jobs = msg.jobs
		}
		return m, tea.Tick(m.every, func(time.Time) tea.Msg { return refreshMsg{} })
	case refreshMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	status := idleStyle.Render("updated " + m.updated.Format("15:04:05"))
	if m.loading {
		status = m.spinner.View() + " refreshing"
	}
	fmt.Fprintf(&b, "%s  %s\n\n", titleStyle.Render("encore jobs"), status)

	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n\n")
	}
	if len(m.jobs) == 0 && !m.loading {
		b.WriteString(idleStyle.Render("No job cursors seeded yet.") + "\n")
	}
	if len(m.jobs) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-18s %-9s %-7s %-17s %-17s %s", "NAME", "FREQ", "ANCHOR", "LAST APPLIED", "NEXT", "STATE")) + "\n")
		now := time.Now()
		for _, j := range m.jobs {
			line := fmt.Sprintf("%-18s %-9s %-7s %-17s %-17s ", truncate(j.Name, 18), j.Frequency, anchor(j), formatWhen(j.LastApplied, now), formatNext(j.Next))
			switch {
			case !j.Registered:
				line = missingStyle.Render(line + "unregistered")
			case j.Due:
				line += dueStyle.Render("due")
			default:
				line += idleStyle.Render("waiting")
			}
			b.WriteString(line + "\n")
		}
	}
	b.WriteString("\n" + helpStyle.Render("r refresh  q quit") + "\n")
	return b.String()
}
