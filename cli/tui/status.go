package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ajolex/surveycto-vc-agent/status"
)

// FetchFunc loads a fresh status report.
type FetchFunc func() (*status.Report, error)

// StatusModel is a Bubble Tea model for the bridge status view.
// With a refresh interval it polls FetchFunc and redraws.
type StatusModel struct {
	fetch    FetchFunc
	interval time.Duration
	report   *status.Report
	err      error
	width    int
	height   int
	quitting bool
}

type reportMsg struct {
	report    *status.Report
	err       error
	scheduled bool
}

type tickMsg time.Time

// NewStatusModel creates a status model. interval <= 0 disables polling.
func NewStatusModel(fetch FetchFunc, interval time.Duration) StatusModel {
	return StatusModel{fetch: fetch, interval: interval}
}

func staticReport(data any) FetchFunc {
	return func() (*status.Report, error) {
		r, ok := data.(*status.Report)
		if !ok {
			return nil, fmt.Errorf("invalid data type %T for status", data)
		}
		return r, nil
	}
}

// load fetches a report. Only scheduled loads re-arm the poll timer, so a
// manual refresh does not start a second timer chain.
func (m StatusModel) load(scheduled bool) tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		r, err := fetch()
		return reportMsg{report: r, err: err, scheduled: scheduled}
	}
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return m.load(true)
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case reportMsg:
		m.err = msg.err
		if msg.err == nil {
			m.report = msg.report
		}
		if msg.scheduled && m.interval > 0 {
			return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
		}
		return m, nil

	case tickMsg:
		return m, m.load(true)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.load(false)
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("formbridge status"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}
	if m.report == nil {
		b.WriteString(LabelStyle.Render("Loading..."))
	} else {
		b.WriteString(renderReport(m.report))
	}

	help := "Press q to quit"
	if m.interval > 0 {
		help = fmt.Sprintf("Refreshing every %s. Press r to refresh now, q to quit", m.interval)
	}
	return b.String() + "\n" + HelpStyle.Render(help)
}

func renderReport(r *status.Report) string {
	var b strings.Builder
	field(&b, "Version", r.Version)
	field(&b, "Listen", r.Listen)
	field(&b, "Uptime", r.Uptime)
	field(&b, "Connections", fmt.Sprintf("%d", r.Connections))
	b.WriteString("\n")

	s := r.Metrics
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Staged", s.DeploymentsStaged, highlightColor),
		statBox("Delivered", s.PayloadsDelivered, warningColor),
		statBox("Succeeded", s.UploadsSucceeded, successColor),
		statBox("Failed", s.UploadsFailed, errorColor),
	))
	b.WriteString("\n\n")

	b.WriteString(SectionStyle.Render("Deployment"))
	b.WriteString("\n")
	if d := r.Deployment; d == nil {
		b.WriteString(LabelStyle.Render("none staged"))
		b.WriteString("\n")
	} else {
		field(&b, "ID", d.ID)
		field(&b, "Form", d.FormID)
		field(&b, "File", fmt.Sprintf("%s (%d bytes, %d attachments)", d.FileName, d.PayloadBytes, d.Attachments))
		field(&b, "Server", d.ServerURL)
		if d.TargetTabID != 0 {
			field(&b, "Console tab", fmt.Sprintf("%d", d.TargetTabID))
		}
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("State:"), StateStyle(d.State).Render(d.State))
		if d.Result != "" {
			field(&b, "Result", d.Result)
		}
	}
	b.WriteString("\n")

	b.WriteString(SectionStyle.Render("Panels"))
	b.WriteString("\n")
	if len(r.Relays) == 0 {
		b.WriteString(LabelStyle.Render("none connected"))
		b.WriteString("\n")
	}
	for _, rs := range r.Relays {
		state := "lost"
		if rs.Alive {
			state = "alive"
		}
		seen := "never"
		if !rs.LastSeen.IsZero() {
			seen = rs.LastSeen.Local().Format("15:04:05")
		}
		fmt.Fprintf(&b, "%s %s  last seen %s  pending %d\n",
			LabelStyle.Render(rs.Sheet),
			StateStyle(state).Render(state),
			seen, rs.Pending)
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

func statBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunStatusTUI runs the status view until the user quits.
func RunStatusTUI(fetch FetchFunc, interval time.Duration) error {
	if fetch == nil {
		return errors.New("status view needs a report source")
	}
	_, err := tea.NewProgram(NewStatusModel(fetch, interval), tea.WithAltScreen()).Run()
	return err
}

// RenderStatusStatic renders a report without the interactive program.
func RenderStatusStatic(r *status.Report) string {
	m := NewStatusModel(staticReport(r), 0)
	m.report = r
	m.width = 80
	m.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
