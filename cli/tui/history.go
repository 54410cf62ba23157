package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ajolex/surveycto-vc-agent/lode"
)

// HistoryModel is a scrollable table of archived upload outcomes.
type HistoryModel struct {
	table    table.Model
	count    int
	quitting bool
}

var historyColumns = []table.Column{
	{Title: "Completed", Width: 20},
	{Title: "Form", Width: 18},
	{Title: "File", Width: 22},
	{Title: "Result", Width: 9},
	{Title: "Duration", Width: 9},
	{Title: "Message", Width: 32},
}

// NewHistoryModel creates a history model over records, newest first.
func NewHistoryModel(records []lode.OutcomeRecord) HistoryModel {
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, historyRow(r))
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)

	t := table.New(
		table.WithColumns(historyColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+4, 20)),
	)
	t.SetStyles(styles)
	return HistoryModel{table: t, count: len(records)}
}

func historyRow(r lode.OutcomeRecord) table.Row {
	result := "failed"
	if r.Success {
		result = "ok"
	}
	completed := r.CompletedAt
	if ts, err := time.Parse(time.RFC3339Nano, r.CompletedAt); err == nil {
		completed = ts.Local().Format("2006-01-02 15:04:05")
	}
	return table.Row{
		completed,
		r.FormID,
		r.FileName,
		result,
		(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second).String(),
		r.Message,
	}
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}
	title := TitleStyle.Render(fmt.Sprintf("Deployment history (%d)", m.count))
	help := HelpStyle.Render("Use arrow keys to scroll. Press q to quit")
	return title + "\n" + m.table.View() + "\n" + help
}

// RunHistoryTUI runs the history view over data, a []lode.OutcomeRecord.
func RunHistoryTUI(data any) error {
	records, ok := data.([]lode.OutcomeRecord)
	if !ok {
		return fmt.Errorf("invalid data type %T for history", data)
	}
	_, err := tea.NewProgram(NewHistoryModel(records), tea.WithAltScreen()).Run()
	return err
}
