package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
)

// View types with TUI support.
const (
	ViewStatus  = "status"
	ViewHistory = "history"
)

// Run starts the view for viewType over static data.
func Run(viewType string, data any) error {
	switch viewType {
	case ViewStatus:
		return RunStatusTUI(staticReport(data), 0)
	case ViewHistory:
		return RunHistoryTUI(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// IsTUISupported reports whether viewType has a TUI.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews lists the view types with TUI support.
func SupportedTUIViews() []string {
	return []string{ViewStatus, ViewHistory}
}

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}
