package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/radview/internal/session"
)

// renderToolbar draws one button per registered tool and, while a load is
// running or done, the progress bar. Buttons are only live once loaded.
func renderToolbar(m *Model) string {
	s := m.snap.Session
	enabled := s.State == session.Loaded
	active := m.snap.Tool

	buttons := make([]string, 0, len(m.tools))
	for i, d := range m.tools {
		label := d.Name
		isActive := strings.EqualFold(active.Kind.String(), d.Name)
		if isActive && active.Option != "" {
			label = active.String()
		}
		key := fmt.Sprintf("%d", i+1)

		switch {
		case !enabled:
			buttons = append(buttons, toolDisabledStyle.Render(key+" "+label))
		case isActive:
			buttons = append(buttons, toolActiveStyle.Render(key+" "+label))
		default:
			buttons = append(buttons, toolButtonStyle.Render(toolKeyStyle.Render(key)+" "+label))
		}
	}
	row := strings.Join(buttons, " ")

	if s.State == session.Loading || s.State == session.Loaded {
		bar := m.progress.ViewAs(s.Progress / 100)
		pct := dimStyle.Render(fmt.Sprintf(" %3.0f%%", s.Progress))
		row = lipgloss.JoinHorizontal(lipgloss.Center, row, "  ", bar, pct)
	}
	return lipgloss.NewStyle().Width(m.width).Padding(0, 1).Render(row)
}
