package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader produces the top bar:
//
//	RADVIEW  |  loaded  |  gen 3  |  2 datasets  |  coronal
func renderHeader(m *Model) string {
	brand := headerBrandStyle.Render("RADVIEW")
	sep := headerSepStyle.Render(" │ ")
	s := m.snap.Session

	parts := []string{brand, sep, stateBadge(s.State)}
	if s.Generation > 0 {
		parts = append(parts, sep, headerMetaStyle.Render(fmt.Sprintf("gen %d", s.Generation)))
	}
	if n := len(s.DataIDs); n > 0 {
		parts = append(parts, sep, headerMetaStyle.Render(fmt.Sprintf("%d datasets", n)))
	}
	parts = append(parts, sep, headerMetaStyle.Render(m.snap.Orientation.String()))
	if m.dropDir != "" {
		parts = append(parts, sep, headerMetaStyle.Render("watching "+m.dropDir))
	}

	return headerBarStyle.Width(m.width).Render(strings.Join(parts, ""))
}

// renderFooter produces the bottom status bar with keyboard hints.
func renderFooter(m *Model) string {
	var left, right string

	if m.inputMode {
		left = inputBarStyle.Render(m.input.View())
		right = renderHints([]hint{
			{"enter", "load"},
			{"esc", "cancel"},
		})
	} else {
		if m.statusMsg != "" {
			style := statusStyle
			if m.err != nil {
				style = statusErrorStyle
			}
			left = style.Render(m.statusMsg)
		}
		right = renderHints([]hint{
			{"o", "open"},
			{fmt.Sprintf("1-%d", len(m.tools)), "tool"},
			{"t", "plane"},
			{"r", "reset view"},
			{"x", "reset"},
			{"d", "compare"},
			{"q", "quit"},
		})
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().
		Background(colorBgSurface).
		Width(m.width).
		Render(bar)
}

type hint struct {
	key  string
	desc string
}

func renderHints(hints []hint) string {
	var parts []string
	for _, h := range hints {
		parts = append(parts,
			hintKeyStyle.Render(h.key)+" "+hintDescStyle.Render(h.desc))
	}
	return strings.Join(parts, hintDescStyle.Render("  "))
}
