package tui

import (
	"fmt"
	"strings"

	"github.com/Mr-Dark-debug/radview/pkg/jsonutil"
)

// Metadata shown first, in this order; the rest follows alphabetically.
var leadingKeys = []string{
	"PatientName", "PatientID", "StudyDescription", "StudyDate",
	"SeriesDescription", "Modality", "SliceCount", "FrameCount",
}

// renderDetail renders the metadata of the selected dataset.
func renderDetail(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneDetail {
		titleStyle = panelTitleStyle
	}
	title := titleStyle.Render("Detail")

	id, ok := m.selectedID()
	if !ok {
		return title + "\n\n" + emptyStateStyle.Render("Select a dataset to view details.")
	}
	meta := m.snap.Session.Metadata[id]

	lines := []string{title, "", detailRow("ID", shortID(id, 16))}

	seen := make(map[string]bool, len(leadingKeys))
	for _, k := range leadingKeys {
		seen[k] = true
		if v, ok := meta[k]; ok {
			lines = append(lines, detailRow(k, truncate(v, width-len(k)-2)))
		}
	}

	var rest []string
	for _, k := range jsonutil.SortedKeys(meta) {
		if !seen[k] {
			rest = append(rest, detailRow(k, truncate(meta[k], width-len(k)-2)))
		}
	}
	if len(rest) > 0 {
		lines = append(lines, "", detailSectionStyle.Render("Attributes"))
		lines = append(lines, rest...)
	}

	// ── Session summary ──

	s := m.snap.Session
	lines = append(lines, "", detailSectionStyle.Render("Session"))
	lines = append(lines, detailRow("State", stateBadge(s.State)))
	lines = append(lines, detailRow("Generation", fmt.Sprintf("%d", s.Generation)))
	lines = append(lines, detailRow("Plane", m.snap.Orientation.String()))
	lines = append(lines, detailRow("Tool", m.snap.Tool.String()))

	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

// renderDetailPanel wraps detail in a styled panel.
func renderDetailPanel(m *Model, width, height int) string {
	content := renderDetail(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneDetail {
		style = panelActiveStyle
	}
	return style.Width(width).Height(height).Render(content)
}

func detailRow(label, value string) string {
	return detailLabelStyle.Render(label) + "  " + detailValueStyle.Render(value)
}
