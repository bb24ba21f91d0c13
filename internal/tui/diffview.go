package tui

import (
	"fmt"
	"strings"

	"github.com/Mr-Dark-debug/radview/pkg/jsonutil"
)

// renderDiffView compares the pinned dataset with the selected one.
func renderDiffView(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneDiff {
		titleStyle = panelTitleStyle
	}
	title := titleStyle.Render("Compare")

	id, ok := m.selectedID()
	if m.diffBase == "" || !ok {
		return title + "\n" + diffContextStyle.Render("Press d on a dataset to compare others against it.")
	}
	if id == m.diffBase {
		return title + "\n" + diffContextStyle.Render("Select another dataset to compare.")
	}

	meta := m.snap.Session.Metadata
	diffs := jsonutil.DiffMetadata(meta[m.diffBase], meta[id])
	title += dimStyle.Render(fmt.Sprintf("  %s → %s  %d fields differ",
		shortID(m.diffBase, 8), shortID(id, 8), len(diffs)))

	if len(diffs) == 0 {
		return title + "\n" + diffContextStyle.Render("Metadata is identical.")
	}

	valueWidth := (width - 30) / 2
	var lines []string
	for _, d := range diffs {
		switch d.Type {
		case "add":
			lines = append(lines, diffAddStyle.Render("+ "+d.Key+": "+truncate(d.NewValue, valueWidth)))
		case "delete":
			lines = append(lines, diffDelStyle.Render("- "+d.Key+": "+truncate(d.OldValue, valueWidth)))
		default:
			lines = append(lines, diffModStyle.Render(fmt.Sprintf("~ %s: %s → %s",
				d.Key, truncate(d.OldValue, valueWidth), truncate(d.NewValue, valueWidth))))
		}
	}

	maxLines := height - 1
	if maxLines < 1 {
		maxLines = 1
	}
	start := clamp(m.diffScroll, 0, max(len(lines)-maxLines, 0))
	end := min(start+maxLines, len(lines))

	return title + "\n" + strings.Join(lines[start:end], "\n")
}

// renderDiffPanel wraps the diff view in a styled panel.
func renderDiffPanel(m *Model, width, height int) string {
	content := renderDiffView(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneDiff {
		style = panelActiveStyle
	}
	return style.Width(width).Height(height).Render(content)
}
