package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/radview/internal/session"
)

// renderEmptyState is shown while no dataset is loaded.
func renderEmptyState(m *Model, height int) string {
	var msg string
	switch {
	case m.snap.Session.Err() != nil:
		msg = "The last load failed.\n\n" + m.snap.Session.Err().Error()
	case m.snap.Session.State == session.Loading:
		msg = "Loading..."
	case m.dropDir != "":
		msg = fmt.Sprintf("Copy DICOM files into %s\nor press o to open files.", m.dropDir)
	default:
		msg = "No data loaded.\n\nPress o to open DICOM files or folders."
	}
	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, emptyStateStyle.Render(msg))
}

// renderDatasets lists the loaded datasets in display order.
func renderDatasets(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneDatasets {
		titleStyle = panelTitleStyle
	}
	ids := m.snap.Session.DataIDs
	heading := titleStyle.Render("Datasets") + dimStyle.Render(fmt.Sprintf("  %d loaded", len(ids)))

	lines := []string{heading, ""}

	maxVisible := height - 2
	if maxVisible < 1 {
		maxVisible = 1
	}
	start := 0
	if m.selected >= maxVisible {
		start = m.selected - maxVisible + 1
	}
	end := start + maxVisible
	if end > len(ids) {
		end = len(ids)
	}

	for i := start; i < end; i++ {
		id := ids[i]
		meta := m.snap.Session.Metadata[id]

		marker := "  "
		if id == m.diffBase {
			marker = datasetPinnedStyle.Render("◆ ")
		}
		modality := meta["Modality"]
		if modality == "" {
			modality = "--"
		}
		desc := meta["SeriesDescription"]
		if desc == "" {
			desc = shortID(id, 8)
		}
		count := ""
		if n := meta["SliceCount"]; n != "" {
			count = dimStyle.Render(n + " sl")
		}

		content := fmt.Sprintf("%s%s  %s  %s", marker, modalityStyle.Render(fmt.Sprintf("%-3s", modality)),
			truncate(desc, width-20), count)

		if i == m.selected {
			lines = append(lines, datasetSelectedStyle.Width(width).Render(content))
		} else {
			lines = append(lines, datasetItemStyle.Width(width).Render(content))
		}
	}

	return strings.Join(lines, "\n")
}

// renderDatasetPanel wraps the list in a styled panel.
func renderDatasetPanel(m *Model, width, height int) string {
	content := renderDatasets(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneDatasets {
		style = panelActiveStyle
	}
	return style.Width(width).Height(height).Render(content)
}
