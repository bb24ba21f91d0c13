package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/event"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/session"
	"github.com/Mr-Dark-debug/radview/internal/tools"
	"github.com/Mr-Dark-debug/radview/internal/watch"
)

// ────────────────────────────────────────────────────────────
// Pane focuses
// ────────────────────────────────────────────────────────────

// Pane represents which UI pane currently has keyboard focus.
type Pane int

const (
	PaneDatasets Pane = iota
	PaneDetail
	PaneDiff
)

// ────────────────────────────────────────────────────────────
// Model
// ────────────────────────────────────────────────────────────

// Options wires a Model to a running session.
type Options struct {
	Controller *session.Controller
	Bus        *event.Bus
	// Drops delivers batches from a watched folder; nil disables it.
	Drops   <-chan []engine.File
	DropDir string
	Logger  *logging.Logger
}

// Model is the root BubbleTea model. It owns the controller: every
// controller call and every bus publish happens in Update.
type Model struct {
	ctrl    *session.Controller
	bus     *event.Bus
	drops   <-chan []engine.File
	dropDir string
	log     *logging.Logger

	// Data
	snap  session.Change
	tools []tools.Descriptor

	// UI state
	activePane Pane
	selected   int
	diffBase   string
	diffScroll int
	width      int
	height     int
	inputMode  bool
	input      textinput.Model
	progress   progress.Model

	// Status
	statusMsg string
	err       error
}

// NewModel creates a model for an initialized controller.
func NewModel(opts Options) Model {
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}

	inp := textinput.New()
	inp.Placeholder = "paths to DICOM files or folders"
	inp.Prompt = "open > "

	m := Model{
		ctrl:      opts.Controller,
		bus:       opts.Bus,
		drops:     opts.Drops,
		dropDir:   opts.DropDir,
		log:       log.WithComponent("tui"),
		tools:     opts.Controller.Tools(),
		input:     inp,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		statusMsg: "Ready",
	}
	m.refresh()
	return m
}

// ────────────────────────────────────────────────────────────
// Messages
// ────────────────────────────────────────────────────────────

type busEventMsg struct{ ev event.Event }
type busClosedMsg struct{}
type dropMsg []engine.File
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// ────────────────────────────────────────────────────────────
// Init
// ────────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.bus), waitForDrop(m.drops))
}

// waitForEvent hands the next queued engine event to Update.
func waitForEvent(bus *event.Bus) tea.Cmd {
	if bus == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case ev := <-bus.Events():
			return busEventMsg{ev}
		case <-bus.Done():
			return busClosedMsg{}
		}
	}
}

func waitForDrop(drops <-chan []engine.File) tea.Cmd {
	if drops == nil {
		return nil
	}
	return func() tea.Msg {
		batch, ok := <-drops
		if !ok {
			return nil
		}
		return dropMsg(batch)
	}
}

// ────────────────────────────────────────────────────────────
// Update
// ────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = clamp(msg.Width/3, 10, 60)
		return m, nil

	case tea.KeyMsg:
		if m.inputMode {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)

	case busEventMsg:
		m.bus.Publish(msg.ev)
		m.refresh()
		m.describeEvent(msg.ev)
		return m, waitForEvent(m.bus)

	case busClosedMsg:
		m.statusMsg = "Engine disconnected"
		return m, nil

	case dropMsg:
		m.load([]engine.File(msg), "drop folder")
		return m, waitForDrop(m.drops)

	case errMsg:
		m.setErr(msg.err)
		return m, nil
	}

	return m, nil
}

// handleInputKey routes keys while the open-files prompt is active.
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closeInput()
		return m, nil
	case "enter":
		paths := strings.Fields(m.input.Value())
		m.closeInput()
		if len(paths) == 0 {
			return m, nil
		}
		files, err := watch.Collect(paths)
		if err != nil {
			m.setErr(err)
			return m, nil
		}
		m.load(files, "selection")
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey routes keyboard input in normal mode.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "o":
		m.inputMode = true
		m.input.SetValue("")
		return m, m.input.Focus()

	case "t":
		o, err := m.ctrl.ToggleOrientation()
		if err != nil {
			m.setErr(err)
		} else {
			m.statusMsg = "Orientation: " + o.String()
		}
		m.refresh()
		return m, nil

	case "r":
		if m.ctrl.ResetDisplay() {
			m.statusMsg = "Display reset"
		} else {
			m.statusMsg = "Nothing to reset"
		}
		return m, nil

	case "x":
		if err := m.ctrl.Reset(); err != nil {
			m.setErr(err)
		} else {
			m.statusMsg = "Session reset"
		}
		m.refresh()
		return m, nil

	case "tab":
		m.activePane = (m.activePane + 1) % 3
		return m, nil

	case "shift+tab":
		m.activePane = (m.activePane + 2) % 3
		return m, nil

	case "d":
		m.togglePin()
		return m, nil
	}

	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		m.selectTool(int(key[0] - '1'))
		return m, nil
	}

	switch m.activePane {
	case PaneDatasets:
		switch key {
		case "j", "down":
			m.selected = clamp(m.selected+1, 0, len(m.snap.Session.DataIDs)-1)
		case "k", "up":
			m.selected = clamp(m.selected-1, 0, len(m.snap.Session.DataIDs)-1)
		}

	case PaneDiff:
		switch key {
		case "j", "down":
			m.diffScroll++
		case "k", "up":
			if m.diffScroll > 0 {
				m.diffScroll--
			}
		}
	}

	return m, nil
}

// ────────────────────────────────────────────────────────────
// Actions
// ────────────────────────────────────────────────────────────

func (m *Model) load(files []engine.File, source string) {
	if err := m.ctrl.LoadFiles(files); err != nil {
		m.setErr(err)
	} else {
		m.err = nil
		m.statusMsg = fmt.Sprintf("Loading %d files from %s", len(files), source)
	}
	m.selected = 0
	m.diffBase = ""
	m.refresh()
}

// selectTool activates the i-th registered tool. Pressing the key of the
// active Draw tool again moves to its next shape.
func (m *Model) selectTool(i int) {
	if i < 0 || i >= len(m.tools) {
		return
	}
	d := m.tools[i]
	name := d.Name
	if len(d.SubOptions) > 0 {
		opt := d.SubOptions[0]
		cur := m.snap.Tool
		if strings.EqualFold(cur.Kind.String(), d.Name) {
			if j := indexOf(d.SubOptions, cur.Option); j >= 0 {
				opt = d.SubOptions[(j+1)%len(d.SubOptions)]
			}
		}
		name = d.Name + ":" + opt
	}

	if err := m.ctrl.SetTool(name); err != nil {
		var tu *session.ToolUnavailableError
		if errors.As(err, &tu) && tu.Reason != "" {
			m.statusMsg = fmt.Sprintf("%s unavailable: %s", name, tu.Reason)
			return
		}
		m.setErr(err)
		return
	}
	m.refresh()
	m.statusMsg = "Tool: " + m.snap.Tool.String()
}

func (m *Model) togglePin() {
	id, ok := m.selectedID()
	if !ok {
		return
	}
	if m.diffBase == id {
		m.diffBase = ""
		m.statusMsg = "Comparison cleared"
		return
	}
	m.diffBase = id
	m.diffScroll = 0
	m.statusMsg = "Comparing against " + shortID(id, 8)
}

func (m *Model) closeInput() {
	m.inputMode = false
	m.input.Blur()
}

func (m *Model) setErr(err error) {
	m.err = err
	m.statusMsg = "Error: " + err.Error()
	m.log.Warn("viewer action failed", "error", err)
}

// refresh re-reads the session after anything that may have changed it.
func (m *Model) refresh() {
	m.snap = m.ctrl.Snapshot()
	ids := m.snap.Session.DataIDs
	m.selected = clamp(m.selected, 0, max(len(ids)-1, 0))
	if m.diffBase != "" && indexOf(ids, m.diffBase) < 0 {
		m.diffBase = ""
	}
}

func (m *Model) describeEvent(ev event.Event) {
	s := m.snap.Session
	if ev.Generation() != s.Generation {
		return
	}
	switch e := ev.(type) {
	case event.LoadEnd:
		if s.State == session.Loaded {
			m.err = nil
			m.statusMsg = fmt.Sprintf("Loaded %d datasets", len(s.DataIDs))
		}
	case event.LoadFailed:
		if s.State == session.Error {
			m.err = s.Err()
			m.statusMsg = "Load failed: " + e.Message
		}
	}
}

func (m Model) selectedID() (string, bool) {
	ids := m.snap.Session.DataIDs
	if m.selected < 0 || m.selected >= len(ids) {
		return "", false
	}
	return ids[m.selected], true
}

// ────────────────────────────────────────────────────────────
// View
// ────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(&m)
	toolbar := renderToolbar(&m)
	footer := renderFooter(&m)

	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(toolbar) - lipgloss.Height(footer)

	var body string
	if len(m.snap.Session.DataIDs) == 0 {
		body = renderEmptyState(&m, bodyHeight)
	} else {
		body = m.renderMainLayout(bodyHeight)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, toolbar, body, footer)
}

// renderMainLayout assembles the dataset, detail and diff panes.
func (m Model) renderMainLayout(totalHeight int) string {
	// Responsive: collapse to single pane on narrow terminals
	if m.width < 60 {
		return m.renderCompactLayout(totalHeight)
	}

	leftWidth := m.width * 45 / 100
	rightWidth := m.width - leftWidth
	topHeight := totalHeight * 65 / 100
	bottomHeight := totalHeight - topHeight

	list := renderDatasetPanel(&m, leftWidth, topHeight)
	detail := renderDetailPanel(&m, rightWidth, topHeight)
	diff := renderDiffPanel(&m, m.width, bottomHeight)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, list, detail)
	return lipgloss.JoinVertical(lipgloss.Left, topRow, diff)
}

// renderCompactLayout shows only the focused pane.
func (m Model) renderCompactLayout(totalHeight int) string {
	switch m.activePane {
	case PaneDetail:
		return renderDetailPanel(&m, m.width, totalHeight)
	case PaneDiff:
		return renderDiffPanel(&m, m.width, totalHeight)
	default:
		return renderDatasetPanel(&m, m.width, totalHeight)
	}
}
