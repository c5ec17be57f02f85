package tui

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/octapusprime/octapus/pkg/trace"
)

// --- Tea messages ---

// eventMsg wraps one event from the server stream.
type eventMsg struct{ evt trace.Event }

// streamClosedMsg signals the event stream ended.
type streamClosedMsg struct{}

// stopDoneMsg is sent after a stop request completes.
type stopDoneMsg struct{ err error }

// Config holds the parameters needed to launch the dashboard.
type Config struct {
	// Events is the server's event stream.
	Events <-chan trace.Event
	// Stop asks the server to stop a run. Nil disables the stop key.
	Stop func(ctx context.Context, id string) error
	// Source is shown in the header, usually the server URL.
	Source string
}

// Model is the top-level Bubble Tea model of the watch dashboard.
type Model struct {
	steps   stepsPanel
	output  outputPanel
	spinner spinner.Model
	search  searchBar

	events <-chan trace.Event
	stop   func(ctx context.Context, id string) error
	source string

	runID    string
	name     string
	current  int
	running  bool
	finished bool
	success  bool
	closed   bool
	errMsg   string
	vars     map[string]string
	showVars bool

	startTime time.Time
	endTime   time.Time

	width  int
	height int
}

// NewModel returns a dashboard reading from cfg.Events.
func NewModel(cfg Config) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		steps:   newStepsPanel(),
		output:  newOutputPanel(),
		spinner: sp,
		search:  newSearchBar(),
		events:  cfg.Events,
		stop:    cfg.Stop,
		source:  cfg.Source,
		current: -1,
		vars:    map[string]string{},
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(cfg Config) error {
	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init starts the spinner and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents())
}

// listenForEvents returns a command that waits for the next server event.
func (m Model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{evt: evt}
	}
}

// stopRun sends a stop request for the current run.
func (m Model) stopRun() tea.Cmd {
	id := m.runID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return stopDoneMsg{err: m.stop(ctx, id)}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layoutPanels()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.output.Update(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		m.apply(msg.evt)
		cmds = append(cmds, m.listenForEvents())

	case streamClosedMsg:
		m.closed = true
		m.running = false

	case stopDoneMsg:
		if msg.err != nil {
			m.errMsg = "stop: " + msg.err.Error()
		}
	}

	return m, tea.Batch(cmds...)
}

// apply folds one server event into the view state. Once a run is
// known, events of other runs are ignored until the next start.
func (m *Model) apply(evt trace.Event) {
	if evt.Type == trace.EventScenarioStarted {
		m.runID = evt.RunID
		m.name = evt.String("name")
		m.steps.Reset(evt.Int("steps"))
		m.current = -1
		m.running = true
		m.finished = false
		m.success = false
		m.errMsg = ""
		m.vars = map[string]string{}
		m.startTime = evt.Timestamp
		m.output.AppendLine(headerStyle.Render("━━━ " + m.name + " ━━━"))
		return
	}
	if m.runID != "" && evt.RunID != "" && evt.RunID != m.runID {
		return
	}

	switch evt.Type {
	case trace.EventLog:
		m.output.AppendLine(toolStyle.Render("["+evt.String("tool")+"]") + " " + evt.String("line"))

	case trace.EventScenarioProgress:
		m.current = evt.Int("step_index")
		m.steps.SetCurrent(m.current)
		m.steps.SetResult(m.current, evt.String("tool"), statusCurrent, "", "")
		m.output.AppendLine(statusRunningStyle.Render("▸ " + evt.String("message")))

	case trace.EventStepResult:
		status := statusFailed
		if evt.Bool("success") {
			status = statusPassed
		}
		m.steps.SetResult(evt.Int("step_index"), evt.String("tool"), status, "", evt.String("output"))
		maps.Copy(m.vars, evt.StringMap("variables"))

	case trace.EventScanComplete:
		status := statusFailed
		if evt.Bool("success") {
			status = statusPassed
		}
		m.steps.SetResult(m.current, evt.String("tool"), status, "", "")

	case trace.EventStepSkipped:
		reason := evt.String("reason")
		m.steps.SetResult(evt.Int("step_index"), evt.String("tool"), statusSkipped, reason, "")
		m.output.AppendLine(keyDescStyle.Render(fmt.Sprintf("⏭ step %d skipped: %s", evt.Int("step_index")+1, reason)))

	case trace.EventVariableUpdated:
		maps.Copy(m.vars, evt.StringMap("variables"))

	case trace.EventError:
		m.errMsg = evt.String("message")
		m.output.AppendLine(errorStyle.Render("✗ " + m.errMsg))

	case trace.EventScenarioCompleted:
		m.running = false
		m.finished = true
		m.success = evt.Bool("success")
		m.endTime = evt.Timestamp
	}
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Always allow quit (except when search is active; q is a character)
	if !m.search.IsActive() && key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}

	if m.search.IsActive() {
		dropped, cmd := m.search.Update(msg)
		if dropped {
			m.output.ClearHighlight()
		} else {
			m.search.matches = m.output.SetHighlight(m.search.Query())
		}
		return m, cmd
	}

	if msg.String() == "esc" {
		switch {
		case m.showVars:
			m.showVars = false
		case m.search.HasQuery():
			m.search.Close()
			m.output.ClearHighlight()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Up):
		m.steps.CursorUp()
		m.pinSelected()
	case key.Matches(msg, keys.Down):
		m.steps.CursorDown()
		m.pinSelected()
	case key.Matches(msg, keys.Follow):
		m.output.Follow()
	case key.Matches(msg, keys.PgUp):
		m.output.PageUp()
	case key.Matches(msg, keys.PgDown):
		m.output.PageDown()
	case key.Matches(msg, keys.Vars):
		m.showVars = !m.showVars
	case key.Matches(msg, keys.Search):
		m.search.Open()
	case key.Matches(msg, keys.Stop):
		if m.running && m.stop != nil && m.runID != "" {
			return m, m.stopRun()
		}
	}
	return m, nil
}

func (m *Model) pinSelected() {
	i, st, ok := m.steps.Selected()
	if !ok {
		return
	}
	title := fmt.Sprintf("Step %d", i+1)
	if st.Tool != "" {
		title += ": " + st.Tool
	}
	out := st.Output
	if st.Note != "" {
		out = st.Note + "\n" + out
	}
	m.output.Pin(title, out)
}

// layoutPanels splits the screen between the step list and the output.
func (m *Model) layoutPanels() {
	if m.width == 0 || m.height == 0 {
		return
	}
	bodyH := max(m.height-4, 3) // header + key bar + search
	stepsW := max(m.width/3, 24)
	if m.width < 80 {
		stepsW = m.width
	}
	m.steps.width = stepsW - 2
	m.steps.height = bodyH - 2
	outW := m.width - stepsW
	if m.width < 80 {
		outW = m.width
	}
	m.output.SetSize(outW-2, bodyH-2)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	var body string
	if m.showVars {
		body = m.varsView()
	} else if m.width < 80 {
		body = lipgloss.JoinVertical(lipgloss.Left, m.steps.View(), m.output.View())
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.steps.View(), m.output.View())
	}

	parts := []string{m.headerView(), body}
	if s := m.search.View(); s != "" {
		parts = append(parts, " "+s)
	}
	parts = append(parts, keyBarStyle.Render(keyBarText(m.running, m.showVars)))
	return strings.Join(parts, "\n")
}

func (m Model) headerView() string {
	name := m.name
	if name == "" {
		name = "octapus"
	}
	h := headerStyle.Render(name)
	if m.source != "" {
		h += keyDescStyle.Render(m.source)
	}

	var state string
	switch {
	case m.running:
		state = m.spinner.View() + statusRunningStyle.Render(" running")
		if !m.startTime.IsZero() {
			state += keyDescStyle.Render(" " + time.Since(m.startTime).Round(time.Second).String())
		}
	case m.finished && m.success:
		state = statusPassedStyle.Render(GlyphPassed + " completed")
	case m.finished:
		state = statusFailedStyle.Render(GlyphFailed + " failed")
	case m.closed:
		state = stateBadgeStyle.Render("disconnected")
	default:
		state = keyDescStyle.Render("idle")
	}
	h += "  " + state

	if total, passed, failed, skipped := m.steps.Stats(); total > 0 {
		h += keyDescStyle.Render(fmt.Sprintf("  %d steps: %d passed, %d failed, %d skipped", total, passed, failed, skipped))
	}
	if m.errMsg != "" {
		h += "  " + errorStyle.Render(m.errMsg)
	}
	return h
}

func (m Model) varsView() string {
	var lines []string
	if len(m.vars) == 0 {
		lines = append(lines, "  No variables extracted yet.")
	}
	for _, k := range slices.Sorted(maps.Keys(m.vars)) {
		lines = append(lines, "  "+varNameStyle.Render(k)+" = "+varValueStyle.Render(m.vars[k]))
	}
	return panelBorder.Width(max(m.width-2, 10)).Render(
		panelTitle.Render("Variables") + "\n" + strings.Join(lines, "\n"),
	)
}
