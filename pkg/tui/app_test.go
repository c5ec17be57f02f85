package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/octapusprime/octapus/pkg/trace"
)

func feed(t *testing.T, m Model, events ...trace.Event) Model {
	t.Helper()
	for _, evt := range events {
		next, _ := m.Update(eventMsg{evt: evt})
		m = next.(Model)
	}
	return m
}

func withRun(evt trace.Event, id string) trace.Event {
	evt.RunID = id
	return evt
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func TestModelFollowsRun(t *testing.T) {
	m := sized(NewModel(Config{Source: "http://localhost:8080"}))
	m = feed(t, m,
		withRun(trace.Started("Web sweep", "r1", 3), "r1"),
		withRun(trace.Progress(0, "nmap", "Step 1/3: nmap"), "r1"),
		withRun(trace.Log("nmap", "80/tcp open http"), "r1"),
		withRun(trace.StepResult(0, "nmap", true, "80/tcp open http", map[string]string{"port": "80"}), "r1"),
		withRun(trace.Skipped(1, "nikto", "condition not met"), "r1"),
		withRun(trace.Progress(2, "gobuster", "Step 3/3: gobuster"), "r1"),
		withRun(trace.StepResult(2, "gobuster", false, "", nil), "r1"),
		withRun(trace.VariablesUpdated(map[string]string{"os": "linux"}), "r1"),
	)

	if !m.running || m.name != "Web sweep" {
		t.Fatalf("running=%t name=%q", m.running, m.name)
	}
	total, passed, failed, skipped := m.steps.Stats()
	if total != 3 || passed != 1 || failed != 1 || skipped != 1 {
		t.Errorf("stats = %d/%d/%d/%d", total, passed, failed, skipped)
	}
	if m.steps.steps[1].Note != "condition not met" {
		t.Errorf("skip note = %q", m.steps.steps[1].Note)
	}
	if m.vars["port"] != "80" || m.vars["os"] != "linux" {
		t.Errorf("vars = %v", m.vars)
	}
	if !strings.Contains(m.output.content(), "80/tcp open http") {
		t.Errorf("log missing tool line:\n%s", m.output.content())
	}

	m = feed(t, m, withRun(trace.Completed(false), "r1"))
	if m.running || !m.finished || m.success {
		t.Errorf("running=%t finished=%t success=%t", m.running, m.finished, m.success)
	}
	if !strings.Contains(m.View(), "failed") {
		t.Errorf("view missing failed state")
	}
}

func TestModelIgnoresOtherRuns(t *testing.T) {
	m := sized(NewModel(Config{}))
	m = feed(t, m,
		withRun(trace.Started("a", "r1", 1), "r1"),
		withRun(trace.StepResult(0, "nmap", true, "", map[string]string{"x": "1"}), "r2"),
	)
	if len(m.vars) != 0 {
		t.Errorf("foreign event applied: %v", m.vars)
	}
}

func TestModelDynamicSequenceGrows(t *testing.T) {
	m := sized(NewModel(Config{}))
	m = feed(t, m,
		withRun(trace.Started("Dynamic Nmap Sequence", "r1", 1), "r1"),
		withRun(trace.Progress(0, "nmap", "Running nmap"), "r1"),
		withRun(trace.ScanComplete("nmap", true), "r1"),
		withRun(trace.Progress(1, "nikto", "Running nikto"), "r1"),
		withRun(trace.ScanComplete("nikto", true), "r1"),
	)
	total, passed, _, _ := m.steps.Stats()
	if total != 2 || passed != 2 {
		t.Errorf("total=%d passed=%d", total, passed)
	}
}

func TestModelStopKey(t *testing.T) {
	var stopped string
	m := sized(NewModel(Config{Stop: func(_ context.Context, id string) error {
		stopped = id
		return nil
	}}))
	m = feed(t, m, withRun(trace.Started("a", "r1", 1), "r1"))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if cmd == nil {
		t.Fatal("stop key produced no command")
	}
	if msg, ok := cmd().(stopDoneMsg); !ok || msg.err != nil {
		t.Errorf("msg = %#v", msg)
	}
	if stopped != "r1" {
		t.Errorf("stopped %q", stopped)
	}
}

func TestModelStreamClosed(t *testing.T) {
	events := make(chan trace.Event)
	close(events)
	m := sized(NewModel(Config{Events: events}))
	msg := m.listenForEvents()()
	if _, ok := msg.(streamClosedMsg); !ok {
		t.Fatalf("msg = %#v", msg)
	}
	next, _ := m.Update(msg)
	if !strings.Contains(next.(Model).View(), "disconnected") {
		t.Error("view missing disconnected state")
	}
}

func TestModelBrowseAndVars(t *testing.T) {
	m := sized(NewModel(Config{}))
	m = feed(t, m,
		withRun(trace.Started("a", "r1", 2), "r1"),
		withRun(trace.StepResult(0, "nmap", true, "22/tcp open ssh", map[string]string{"port": "22"}), "r1"),
		withRun(trace.Progress(1, "nikto", "Step 2/2: nikto"), "r1"),
	)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	if m.output.pinned != "22/tcp open ssh" || m.output.title != "Step 1: nmap" {
		t.Errorf("pinned %q as %q", m.output.pinned, m.output.title)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'f'}})
	m = next.(Model)
	if m.output.pinned != "" {
		t.Error("follow did not unpin")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'v'}})
	m = next.(Model)
	if !m.showVars || !strings.Contains(m.View(), "port") {
		t.Error("vars panel not shown")
	}
}

func TestHighlightContent(t *testing.T) {
	out, n := HighlightContent("Open port\nopen PORT", "port")
	if n != 2 {
		t.Errorf("matches = %d", n)
	}
	if out == "" {
		t.Error("empty output")
	}
	if _, n := HighlightContent("abc", ""); n != 0 {
		t.Errorf("empty query matched %d", n)
	}
}

func TestRenderGuide(t *testing.T) {
	if !strings.Contains(Guide(), "# Octapus scenario guide") {
		t.Fatal("guide not embedded")
	}
	out := RenderGuide(Guide(), 80)
	if !strings.Contains(out, "Conditions") {
		t.Errorf("rendered guide missing section")
	}
	if RenderGuide("  ", 80) != "  " {
		t.Error("blank input changed")
	}
}
