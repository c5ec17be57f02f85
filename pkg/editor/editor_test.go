package editor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/trace"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	saved   []*scenario.Scenario
	started []*scenario.Scenario
	stopped []string
	stored  map[string]*scenario.Scenario
	err     error
}

func (f *fakeBackend) SaveScenario(_ context.Context, sc *scenario.Scenario) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, sc)
	return strings.ReplaceAll(sc.Name, " ", ""), nil
}

func (f *fakeBackend) LoadScenario(_ context.Context, name string) (*scenario.Scenario, error) {
	if sc, ok := f.stored[name]; ok {
		return sc.Clone(), nil
	}
	return nil, errors.New("Scenario not found")
}

func (f *fakeBackend) StartScenario(_ context.Context, sc *scenario.Scenario) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, sc)
	return "run-1", nil
}

func (f *fakeBackend) StopScenario(_ context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func withSteps(t *testing.T, e *Editor, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := e.AddStep(scenario.NewStep(tool, "{target}")); err != nil {
			t.Fatalf("add %s: %v", tool, err)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseBuilding, true},
		{PhaseIdle, PhaseRunning, false},
		{PhaseBuilding, PhaseSubmitting, true},
		{PhaseSubmitting, PhaseRunning, true},
		{PhaseSubmitting, PhaseBuilding, true},
		{PhaseRunning, PhaseCompleted, true},
		{PhaseRunning, PhaseBuilding, false},
		{PhaseRunning, PhaseIdle, true},
		{PhaseCompleted, PhaseBuilding, true},
		{PhaseError, PhaseSubmitting, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s → %s = %t, want %t", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStepEditing(t *testing.T) {
	e := New(nil)
	if e.Phase() != PhaseIdle {
		t.Fatalf("initial phase %s", e.Phase())
	}
	withSteps(t, e, "nmap", "nikto", "gobuster")
	if e.Phase() != PhaseBuilding {
		t.Errorf("phase after add = %s", e.Phase())
	}

	if err := e.MoveStep(2, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveStep(1); err != nil {
		t.Fatal(err)
	}
	st := scenario.NewStep("whatweb", "-v")
	if err := e.UpdateStep(1, st); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveStep(5); err == nil {
		t.Error("out of range remove accepted")
	}
	if _, err := e.AddStep(scenario.Step{}); err == nil {
		t.Error("step without tool accepted")
	}

	sc := e.Scenario()
	var tools []string
	for i, st := range sc.Steps {
		tools = append(tools, st.Tool)
		if st.Metadata.Index != i {
			t.Errorf("step %d has index %d", i, st.Metadata.Index)
		}
		if st.Timeout != scenario.DefaultTimeout {
			t.Errorf("step %d timeout %d", i, st.Timeout)
		}
	}
	if diff := cmp.Diff([]string{"gobuster", "whatweb"}, tools); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
}

func TestLoadStripsExamplePrefix(t *testing.T) {
	e := New(nil)
	if err := e.LoadExample("network-recon"); err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(e.Name(), scenario.ExamplePrefix) {
		t.Errorf("name kept prefix: %q", e.Name())
	}
	if got := e.Variables()["target_network"]; got != "192.168.1.0/24" {
		t.Errorf("target_network = %q", got)
	}
	if err := e.LoadExample("nope"); !errors.Is(err, examples.ErrUnknown) {
		t.Errorf("unknown example err = %v", err)
	}
}

func TestExampleSaveRoundTrip(t *testing.T) {
	for _, id := range examples.IDs {
		t.Run(id, func(t *testing.T) {
			fb := &fakeBackend{}
			e := New(fb)
			if err := e.LoadExample(id); err != nil {
				t.Fatal(err)
			}
			if _, err := e.Save(context.Background()); err != nil {
				t.Fatalf("save: %v", err)
			}
			want, _ := examples.Get(id)
			want.Name = examples.StripPrefix(want.Name)
			if !scenario.Equal(want, fb.saved[0]) {
				t.Errorf("saved document differs from example")
			}
		})
	}
}

func TestClearConfirmation(t *testing.T) {
	e := New(nil)
	e.SetName("scan")
	withSteps(t, e, "nmap")
	e.SetVariable("target", "10.0.0.1")

	cleared, err := e.Clear(func() bool { return false })
	if err != nil || cleared {
		t.Fatalf("declined clear = %t, %v", cleared, err)
	}
	if len(e.Steps()) != 1 {
		t.Fatal("declined clear removed steps")
	}

	cleared, err = e.Clear(func() bool { return true })
	if err != nil || !cleared {
		t.Fatalf("confirmed clear = %t, %v", cleared, err)
	}
	if len(e.Steps()) != 0 || len(e.Variables()) != 0 || e.Name() != "" {
		t.Error("clear left state behind")
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("phase after clear = %s", e.Phase())
	}
	if diff := cmp.Diff(Buttons{}, e.Buttons()); diff != "" {
		t.Errorf("buttons after clear (-want +got):\n%s", diff)
	}

	cleared, _ = e.Clear(func() bool {
		t.Error("confirm asked for an empty draft")
		return true
	})
	if cleared {
		t.Error("empty draft reported as cleared")
	}

	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if e.Name() != "scan" || len(e.Steps()) != 1 || e.Variables()["target"] != "10.0.0.1" {
		t.Error("undo did not restore the draft")
	}
	if err := e.Undo(); err == nil {
		t.Error("second undo succeeded")
	}
}

func TestSaveBlockedLocally(t *testing.T) {
	fb := &fakeBackend{}
	e := New(fb)
	ctx := context.Background()

	withSteps(t, e, "nmap")
	if _, err := e.Save(ctx); !errors.Is(err, ErrNameRequired) {
		t.Errorf("unnamed save err = %v", err)
	}

	e.SetName("scan")
	e.RemoveStep(0)
	if _, err := e.Save(ctx); !errors.Is(err, ErrNoSteps) {
		t.Errorf("empty save err = %v", err)
	}

	st := scenario.NewStep("nmap", "{target}")
	st.Condition = scenario.Condition{Type: scenario.KindPrevRegex, Value: "([a-z"}
	e.AddStep(st)
	if _, err := e.Save(ctx); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid regex save err = %v", err)
	}
	if len(fb.saved) != 0 {
		t.Errorf("backend called %d times", len(fb.saved))
	}
	if e.Phase() != PhaseBuilding {
		t.Errorf("phase = %s", e.Phase())
	}
}

func TestSaveFailureKeepsDraft(t *testing.T) {
	fb := &fakeBackend{err: errors.New("connection refused")}
	e := New(fb)
	e.SetName("scan")
	withSteps(t, e, "nmap", "nikto")

	if _, err := e.Save(context.Background()); err == nil {
		t.Fatal("save succeeded")
	}
	if e.Phase() != PhaseBuilding || len(e.Steps()) != 2 {
		t.Errorf("phase %s with %d steps", e.Phase(), len(e.Steps()))
	}
	if e.Err() == nil {
		t.Error("error not retained")
	}

	fb.err = nil
	name, err := e.Save(context.Background())
	if err != nil || name != "scan" {
		t.Errorf("retry = %q, %v", name, err)
	}
}

func TestRunAppliesEvents(t *testing.T) {
	fb := &fakeBackend{}
	e := New(fb)
	withSteps(t, e, "nmap", "nikto")
	e.SetVariable("target", "10.0.0.5")

	id, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if e.Phase() != PhaseRunning || id != "run-1" {
		t.Fatalf("phase %s id %q", e.Phase(), id)
	}
	if diff := cmp.Diff(Buttons{Stop: true}, e.Buttons()); diff != "" {
		t.Errorf("buttons while running (-want +got):\n%s", diff)
	}
	if _, err := e.AddStep(scenario.NewStep("x")); !errors.Is(err, ErrBusy) {
		t.Errorf("edit while running err = %v", err)
	}

	emit := func(evt trace.Event) {
		evt.RunID = id
		e.Apply(evt)
	}
	emit(trace.Progress(0, "nmap", "running nmap"))
	if e.CurrentStep() != 0 {
		t.Errorf("current = %d", e.CurrentStep())
	}
	emit(trace.Log("nmap", "22/tcp open ssh"))
	emit(trace.StepResult(0, "nmap", true, "22/tcp open ssh", map[string]string{"port": "22"}))
	emit(trace.VariablesUpdated(map[string]string{"port": "2222", "os": "linux"}))
	emit(trace.Skipped(1, "nikto", "condition not met"))

	stray := trace.StepResult(1, "nikto", true, "", map[string]string{"port": "80"})
	stray.RunID = "other"
	e.Apply(stray)

	if r, _ := e.Result(0); !r.Success || r.Variables["port"] != "22" {
		t.Errorf("result 0 = %+v", r)
	}
	if r, _ := e.Result(1); r.Skipped == "" {
		t.Errorf("result 1 = %+v", r)
	}
	want := map[string]string{"target": "10.0.0.5", "port": "2222", "os": "linux"}
	if diff := cmp.Diff(want, e.Variables()); diff != "" {
		t.Errorf("variables (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"[nmap] 22/tcp open ssh"}, e.Log()); diff != "" {
		t.Errorf("log (-want +got):\n%s", diff)
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"run-1"}, fb.stopped); diff != "" {
		t.Errorf("stopped (-want +got):\n%s", diff)
	}

	emit(trace.Completed(true))
	if e.Phase() != PhaseCompleted || e.CurrentStep() != -1 {
		t.Errorf("phase %s current %d", e.Phase(), e.CurrentStep())
	}
	if err := e.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stop after completion err = %v", err)
	}
	if b := e.Buttons(); !b.Run || b.Stop {
		t.Errorf("buttons after completion = %+v", b)
	}
}

func TestRunErrorEvent(t *testing.T) {
	e := New(&fakeBackend{})
	withSteps(t, e, "nmap")
	id, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	evt := trace.Error(0, "unknown condition type")
	evt.RunID = id
	e.Apply(evt)
	done := trace.Completed(false)
	done.RunID = id
	e.Apply(done)
	if e.Phase() != PhaseError {
		t.Errorf("phase = %s", e.Phase())
	}
	if e.Err() == nil || e.Err().Error() != "unknown condition type" {
		t.Errorf("err = %v", e.Err())
	}
}

func TestRunUnsuccessfulCompletion(t *testing.T) {
	e := New(&fakeBackend{})
	withSteps(t, e, "nmap")
	id, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	done := trace.Completed(false)
	done.RunID = id
	e.Apply(done)
	if e.Phase() != PhaseError {
		t.Errorf("phase = %s, want %s", e.Phase(), PhaseError)
	}
	if e.Err() == nil {
		t.Error("no error recorded for failed run")
	}
	if b := e.Buttons(); !b.Run || b.Stop {
		t.Errorf("buttons after failure = %+v", b)
	}
}

func TestRunStoppedCompletion(t *testing.T) {
	fb := &fakeBackend{}
	e := New(fb)
	withSteps(t, e, "nmap")
	id, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := trace.Completed(false)
	done.RunID = id
	e.Apply(done)
	if e.Phase() != PhaseIdle {
		t.Errorf("phase = %s, want %s", e.Phase(), PhaseIdle)
	}
	if e.Err() != nil {
		t.Errorf("err = %v", e.Err())
	}
}

func TestDetachedEditor(t *testing.T) {
	e := New(nil)
	e.SetName("scan")
	withSteps(t, e, "nmap")
	if _, err := e.Save(context.Background()); !errors.Is(err, ErrNoBackend) {
		t.Errorf("save err = %v", err)
	}
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrNoBackend) {
		t.Errorf("run err = %v", err)
	}
}

func TestOpenFromBackend(t *testing.T) {
	sc := scenario.New("stored", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	sc.Steps = append(sc.Steps, scenario.NewStep("nmap", "-sV"))
	fb := &fakeBackend{stored: map[string]*scenario.Scenario{"stored": sc}}
	e := New(fb)
	if err := e.Open(context.Background(), "stored"); err != nil {
		t.Fatal(err)
	}
	if e.Name() != "stored" || len(e.Steps()) != 1 {
		t.Errorf("opened %q with %d steps", e.Name(), len(e.Steps()))
	}
	if err := e.Open(context.Background(), "missing"); err == nil {
		t.Error("missing scenario opened")
	}
}

func newTestREPL(e *Editor, answer bool) (*REPL, *bytes.Buffer) {
	var buf bytes.Buffer
	r := &REPL{editor: e, output: &buf, confirm: func(string) bool { return answer }}
	return r, &buf
}

func TestREPLHelp(t *testing.T) {
	r, buf := newTestREPL(New(nil), false)
	r.handleHelp()
	out := buf.String()
	for _, cmd := range []string{"add", "cond", "extract", "save", "run", "clear", "undo", "quit"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing command %q", cmd)
		}
	}
}

func TestREPLBuildScenario(t *testing.T) {
	e := New(nil)
	r, buf := newTestREPL(e, true)
	ctx := context.Background()

	for _, line := range []string{
		"name Web sweep",
		"set target 10.0.0.5",
		`add nmap -sV "{target}"`,
		"add nikto -h {target}",
		"cond 2 prev_success",
		"cond 1 time_after 09:00",
		"extract 1 port ([0-9]+)/tcp\\s+open",
		"timeout 2 600",
	} {
		if r.Exec(ctx, line) {
			t.Fatalf("%q exited", line)
		}
	}
	if strings.Contains(buf.String(), "Error") {
		t.Fatalf("unexpected error output:\n%s", buf.String())
	}

	steps := e.Steps()
	if steps[0].Condition.Value != "09:00" || steps[1].Condition.Type != scenario.KindPrevSuccess {
		t.Errorf("conditions = %+v, %+v", steps[0].Condition, steps[1].Condition)
	}
	if steps[0].Variables["port"] != `([0-9]+)/tcp\s+open` {
		t.Errorf("extract = %q", steps[0].Variables["port"])
	}
	if steps[1].Timeout != 600 {
		t.Errorf("timeout = %d", steps[1].Timeout)
	}

	buf.Reset()
	r.Exec(ctx, "list")
	if !strings.Contains(buf.String(), "IF prev_success THEN nikto -h {target}") {
		t.Errorf("list output:\n%s", buf.String())
	}

	buf.Reset()
	r.Exec(ctx, "cond 1 prev_regex")
	if !strings.Contains(buf.String(), "requires a value") {
		t.Errorf("missing value output:\n%s", buf.String())
	}

	buf.Reset()
	r.Exec(ctx, "clear")
	if !strings.Contains(buf.String(), "Cleared") || len(e.Steps()) != 0 {
		t.Errorf("clear output:\n%s", buf.String())
	}
	r.Exec(ctx, "undo")
	if len(e.Steps()) != 2 {
		t.Errorf("undo restored %d steps", len(e.Steps()))
	}

	if !r.Exec(ctx, "quit") {
		t.Error("quit did not exit")
	}
}

func TestREPLUnknownCommand(t *testing.T) {
	r, buf := newTestREPL(New(nil), false)
	r.Exec(context.Background(), "frobnicate")
	if !strings.Contains(buf.String(), "Unknown command") {
		t.Errorf("output: %s", buf.String())
	}
}
