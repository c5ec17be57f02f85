package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/executor"
	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/trace"
)

func testdataPath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

type canned struct {
	output string
	exit   int
	err    error
}

// fakeExec returns canned results per tool and records every command.
type fakeExec struct {
	mu      sync.Mutex
	results map[string]canned
	calls   []executor.Command
	block   chan struct{}
	report  string // copied to the -oX path of nmap commands
}

func (f *fakeExec) Run(ctx context.Context, cmd executor.Command, onLine executor.LineFunc) (*executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &executor.Result{ExitCode: -1}, ctx.Err()
		}
	}
	if i := slices.Index(cmd.Args, "-oX"); i >= 0 && f.report != "" {
		data, err := os.ReadFile(f.report)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(cmd.Args[i+1], data, 0o644); err != nil {
			return nil, err
		}
	}
	c := f.results[cmd.Tool]
	if c.err != nil {
		return nil, c.err
	}
	for _, line := range strings.Split(strings.TrimSuffix(c.output, "\n"), "\n") {
		if line != "" && onLine != nil {
			onLine(line)
		}
	}
	return &executor.Result{ExitCode: c.exit, Output: c.output, Duration: time.Millisecond}, nil
}

func (f *fakeExec) tools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Tool)
	}
	return out
}

type sinkLines struct {
	mu    sync.Mutex
	lines []string
}

func (s *sinkLines) Line(tool, line string) {
	s.mu.Lock()
	s.lines = append(s.lines, "["+tool+"] "+line)
	s.mu.Unlock()
}

func step(tool string, args []string, kind scenario.Kind, op scenario.Operator, value string) scenario.Step {
	st := scenario.NewStep(tool, args...)
	st.Condition = scenario.Condition{Type: kind, Operator: op, Value: value}
	return st
}

func reconScenario() *scenario.Scenario {
	s := scenario.New("recon", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	s.Variables["target"] = "10.0.0.5"
	scan := step("nmap", []string{"-sV", "{target}"}, scenario.KindAlways, "", "")
	scan.Variables = map[string]string{"web_port": `(\d+)/tcp\s+open\s+http`}
	s.Steps = []scenario.Step{
		scan,
		step("nikto", []string{"-h", "http://{target}:{web_port}"}, scenario.KindPrevContains, "", "http"),
		step("hydra", []string{"{target}", "ssh"}, scenario.KindPrevContains, "", "22/tcp"),
		step("whatweb", []string{"{target}"}, scenario.KindVarSet, "", "web_port"),
	}
	return s
}

func TestRun_ConditionalPipeline(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{
		"nmap":    {output: "80/tcp open http Apache\n"},
		"nikto":   {output: "+ Server: Apache\n"},
		"whatweb": {output: "Apache[2.4]\n"},
	}}
	sink := &sinkLines{}
	hub := trace.NewHub(64, nil)
	sub := hub.Subscribe()
	defer sub.Close()

	r := New(Config{Exec: fx, Hub: hub, Sink: sink})
	res := r.Run(context.Background(), reconScenario(), nil)

	if res.State != StateCompleted || !res.Success() {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if diff := cmp.Diff([]string{"nmap", "nikto", "whatweb"}, fx.tools()); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
	if got := fx.calls[1].Args; !slices.Equal(got, []string{"-h", "http://10.0.0.5:80"}) {
		t.Errorf("nikto args = %v", got)
	}
	if res.Steps[2].Status != condition.StatusSkipped || !strings.Contains(res.Steps[2].Reason, "not met") {
		t.Errorf("hydra = %+v", res.Steps[2])
	}
	if res.Variables["web_port"] != "80" || res.Variables["target"] != "10.0.0.5" {
		t.Errorf("variables = %v", res.Variables)
	}
	if res.Variables["date"] == "" {
		t.Error("default variables missing")
	}
	if fx.calls[0].Timeout != 300*time.Second {
		t.Errorf("timeout = %v", fx.calls[0].Timeout)
	}
	if !slices.Contains(sink.lines, "[nmap] 80/tcp open http Apache") {
		t.Errorf("sink = %v", sink.lines)
	}

	seen := map[trace.EventType]int{}
	for len(sub.C) > 0 {
		evt := <-sub.C
		seen[evt.Type]++
	}
	for typ, n := range map[trace.EventType]int{
		trace.EventScenarioStarted:   1,
		trace.EventScenarioProgress:  4,
		trace.EventStepResult:        3,
		trace.EventStepSkipped:       1,
		trace.EventVariableUpdated:   1,
		trace.EventScenarioCompleted: 1,
	} {
		if seen[typ] != n {
			t.Errorf("%s events = %d, want %d", typ, seen[typ], n)
		}
	}
}

func TestRun_PrevIsLastExecutedStep(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{
		"a": {output: "alpha\n"},
		"c": {output: "gamma\n"},
	}}
	s := scenario.New("prev", time.Now())
	s.Steps = []scenario.Step{
		step("a", nil, scenario.KindAlways, "", ""),
		step("b", nil, scenario.KindNever, "", ""),
		step("c", nil, scenario.KindPrevContains, "", "alpha"),
		step("d", nil, scenario.KindStepResult, "", "2:skipped"),
	}
	fx.results["d"] = canned{output: "ok\n"}

	res := New(Config{Exec: fx}).Run(context.Background(), s, nil)
	if diff := cmp.Diff([]string{"a", "c", "d"}, fx.tools()); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
	if res.State != StateCompleted {
		t.Errorf("state = %s", res.State)
	}
}

func TestRun_MissingValueSkips(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{"a": {}, "b": {}}}
	s := scenario.New("invalid", time.Now())
	s.Steps = []scenario.Step{
		step("a", nil, scenario.KindPrevContains, "", ""),
		step("b", nil, scenario.KindAlways, "", ""),
	}
	res := New(Config{Exec: fx}).Run(context.Background(), s, nil)
	if diff := cmp.Diff([]string{"b"}, fx.tools()); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
	if !strings.Contains(res.Steps[0].Reason, "requires a value") {
		t.Errorf("reason = %q", res.Steps[0].Reason)
	}
}

func TestRun_EmptySubstitutedValueSkips(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{"a": {output: "ok\n"}, "b": {}, "c": {}}}
	s := scenario.New("empty banner", time.Now())
	s.Variables["banner"] = ""
	s.Steps = []scenario.Step{
		step("a", nil, scenario.KindAlways, "", ""),
		step("b", nil, scenario.KindPrevContains, "", "{banner}"),
		step("c", nil, scenario.KindAlways, "", ""),
	}
	res := New(Config{Exec: fx}).Run(context.Background(), s, nil)
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, fx.tools()); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
	if res.Steps[1].Status != condition.StatusSkipped || !strings.Contains(res.Steps[1].Reason, "requires a value") {
		t.Errorf("step b = %s %q", res.Steps[1].Status, res.Steps[1].Reason)
	}
}

func TestRun_UnknownConditionStops(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{"a": {}}}
	s := scenario.New("unknown", time.Now())
	s.Steps = []scenario.Step{
		step("a", nil, scenario.KindAlways, "", ""),
		step("b", nil, scenario.Kind("phase_of_moon"), "", "full"),
		step("c", nil, scenario.KindAlways, "", ""),
	}
	res := New(Config{Exec: fx}).Run(context.Background(), s, nil)
	if res.State != StateFailed {
		t.Fatalf("state = %s", res.State)
	}
	var unknown *condition.UnknownConditionError
	if !errors.As(res.Err, &unknown) {
		t.Errorf("err = %v", res.Err)
	}
	if diff := cmp.Diff([]string{"a"}, fx.tools()); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
}

func TestRun_ToolFailureFeedsPrevFail(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{
		"missing":  {err: executor.ErrToolNotFound},
		"fallback": {output: "done\n"},
		"bad":      {exit: 2},
	}}
	s := scenario.New("fail", time.Now())
	s.Steps = []scenario.Step{
		step("missing", nil, scenario.KindAlways, "", ""),
		step("fallback", nil, scenario.KindPrevFail, "", ""),
		step("bad", nil, scenario.KindAlways, "", ""),
		step("fallback", nil, scenario.KindPrevExitCode, "", "2"),
	}
	res := New(Config{Exec: fx}).Run(context.Background(), s, nil)
	if res.State != StateCompleted {
		t.Fatalf("state = %s err = %v", res.State, res.Err)
	}
	if res.Steps[0].Status != condition.StatusFailed || res.Steps[0].ExitCode != -1 {
		t.Errorf("missing = %+v", res.Steps[0])
	}
	if n := len(fx.tools()); n != 4 {
		t.Errorf("calls = %v", fx.tools())
	}
}

func TestRun_OverridesAndRedaction(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{"hydra": {output: "login: root password: toor\n"}}}
	policy, err := executor.NewPolicy(nil, nil, []executor.RedactionRule{{Pattern: `password: \S+`, Replace: "password: ***"}})
	if err != nil {
		t.Fatal(err)
	}
	sink := &sinkLines{}
	s := scenario.New("creds", time.Now())
	s.Variables["target"] = "10.0.0.1"
	s.Steps = []scenario.Step{step("hydra", []string{"{target}"}, scenario.KindAlways, "", "")}

	res := New(Config{Exec: fx, Sink: sink, Redactor: policy}).Run(context.Background(), s, map[string]string{"target": "10.0.0.9"})
	if fx.calls[0].Args[0] != "10.0.0.9" {
		t.Errorf("override ignored: %v", fx.calls[0].Args)
	}
	for _, l := range sink.lines {
		if strings.Contains(l, "toor") {
			t.Errorf("secret logged: %q", l)
		}
	}
	if !strings.Contains(res.Steps[0].Output, "toor") {
		t.Error("conditions see the raw output")
	}
}

func TestRun_DryRun(t *testing.T) {
	sink := &sinkLines{}
	res := New(Config{DryRun: true, Sink: sink}).Run(context.Background(), reconScenario(), nil)
	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}
	if !slices.Contains(sink.lines, "[octapus] [dry-run] nmap -sV 10.0.0.5") {
		t.Errorf("sink = %v", sink.lines)
	}
}

func TestManager_SingleRunAndStop(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{}, block: make(chan struct{})}
	m := NewManager(New(Config{Exec: fx}), nmap.Wordlists{})
	s := scenario.New("long", time.Now())
	s.Steps = []scenario.Step{step("sleep", nil, scenario.KindAlways, "", ""), step("never", nil, scenario.KindAlways, "", "")}

	id, err := m.Start(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(s, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second start err = %v", err)
	}
	if _, err := m.Stop("other"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("stop other err = %v", err)
	}
	run, err := m.Stop(id)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := Wait(ctx, run)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateStopped {
		t.Errorf("state = %s", res.State)
	}
	if got := m.Status(); got.State != StateStopped || got.ID != id {
		t.Errorf("status = %+v", got)
	}
	if _, err := m.Stop(""); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stop idle err = %v", err)
	}
	if slices.Contains(fx.tools(), "never") {
		t.Error("step after stop ran")
	}
}

func TestManager_IdleStatus(t *testing.T) {
	m := NewManager(New(Config{DryRun: true}), nmap.Wordlists{})
	if st := m.Status(); st.State != StateIdle {
		t.Errorf("status = %+v", st)
	}
}

func TestRunScripts_NmapFollowUps(t *testing.T) {
	fx := &fakeExec{results: map[string]canned{}, report: testdataPath("scan.xml")}
	hub := trace.NewHub(64, nil)
	sub := hub.Subscribe()
	defer sub.Close()
	r := New(Config{Exec: fx, Hub: hub})

	res := r.RunScripts(context.Background(), NewRun("seq-1", SequenceName), []nmap.Script{
		{Tool: "nmap", Args: []string{"-sV", "10.0.0.0/24"}},
		{Tool: ""},
	}, nmap.Wordlists{})

	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}
	want := []string{"nmap", "gobuster", "nikto", "sqlmap", "hydra"}
	if diff := cmp.Diff(want, fx.tools()); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
	nmapArgs := fx.calls[0].Args
	if len(nmapArgs) != 4 || nmapArgs[2] != "-oX" || nmapArgs[3] != ReportPath() {
		t.Errorf("nmap args = %v", nmapArgs)
	}
	if _, err := os.Stat(ReportPath()); !os.IsNotExist(err) {
		t.Errorf("report not removed: %v", err)
	}
	if res.Steps[1].Reason != "step has no tool" {
		t.Errorf("invalid entry = %+v", res.Steps[1])
	}

	completes := 0
	for len(sub.C) > 0 {
		if evt := <-sub.C; evt.Type == trace.EventScanComplete {
			completes++
		}
	}
	if completes != 5 {
		t.Errorf("scan_complete events = %d", completes)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StateIdle, StateRunning) || !CanTransition(StateRunning, StateStopped) {
		t.Error("expected allowed transitions")
	}
	if CanTransition(StateCompleted, StateRunning) || CanTransition(StateIdle, StateCompleted) {
		t.Error("expected rejected transitions")
	}
	run := NewRun("x", "y")
	if err := run.transition(StateFailed); err == nil {
		t.Error("idle → failed must be rejected")
	}
}
