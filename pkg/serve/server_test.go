package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/executor"
	"github.com/octapusprime/octapus/pkg/logging"
	"github.com/octapusprime/octapus/pkg/netinfo"
	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/settings"
	"github.com/octapusprime/octapus/pkg/store"
	"github.com/octapusprime/octapus/pkg/trace"
)

// gateExec blocks every command until release is closed or the run is
// stopped, then echoes the tool name.
type gateExec struct {
	release chan struct{}
	once    sync.Once
}

func newGateExec() *gateExec { return &gateExec{release: make(chan struct{})} }

func (g *gateExec) open() { g.once.Do(func() { close(g.release) }) }

func (g *gateExec) Run(ctx context.Context, cmd executor.Command, onLine executor.LineFunc) (*executor.Result, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return &executor.Result{ExitCode: -1}, ctx.Err()
	}
	onLine("ran " + cmd.Tool)
	return &executor.Result{Output: "ran " + cmd.Tool + "\n"}, nil
}

type fixture struct {
	srv   *Server
	mgr   *engine.Manager
	store *store.Store
	logs  *logging.ToolLog
	exec  *gateExec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir + "/scenarios")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	logs, err := logging.OpenToolLog(dir + "/logs")
	if err != nil {
		t.Fatalf("tool log: %v", err)
	}
	t.Cleanup(func() { logs.Close() })

	gate := newGateExec()
	t.Cleanup(gate.open)
	runner := engine.New(engine.Config{Exec: gate, Hub: trace.NewHub(0, nil), Sink: logs})
	mgr := engine.NewManager(runner, nmap.DefaultWordlists)

	srv := New(Options{
		Manager:  mgr,
		Store:    st,
		Settings: settings.Open(dir + "/settings.json"),
		Logs:     logs,
		LocalCIDR: func() (string, string, error) {
			return "192.168.1.0/24", "eth0", nil
		},
		Interfaces: func() ([]netinfo.Interface, error) {
			return []netinfo.Interface{{Name: "eth0", IP: "192.168.1.10", CIDR: "192.168.1.0/24"}}, nil
		},
	})
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, mgr: mgr, store: st, logs: logs, exec: gate}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("%s %s: content type %q", method, path, ct)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

// wait blocks until the run with the given ID has finished.
func (f *fixture) wait(t *testing.T, id string) *engine.RunResult {
	t.Helper()
	run := f.mgr.Lookup(id)
	if run == nil {
		t.Fatalf("no run %s", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := engine.Wait(ctx, run)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return res
}

func mustScenario(t *testing.T, doc string) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return sc
}

const reconDoc = `{
  "name": "Recon",
  "variables": {"target": "10.0.0.5"},
  "steps": [
    {"tool": "nmap", "args": ["-sV", "{target}"], "condition": {"type": "always"}},
    {"tool": "nikto", "args": ["-h", "{target}"], "condition": {"type": "prev_success"}}
  ]
}`

func TestSaveListLoad(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "POST", "/save_scenario", reconDoc)
	if code != http.StatusOK || body["status"] != "saved" || body["name"] != "Recon" {
		t.Fatalf("save: %d %v", code, body)
	}

	code, body = f.do(t, "GET", "/list_scenarios", "")
	if code != http.StatusOK {
		t.Fatalf("list: %d %v", code, body)
	}
	if diff := cmp.Diff([]any{"Recon"}, body["scenarios"]); diff != "" {
		t.Errorf("scenarios (-want +got):\n%s", diff)
	}

	code, body = f.do(t, "GET", "/load_scenario/Recon", "")
	if code != http.StatusOK {
		t.Fatalf("load: %d %v", code, body)
	}
	steps, _ := body["steps"].([]any)
	if body["name"] != "Recon" || len(steps) != 2 {
		t.Errorf("loaded %v", body)
	}
	second := steps[1].(map[string]any)["condition"].(map[string]any)
	if second["type"] != "prev_success" || second["operator"] != nil {
		t.Errorf("condition = %v", second)
	}
}

func TestSaveLegacyAndExampleNames(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "POST", "/save_scenario", `{"name": "old one!", "scripts": [{"tool": "nmap", "args": ["-sn", "10.0.0.0/24"]}]}`)
	if code != http.StatusOK || body["name"] != "oldone" {
		t.Fatalf("legacy save: %d %v", code, body)
	}
	sc, err := f.store.Load("oldone")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sc.Steps) != 1 || sc.Steps[0].Tool != "nmap" {
		t.Errorf("steps = %+v", sc.Steps)
	}

	code, body = f.do(t, "POST", "/save_scenario", `{"name": "[Example] Web", "steps": [{"tool": "curl", "args": []}]}`)
	if code != http.StatusOK || body["name"] != "Web" {
		t.Fatalf("example save: %d %v", code, body)
	}
}

func TestSaveRejects(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"no name", `{"steps": [{"tool": "nmap", "args": []}]}`, "Scenario name required"},
		{"blank name", `{"name": "  ", "steps": []}`, "Scenario name required"},
		{"no steps", `{"name": "empty"}`, "No steps provided"},
		{"empty steps", `{"name": "empty", "steps": []}`, "No steps provided"},
		{"not json", `{`, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, "POST", "/save_scenario", tt.body)
			if code != http.StatusBadRequest {
				t.Fatalf("code = %d, body %v", code, body)
			}
			if body["status"] != "error" || body["message"] != tt.msg {
				t.Errorf("body = %v, want message %q", body, tt.msg)
			}
		})
	}
	if names, _ := f.store.List(); len(names) != 0 {
		t.Errorf("stored %v", names)
	}
}

func TestLoadMissing(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "GET", "/load_scenario/nope", "")
	if code != http.StatusNotFound || body["message"] != "Scenario not found" {
		t.Errorf("load: %d %v", code, body)
	}
}

func TestStartScenarioStepsOnly(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "POST", "/start_scenario", `{"steps": [{"tool": "whoami", "args": []}]}`)
	if code != http.StatusOK || body["status"] != "scenario started" {
		t.Fatalf("start: %d %v", code, body)
	}
	id, _ := body["scenario_id"].(string)
	if id == "" {
		t.Fatal("missing scenario_id")
	}

	f.exec.open()
	res := f.wait(t, id)
	if res.ID != id || !res.Success() {
		t.Errorf("result = %+v", res)
	}
	if res.Name != adhocName {
		t.Errorf("name = %q", res.Name)
	}

	_, status := f.do(t, "GET", "/api/status", "")
	if status["state"] != "completed" || status["scenario_id"] != id {
		t.Errorf("status = %v", status)
	}
}

func TestRunScenarioBusyAndStop(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Save(mustScenario(t, reconDoc)); err != nil {
		t.Fatal(err)
	}

	code, body := f.do(t, "POST", "/run_scenario", `{"name": "Recon", "variables": {"target": "10.9.9.9"}}`)
	if code != http.StatusOK {
		t.Fatalf("run: %d %v", code, body)
	}
	id := body["scenario_id"].(string)

	code, body = f.do(t, "POST", "/run_scenario", `{"name": "Recon"}`)
	if code != http.StatusConflict || body["status"] != "error" {
		t.Errorf("second run: %d %v", code, body)
	}

	code, body = f.do(t, "POST", "/stop_scenario", `{"scenario_id": "other"}`)
	if code != http.StatusNotFound {
		t.Errorf("stop unknown: %d %v", code, body)
	}

	run := f.mgr.Active()
	code, body = f.do(t, "POST", "/stop_scenario", `{"scenario_id": "`+id+`"}`)
	if code != http.StatusOK || body["scenario_id"] != id {
		t.Fatalf("stop: %d %v", code, body)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := engine.Wait(ctx, run)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != engine.StateStopped {
		t.Errorf("state = %s", res.State)
	}

	code, body = f.do(t, "POST", "/stop_scenario", `{}`)
	if code != http.StatusConflict {
		t.Errorf("stop idle: %d %v", code, body)
	}
	code, body = f.do(t, "POST", "/stop", "")
	if code != http.StatusOK || body["status"] != "success" {
		t.Errorf("stop: %d %v", code, body)
	}
}

func TestRunScenarioErrors(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, "POST", "/run_scenario", `{}`); code != http.StatusBadRequest {
		t.Errorf("empty request: %d", code)
	}
	if code, _ := f.do(t, "POST", "/run_scenario", `{"name": "ghost"}`); code != http.StatusNotFound {
		t.Errorf("unknown name: %d", code)
	}
	if code, _ := f.do(t, "POST", "/run_scenario", `{"scenario": {"name": "x", "steps": [{"tool": "a", "condition": {"type": "bogus"}}]}}`); code != http.StatusBadRequest {
		t.Errorf("bad document: %d", code)
	}
}

func TestStartScripts(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "POST", "/start", `{"scripts": []}`)
	if code != http.StatusBadRequest || body["message"] != "No scripts provided" {
		t.Errorf("empty: %d %v", code, body)
	}
	code, body = f.do(t, "POST", "/start", `{"scenario": "missing"}`)
	if code != http.StatusNotFound {
		t.Errorf("missing scenario: %d %v", code, body)
	}

	code, body = f.do(t, "POST", "/start", `{"scripts": [{"tool": "whoami", "args": []}]}`)
	if code != http.StatusOK || body["status"] != "scan started" {
		t.Fatalf("start: %d %v", code, body)
	}
	f.exec.open()
	res := f.wait(t, body["scenario_id"].(string))
	if res.Name != engine.SequenceName || len(res.Steps) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestFetchLogs(t *testing.T) {
	f := newFixture(t)
	f.logs.Line("nmap", "first")

	_, body := f.do(t, "GET", "/fetch_latest_logs", "")
	if diff := cmp.Diff([]any{"[nmap] first"}, body["lines"]); diff != "" {
		t.Errorf("latest (-want +got):\n%s", diff)
	}
	_, body = f.do(t, "GET", "/fetch_latest_logs", "")
	if diff := cmp.Diff([]any{}, body["lines"]); diff != "" {
		t.Errorf("second latest (-want +got):\n%s", diff)
	}

	f.logs.Line("nikto", "second")
	_, body = f.do(t, "GET", "/fetch_logs", "")
	if body["status"] != "success" {
		t.Fatalf("fetch: %v", body)
	}
	if diff := cmp.Diff([]any{"[nmap] first", "[nikto] second"}, body["lines"]); diff != "" {
		t.Errorf("all (-want +got):\n%s", diff)
	}
}

func TestNetwork(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "GET", "/local_cidr", "")
	if code != http.StatusOK || body["cidr"] != "192.168.1.0/24" || body["interface"] != "eth0" {
		t.Errorf("cidr: %d %v", code, body)
	}

	f.srv.opts.LocalCIDR = func() (string, string, error) { return "", "", errors.New("offline") }
	code, body = f.do(t, "GET", "/local_cidr", "")
	if code != http.StatusInternalServerError || body["error"] != "Unable to detect local network" {
		t.Errorf("cidr failure: %d %v", code, body)
	}

	_, body = f.do(t, "GET", "/network_interfaces", "")
	ifaces, _ := body["interfaces"].([]any)
	if len(ifaces) != 1 {
		t.Errorf("interfaces = %v", body)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, "GET", "/api/settings", "")
	data := body["data"].(map[string]any)
	if data["nmapScanType"] != "intense" || data["autoDetectNetwork"] != true {
		t.Errorf("defaults = %v", data)
	}

	code, body := f.do(t, "POST", "/api/settings", `{"nmapScanType": "quick", "autoDetectNetwork": false}`)
	if code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("update: %d %v", code, body)
	}
	_, body = f.do(t, "GET", "/api/settings", "")
	data = body["data"].(map[string]any)
	if data["nmapScanType"] != "quick" || data["autoDetectNetwork"] != false || data["threadCount"] != "10" {
		t.Errorf("after update = %v", data)
	}

	code, body = f.do(t, "POST", "/api/settings", `{"threadCount": "lots"}`)
	if code != http.StatusBadRequest {
		t.Errorf("invalid update: %d %v", code, body)
	}
}

func TestExamplesAndValidate(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, "GET", "/api/examples", "")
	if list, _ := body["examples"].([]any); len(list) != 6 {
		t.Errorf("examples = %d", len(list))
	}
	code, body := f.do(t, "GET", "/api/examples/network-recon", "")
	if code != http.StatusOK || !strings.HasPrefix(body["name"].(string), "[Example] ") {
		t.Errorf("example: %d %v", code, body["name"])
	}
	if code, _ := f.do(t, "GET", "/api/examples/nope", ""); code != http.StatusNotFound {
		t.Errorf("unknown example: %d", code)
	}

	_, body = f.do(t, "POST", "/api/validate", reconDoc)
	if body["valid"] != true {
		t.Errorf("recon should be valid: %v", body)
	}
	_, body = f.do(t, "POST", "/api/validate", `{"name": "bad", "steps": [{"tool": "curl", "args": [], "condition": {"type": "prev_regex", "value": "([a"}}]}`)
	if body["valid"] != false {
		t.Errorf("invalid regex accepted: %v", body)
	}
}

func TestWebSocketEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hub := f.mgr.Runner().Hub()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f.exec.open()
	resp, err := http.Post(ts.URL+"/start_scenario", "application/json", bytes.NewBufferString(reconDoc))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()

	seen := map[trace.EventType]int{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		var evt trace.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode frame %s: %v", data, err)
		}
		seen[evt.Type]++
		if evt.Type == trace.EventScenarioCompleted {
			if !evt.Bool("success") {
				t.Errorf("completed = %v", evt.Data)
			}
			break
		}
	}
	if seen[trace.EventStepResult] != 2 || seen[trace.EventLog] == 0 {
		t.Errorf("events = %v", seen)
	}
}

func TestServeShutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
