package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/trace"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"target=10.0.0.5", "ports=80,443", " url =http://x?a=b"})
	if err != nil {
		t.Fatal(err)
	}
	if vars["target"] != "10.0.0.5" || vars["ports"] != "80,443" || vars["url"] != "http://x?a=b" {
		t.Errorf("vars = %v", vars)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars([]string{bad}); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestFormatEvent(t *testing.T) {
	if got := formatEvent(trace.Started("Web sweep", "r1", 3), false); got != "▶ Web sweep (3 steps)" {
		t.Errorf("started = %q", got)
	}
	if got := formatEvent(trace.Skipped(1, "nikto", "condition not met"), false); !strings.Contains(got, "step 2 (nikto) skipped: condition not met") {
		t.Errorf("skipped = %q", got)
	}
	if got := formatEvent(trace.Log("nmap", "80/tcp open"), false); got != "" {
		t.Errorf("log shown without --output: %q", got)
	}
	if got := formatEvent(trace.Log("nmap", "80/tcp open"), true); !strings.Contains(got, "[nmap] 80/tcp open") {
		t.Errorf("log = %q", got)
	}
	if got := formatEvent(trace.Completed(true), true); got != "" {
		t.Errorf("completed = %q", got)
	}
}

func TestPrintResult(t *testing.T) {
	res := &engine.RunResult{
		Name:  "Web sweep",
		State: engine.StateCompleted,
		Steps: []engine.StepOutcome{
			{Index: 0, Tool: "nmap", Status: condition.StatusSuccess, Duration: 1500 * time.Millisecond},
			{Index: 1, Tool: "nikto", Status: condition.StatusFailed, ExitCode: 2},
			{Index: 2, Tool: "gobuster", Status: condition.StatusSkipped, Reason: "condition not met"},
		},
		Variables: map[string]string{"port": "80"},
		Duration:  3 * time.Second,
	}
	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()
	for _, want := range []string{"✓ 1. nmap  1.5s", "✗ 2. nikto  exit 2", "- 3. gobuster  condition not met", "port = 80", "completed in 3s"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDiffScenarios(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := scenario.New("Web sweep", created)
	a.Steps = []scenario.Step{scenario.NewStep("nmap", "-sV", "{target}"), scenario.NewStep("nikto", "-h", "{target}")}
	b := a.Clone()
	b.Steps[1].Tool = "whatweb"

	lines, err := diffScenarios(a, b)
	if err != nil {
		t.Fatal(err)
	}
	var plus, minus int
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "+") && strings.Contains(l, "whatweb"):
			plus++
		case strings.HasPrefix(l, "-") && strings.Contains(l, "nikto"):
			minus++
		case strings.HasPrefix(l, "+") || strings.HasPrefix(l, "-"):
			t.Errorf("unexpected change line %q", l)
		}
	}
	if plus != 1 || minus != 1 {
		t.Errorf("plus=%d minus=%d\n%s", plus, minus, strings.Join(lines, "\n"))
	}
}

func TestOpenScenario(t *testing.T) {
	s, err := openScenario("example:web-app-scan")
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(s.Name, "[Example]") {
		t.Errorf("prefix kept: %q", s.Name)
	}

	path := filepath.Join(t.TempDir(), "s.json")
	data, _ := scenario.MarshalIndent(s)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	back, err := openScenario(path)
	if err != nil {
		t.Fatal(err)
	}
	if !scenario.Equal(s, back) {
		t.Error("file and example differ")
	}

	if _, err := openScenario("example:nope"); err == nil {
		t.Error("unknown example accepted")
	}
}

func TestSettingsPatch(t *testing.T) {
	patch, err := settingsPatch([]string{"autoDetectNetwork=false", "customCIDR=10.0.0.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	if patch.AutoDetectNetwork == nil || *patch.AutoDetectNetwork || patch.CustomCIDR != "10.0.0.0/24" {
		t.Errorf("patch = %+v", patch)
	}
	if _, err := settingsPatch([]string{"bogus=1"}); err == nil {
		t.Error("unknown field accepted")
	}
	if _, err := settingsPatch([]string{"noequals"}); err == nil {
		t.Error("malformed pair accepted")
	}
}

func TestStatusIcon(t *testing.T) {
	cases := []struct {
		status   string
		expected string
	}{
		{"completed", "✓"},
		{"failed", "✗"},
		{"stopped", "■"},
		{"running", "▸"},
	}
	for _, tc := range cases {
		if got := statusIcon(tc.status); got != tc.expected {
			t.Errorf("statusIcon(%q) = %q, want %q", tc.status, got, tc.expected)
		}
	}
}

func TestTraceVerify_ValidChain(t *testing.T) {
	var buf bytes.Buffer
	tw := trace.NewWriter(&buf, "verify-test")
	tw.Write(trace.Started("Web sweep", "verify-test", 1))
	tw.Write(trace.Progress(0, "nmap", "Step 1/1: nmap"))
	tw.Write(trace.Completed(true))

	result, err := trace.Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := reportVerify(&out, result); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out.String(), "3 events") {
		t.Errorf("out = %q", out.String())
	}
}

func TestTraceVerify_BrokenChain(t *testing.T) {
	var buf bytes.Buffer
	tw := trace.NewWriter(&buf, "verify-test")
	tw.Write(trace.Started("Web sweep", "verify-test", 1))
	buf.WriteString(`{"type":"log","timestamp":"2026-01-01T00:00:00Z","run_id":"verify-test","prev_hash":"0000000000000000000000000000000000000000000000000000000000000000","data":{"line":"tampered"}}` + "\n")

	result, err := trace.Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := reportVerify(&out, result); err == nil {
		t.Error("expected broken chain")
	}
	if !strings.Contains(out.String(), "broken at event 2") {
		t.Errorf("out = %q", out.String())
	}
}

func TestSchemaCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"schema"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}
