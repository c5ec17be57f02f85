package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func TestNew_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	log, closeFn, err := New("debug", dir, &console)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("scenario started", zap.String("scenario", "recon"))
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "octapus.log"))
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, data)
	}
	if entry["msg"] != "scenario started" || entry["scenario"] != "recon" {
		t.Errorf("entry = %v", entry)
	}
	if !strings.Contains(console.String(), "scenario started") {
		t.Errorf("console = %q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("warning"); err != nil || l != zap.WarnLevel {
		t.Errorf("warning = %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error")
	}
}

func TestToolLog_LatestCursor(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "tools.log"), []byte("[nmap] old run\n"), 0o644)

	tl, err := OpenToolLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	tl.Line("nmap", "Starting Nmap 7.94")
	tl.Line("nmap", "22/tcp open ssh")
	got, err := tl.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"[nmap] Starting Nmap 7.94", "[nmap] 22/tcp open ssh"}, got); diff != "" {
		t.Errorf("latest (-want +got):\n%s", diff)
	}

	if again, _ := tl.Latest(); len(again) != 0 {
		t.Errorf("second latest = %v", again)
	}
	tl.Line("hydra", "multi\nline")
	if next, _ := tl.Latest(); len(next) != 1 || next[0] != "[hydra] multi line" {
		t.Errorf("next = %v", next)
	}

	all, err := tl.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0] != "[nmap] old run" {
		t.Errorf("all = %v", all)
	}
}
