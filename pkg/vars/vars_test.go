package vars

import (
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSubstitute_Bound(t *testing.T) {
	got := SubstituteAll([]string{"-h", "{target}"}, map[string]string{"target": "10.0.0.5"})
	if diff := cmp.Diff([]string{"-h", "10.0.0.5"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSubstitute_UnboundStaysLiteral(t *testing.T) {
	got := Substitute("{missing}", map[string]string{"target": "x"})
	if got != "{missing}" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_Multiple(t *testing.T) {
	vars := map[string]string{"host": "srv1", "port": "8080"}
	got := Substitute("http://{host}:{port}/{host}", vars)
	if got != "http://srv1:8080/srv1" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_NoRecursion(t *testing.T) {
	vars := map[string]string{"a": "{b}", "b": "x"}
	if got := Substitute("{a}", vars); got != "{b}" {
		t.Errorf("got %q, want single-pass substitution", got)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{target_url}/{path} -H {token} {path}")
	if diff := cmp.Diff([]string{"target_url", "path", "token"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got := Unresolved("{a} {b}", map[string]string{"a": "1"}); len(got) != 1 || got[0] != "b" {
		t.Errorf("unresolved = %v", got)
	}
}

func TestDefaults(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 30, 5, 0, time.UTC)
	d := Defaults(now, rand.New(rand.NewPCG(1, 2)))
	if d["date"] != "2025-06-02" {
		t.Errorf("date = %q", d["date"])
	}
	if d["time"] != "14:30:05" {
		t.Errorf("time = %q", d["time"])
	}
	if !strings.HasPrefix(d["timestamp"], "2025-06-02T14:30:05") {
		t.Errorf("timestamp = %q", d["timestamp"])
	}
	if d["random"] == "" || len(d["random"]) > 6 {
		t.Errorf("random = %q", d["random"])
	}
}

func TestExtract(t *testing.T) {
	output := "22/tcp open ssh\n80/tcp open http\nOS details: Linux 5.4\n"
	got, err := Extract(map[string]string{
		"first_port": `(\d+)/tcp\s+open`,
		"os":         `OS details: (.*)`,
		"whole":      `open http`,
		"absent":     `3306/tcp`,
	}, output)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := map[string]string{"first_port": "22", "os": "Linux 5.4", "whole": "open http"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_InvalidPattern(t *testing.T) {
	got, err := Extract(map[string]string{"bad": `(`, "ok": `(\w+)`}, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), `"bad"`) {
		t.Errorf("error should name the variable: %v", err)
	}
	if got["ok"] != "hello" {
		t.Errorf("valid pattern should still bind, got %v", got)
	}
}

func TestStore_MergeLastWriterWins(t *testing.T) {
	s := NewStore(map[string]string{"target": "a", "port": "22"})
	changed := s.Merge(map[string]string{"target": "b", "port": "22", "service": "ssh"})
	if diff := cmp.Diff([]string{"service", "target"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if v, _ := s.Get("target"); v != "b" {
		t.Errorf("target = %q", v)
	}

	snap := s.Snapshot()
	snap["target"] = "mutated"
	if v, _ := s.Get("target"); v != "b" {
		t.Error("snapshot must be a copy")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("len after clear = %d", s.Len())
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Set("k", "v")
				s.Merge(map[string]string{"m": "n"})
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()
	if diff := cmp.Diff([]string{"k", "m"}, s.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}
