package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/octapusprime/octapus/pkg/scenario"
)

func sample(name string) *scenario.Scenario {
	s := scenario.New(name, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	s.Variables["target"] = "10.0.0.5"
	s.Steps = []scenario.Step{scenario.NewStep("nmap", "-sV", "{target}")}
	return s
}

func TestSanitize(t *testing.T) {
	for in, want := range map[string]string{
		"web scan #1":     "webscan1",
		"../etc/passwd":   "etcpasswd",
		" recon_v2-final": "recon_v2-final",
		"!!!":             "",
	} {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	st, err := New(filepath.Join(t.TempDir(), "scenarios"))
	if err != nil {
		t.Fatal(err)
	}
	in := sample("Web Scan")
	name, err := st.Save(in)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "WebScan" {
		t.Errorf("name = %q", name)
	}
	out, err := st.Load(name)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !scenario.Equal(in, out) {
		t.Errorf("round trip mismatch:\n%+v\n%+v", in, out)
	}
	if out.Name != "Web Scan" {
		t.Errorf("document name = %q", out.Name)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"zeta", "alpha", "mid"} {
		if _, err := st.Save(sample(n)); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(st.Dir, "notes.txt"), []byte("x"), 0o644)

	names, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, names); diff != "" {
		t.Errorf("list (-want +got):\n%s", diff)
	}

	if err := st.Delete("mid"); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if _, err := st.Load("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("load err = %v", err)
	}
}

func TestStore_InvalidName(t *testing.T) {
	st, _ := New(t.TempDir())
	if _, err := st.Save(sample("???")); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v", err)
	}
}

func TestStore_LoadLegacy(t *testing.T) {
	st, _ := New(t.TempDir())
	legacy := `{"name":"quick","scripts":[{"tool":"nmap","args":["-F","10.0.0.1"]},{"tool":"nikto","args":["-h","10.0.0.1"],"condition":{"type":"prev_contains","value":"80/tcp"}}]}`
	os.WriteFile(filepath.Join(st.Dir, "quick.json"), []byte(legacy), 0o644)

	s, err := st.Load("quick")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.Steps) != 2 || s.Steps[1].Condition.Type != scenario.KindPrevContains {
		t.Fatalf("steps = %+v", s.Steps)
	}
	if s.Steps[1].Metadata.Index != 1 || s.Steps[0].Timeout != scenario.DefaultTimeout {
		t.Errorf("legacy defaults: %+v", s.Steps[1])
	}
}
