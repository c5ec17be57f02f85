// Package condition decides whether a scenario step runs. A tagged
// scenario.Condition is parsed into a typed Predicate and evaluated against
// the results of the steps that ran before it.
package condition

import (
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// Status is the outcome of a step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "fail"
	StatusSkipped Status = "skipped"
)

// ParseStatus accepts the spellings used in step_result values.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "success", "succeeded", "ok", "pass", "passed":
		return StatusSuccess, true
	case "fail", "failed", "failure", "error":
		return StatusFailed, true
	case "skip", "skipped":
		return StatusSkipped, true
	}
	return "", false
}

// StepRecord is what a finished (or skipped) step leaves behind.
type StepRecord struct {
	Index    int           `json:"index"`
	Tool     string        `json:"tool"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// FileSystem is the read-only view used by path conditions.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// OSFS reads the real file system.
type OSFS struct{}

func (OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (OSFS) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }

// Context carries everything a condition may look at.
// Prev is the most recent step that executed; skipped steps appear only in History.
type Context struct {
	Prev    *StepRecord
	History []StepRecord
	Vars    map[string]string
	FS      FileSystem
	Prober  Prober
	Now     func() time.Time
}

func (c *Context) fs() FileSystem {
	if c.FS == nil {
		return OSFS{}
	}
	return c.FS
}

func (c *Context) prober() Prober {
	if c.Prober == nil {
		return DefaultProber
	}
	return c.Prober
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// executed returns the outputs of every step that ran.
func (c *Context) executed() []StepRecord {
	out := make([]StepRecord, 0, len(c.History))
	for _, r := range c.History {
		if r.Status != StatusSkipped {
			out = append(out, r)
		}
	}
	return out
}

// UnknownConditionError is returned for a condition kind the evaluator
// does not implement. Callers must treat it as a hard stop for the step.
type UnknownConditionError struct {
	Kind scenario.Kind
}

func (e *UnknownConditionError) Error() string {
	return fmt.Sprintf("unknown condition type %q", e.Kind)
}

// ValueError reports a condition value that does not fit its kind.
type ValueError struct {
	Kind   scenario.Kind
	Value  string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("condition %s: invalid value %q: %s", e.Kind, e.Value, e.Reason)
}
