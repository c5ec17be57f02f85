// Package engine executes scenarios: steps run in array order, each gated
// by its condition, with variables extracted from tool output feeding the
// placeholders of the steps that follow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/executor"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/trace"
	"github.com/octapusprime/octapus/pkg/vars"
)

// LogSink receives every tool output line after redaction.
type LogSink interface {
	Line(tool, line string)
}

// Config wires the collaborators of a Runner.
type Config struct {
	Exec           executor.Runner
	Hub            *trace.Hub
	Log            *zap.Logger
	Sink           LogSink
	Redactor       trace.Redactor
	FS             condition.FileSystem
	Prober         condition.Prober
	Now            func() time.Time
	Rand           *rand.Rand
	DefaultTimeout time.Duration
	DryRun         bool
}

// StepOutcome is what happened to one step.
type StepOutcome struct {
	Index     int               `json:"step_index"`
	Tool      string            `json:"tool"`
	Args      []string          `json:"args"`
	Status    condition.Status  `json:"status"`
	ExitCode  int               `json:"exit_code"`
	Output    string            `json:"output,omitempty"`
	Duration  time.Duration     `json:"duration"`
	TimedOut  bool              `json:"timed_out,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// RunResult is the outcome of a whole run.
type RunResult struct {
	ID        string            `json:"scenario_id"`
	Name      string            `json:"name"`
	State     State             `json:"state"`
	Steps     []StepOutcome     `json:"steps"`
	Variables map[string]string `json:"variables"`
	Duration  time.Duration     `json:"duration"`
	Err       error             `json:"-"`
}

// Success reports whether the run reached the end of its steps.
func (r *RunResult) Success() bool { return r != nil && r.State == StateCompleted }

// Runner executes scenarios.
type Runner struct {
	cfg Config
}

// New returns a runner. Exec is required unless DryRun is set.
func New(cfg Config) *Runner {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Hub == nil {
		cfg.Hub = trace.NewHub(0, cfg.Log)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = executor.DefaultTimeout
	}
	return &Runner{cfg: cfg}
}

// Hub returns the hub events are published on.
func (r *Runner) Hub() *trace.Hub { return r.cfg.Hub }

// Run executes s synchronously under a fresh run record.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario, overrides map[string]string) *RunResult {
	run := NewRun("", s.Name)
	return r.Execute(ctx, run, s, overrides)
}

// Execute drives run through its lifecycle while executing s. Variables
// start from the built-in defaults, then the scenario's own, then overrides.
func (r *Runner) Execute(ctx context.Context, run *Run, s *scenario.Scenario, overrides map[string]string) *RunResult {
	start := r.cfg.Now()
	res := &RunResult{ID: run.ID, Name: s.Name, State: StateRunning}
	log := r.cfg.Log.With(zap.String("scenario", s.Name), zap.String("run_id", run.ID))

	if err := run.transition(StateRunning); err != nil {
		res.State, res.Err = StateFailed, err
		run.finish(res)
		return res
	}

	store := vars.NewStore(vars.Defaults(start, r.cfg.Rand))
	store.Merge(s.Variables)
	store.Merge(overrides)

	r.publish(run.ID, trace.Started(s.Name, run.ID, len(s.Steps)))
	r.logLine("octapus", fmt.Sprintf("Starting scenario %s (%d steps)", s.Name, len(s.Steps)))
	log.Info("scenario started", zap.Int("steps", len(s.Steps)))

	cctx := &condition.Context{FS: r.cfg.FS, Prober: r.cfg.Prober, Now: r.cfg.Now}
	final := StateCompleted

	for i, step := range s.Steps {
		if ctx.Err() != nil {
			final = StateStopped
			break
		}
		run.setStep(i)
		r.publish(run.ID, trace.Progress(i, step.Tool, fmt.Sprintf("Step %d/%d: %s", i+1, len(s.Steps), step.Tool)))

		cctx.Vars = store.Snapshot()
		out, err := r.step(ctx, run.ID, i, step, cctx, store)
		res.Steps = append(res.Steps, out)
		cctx.History = append(cctx.History, record(out))
		if out.Status != condition.StatusSkipped {
			rec := record(out)
			cctx.Prev = &rec
		}

		if err != nil {
			if ctx.Err() != nil {
				final = StateStopped
				break
			}
			final = StateFailed
			res.Err = err
			r.publish(run.ID, trace.Error(i, err.Error()))
			log.Error("scenario aborted", zap.Int("step", i), zap.Error(err))
			break
		}
	}

	res.State = final
	res.Variables = store.Snapshot()
	res.Duration = r.cfg.Now().Sub(start)
	if err := run.transition(final); err != nil {
		log.Warn("state transition", zap.Error(err))
	}

	switch final {
	case StateStopped:
		r.logLine("octapus", "Scenario stopped")
	default:
		r.logLine("octapus", "Scenario execution completed")
	}
	r.publish(run.ID, trace.Completed(final == StateCompleted))
	log.Info("scenario finished", zap.String("state", string(final)), zap.Duration("duration", res.Duration))

	run.finish(res)
	return res
}

// step runs one step. A non-nil error stops the scenario.
func (r *Runner) step(ctx context.Context, id string, i int, step scenario.Step, cctx *condition.Context, store *vars.Store) (StepOutcome, error) {
	bound := store.Snapshot()
	out := StepOutcome{
		Index:  i,
		Tool:   step.Tool,
		Args:   vars.SubstituteAll(step.Args, bound),
		Status: condition.StatusSkipped,
	}
	cond := step.Condition
	cond.Value = vars.Substitute(cond.Value, bound)

	if reason := invalidReason(step.Tool, cond); reason != "" {
		return r.skip(id, out, reason), nil
	}

	ok, err := condition.Evaluate(cond, cctx)
	if err != nil {
		var unknown *condition.UnknownConditionError
		if errors.As(err, &unknown) {
			out.Reason = unknown.Error()
			return out, fmt.Errorf("step %d (%s): %w", i+1, step.Tool, err)
		}
		out.Reason = err.Error()
		return out, fmt.Errorf("step %d (%s): evaluate condition: %w", i+1, step.Tool, err)
	}
	if !ok {
		return r.skip(id, out, fmt.Sprintf("condition %s not met", describe(cond))), nil
	}

	res, err := r.exec(ctx, out.Tool, out.Args, time.Duration(step.Timeout)*time.Second)
	if err != nil {
		if ctx.Err() != nil {
			out.Reason = "stopped"
			return out, err
		}
		// the tool could not be started; later conditions can react to the failure
		out.Status = condition.StatusFailed
		out.ExitCode = -1
		out.Output = err.Error()
		r.logLine("octapus", fmt.Sprintf("Failed to run %s: %v", step.Tool, err))
		r.publish(id, trace.StepResult(i, step.Tool, false, out.Output, nil))
		return out, nil
	}

	out.ExitCode = res.ExitCode
	out.Output = res.Output
	out.Duration = res.Duration
	out.TimedOut = res.TimedOut
	out.Status = condition.StatusFailed
	if res.Success() {
		out.Status = condition.StatusSuccess
	}

	extracted, err := vars.Extract(step.Variables, res.Output)
	if err != nil {
		r.cfg.Log.Warn("variable extraction", zap.Int("step", i), zap.Error(err))
	}
	out.Variables = extracted
	if changed := store.Merge(extracted); len(changed) > 0 {
		r.publish(id, trace.VariablesUpdated(store.Snapshot()))
	}
	r.publish(id, trace.StepResult(i, step.Tool, res.Success(), r.redact(res.Output), extracted))
	return out, nil
}

func (r *Runner) skip(id string, out StepOutcome, reason string) StepOutcome {
	out.Status = condition.StatusSkipped
	out.Reason = reason
	r.logLine("octapus", fmt.Sprintf("Skipping %s: %s", out.Tool, reason))
	r.publish(id, trace.Skipped(out.Index, out.Tool, reason))
	return out
}

// exec runs one tool, streaming its lines to the logs.
func (r *Runner) exec(ctx context.Context, tool string, args []string, timeout time.Duration) (*executor.Result, error) {
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	cmd := executor.Command{Tool: tool, Args: args, Timeout: timeout}
	if r.cfg.DryRun {
		r.logLine("octapus", "[dry-run] "+cmd.String())
		return &executor.Result{}, nil
	}
	if r.cfg.Exec == nil {
		return nil, errors.New("no executor configured")
	}
	r.logLine("octapus", fmt.Sprintf("Starting %s: %s", tool, cmd.String()))
	res, err := r.cfg.Exec.Run(ctx, cmd, func(line string) { r.logLine(tool, line) })
	if err != nil {
		return res, err
	}
	if res.TimedOut {
		r.logLine("octapus", fmt.Sprintf("%s timed out after %s", tool, timeout))
	}
	r.logLine("octapus", "Finished "+tool)
	return res, nil
}

func (r *Runner) redact(s string) string {
	if r.cfg.Redactor == nil {
		return s
	}
	return r.cfg.Redactor.Redact(s)
}

func (r *Runner) logLine(tool, line string) {
	line = r.redact(line)
	r.cfg.Log.Debug("tool output", zap.String("tool", tool), zap.String("line", line))
	if r.cfg.Sink != nil {
		r.cfg.Sink.Line(tool, line)
	}
	r.cfg.Hub.Publish(trace.Log(tool, line))
}

func (r *Runner) publish(runID string, evt trace.Event) {
	evt.RunID = runID
	r.cfg.Hub.Publish(evt)
}

// invalidReason reports why a step must not run, or "". cond is the
// condition after variable substitution.
func invalidReason(tool string, cond scenario.Condition) string {
	switch {
	case strings.TrimSpace(tool) == "":
		return "step has no tool"
	case !cond.Type.Known():
		return ""
	case cond.Type.NeedsValue() && strings.TrimSpace(cond.Value) == "":
		return fmt.Sprintf("condition %s requires a value", cond.Type)
	}
	return ""
}

func describe(c scenario.Condition) string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	if c.Operator != "" {
		b.WriteString(" " + string(c.Operator))
	}
	if c.Value != "" {
		b.WriteString(" " + c.Value)
	}
	return b.String()
}

func record(o StepOutcome) condition.StepRecord {
	return condition.StepRecord{
		Index:    o.Index,
		Tool:     o.Tool,
		Status:   o.Status,
		ExitCode: o.ExitCode,
		Output:   o.Output,
		Duration: o.Duration,
	}
}
