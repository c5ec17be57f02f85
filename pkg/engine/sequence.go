package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/trace"
)

// SequenceName names dynamic sequence runs.
const SequenceName = "dynamic scan sequence"

// ReportPath is where an nmap step of the dynamic sequence writes its XML.
func ReportPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("octapus_nmap_%d.xml", os.Getpid()))
}

// RunScripts executes the dynamic scan sequence: each script runs
// unconditionally in order. An nmap script additionally writes an XML
// report, and the follow-up scans derived from it are appended to the
// queue.
func (r *Runner) RunScripts(ctx context.Context, run *Run, scripts []nmap.Script, wl nmap.Wordlists) *RunResult {
	start := r.cfg.Now()
	res := &RunResult{ID: run.ID, Name: SequenceName, State: StateRunning, Variables: map[string]string{}}
	log := r.cfg.Log.With(zap.String("run_id", run.ID))

	if err := run.transition(StateRunning); err != nil {
		res.State, res.Err = StateFailed, err
		run.finish(res)
		return res
	}
	r.publish(run.ID, trace.Started(SequenceName, run.ID, len(scripts)))

	queue := slices.Clone(scripts)
	final := StateCompleted
	for i := 0; i < len(queue); i++ {
		if ctx.Err() != nil {
			final = StateStopped
			break
		}
		entry := queue[i]
		run.setStep(i)
		out := StepOutcome{Index: i, Tool: entry.Tool, Args: entry.Args, Status: condition.StatusSkipped}
		if entry.Tool == "" {
			r.logLine("octapus", fmt.Sprintf("Invalid entry, skipping: %v", entry))
			out.Reason = "step has no tool"
			res.Steps = append(res.Steps, out)
			continue
		}
		r.publish(run.ID, trace.Progress(i, entry.Tool, fmt.Sprintf("Running %s", entry.Tool)))

		args := slices.Clone(entry.Args)
		var report string
		if entry.Tool == "nmap" {
			report = ReportPath()
			args = append(args, "-oX", report)
		}
		out.Args = args

		er, err := r.exec(ctx, entry.Tool, args, 0)
		switch {
		case err != nil && ctx.Err() != nil:
			out.Reason = "stopped"
			res.Steps = append(res.Steps, out)
			final = StateStopped
		case err != nil:
			out.Status = condition.StatusFailed
			out.ExitCode = -1
			out.Output = err.Error()
			r.logLine("octapus", fmt.Sprintf("Failed to run %s: %v", entry.Tool, err))
		default:
			out.ExitCode = er.ExitCode
			out.Output = er.Output
			out.Duration = er.Duration
			out.TimedOut = er.TimedOut
			out.Status = condition.StatusFailed
			if er.Success() {
				out.Status = condition.StatusSuccess
			}
		}
		if final == StateStopped {
			break
		}
		res.Steps = append(res.Steps, out)
		r.publish(run.ID, trace.ScanComplete(entry.Tool, out.Status == condition.StatusSuccess))

		if report != "" {
			queue = append(queue, r.followUps(report, wl, log)...)
		}
	}

	res.State = final
	res.Duration = r.cfg.Now().Sub(start)
	if err := run.transition(final); err != nil {
		log.Warn("state transition", zap.Error(err))
	}
	if final == StateCompleted {
		r.logLine("octapus", "Full dynamic scan sequence completed")
	} else {
		r.logLine("octapus", "Dynamic scan sequence stopped")
	}
	r.publish(run.ID, trace.Completed(final == StateCompleted))
	run.finish(res)
	return res
}

func (r *Runner) followUps(report string, wl nmap.Wordlists, log *zap.Logger) []nmap.Script {
	defer os.Remove(report)
	if r.cfg.DryRun {
		return nil
	}
	f, err := nmap.ParseFile(report)
	if err != nil {
		r.logLine("nmap", fmt.Sprintf("XML parse error: %v", err))
		return nil
	}
	next := nmap.FollowUps(f, wl)
	log.Info("nmap follow-ups queued",
		zap.Int("web", len(f.Web)), zap.Int("ssh", len(f.SSH)), zap.Int("ftp", len(f.FTP)), zap.Int("scans", len(next)))
	return next
}
