package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/logging"
	"github.com/octapusprime/octapus/pkg/trace"
)

var (
	runVars    []string
	runDryRun  bool
	runNoTrace bool
	runOutput  bool
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Execute a scenario locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenario,
}

func runScenario(cmd *cobra.Command, args []string) error {
	overrides, err := parseVars(runVars)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := loadScenario(args[0])
	if err != nil {
		return err
	}

	log, syncLog, err := logging.New(cfg.LogLevel, cfg.LogDir(), io.Discard)
	if err != nil {
		return err
	}
	defer func() { _ = syncLog() }()

	hub := trace.NewHub(0, log)
	var runner *engine.Runner
	if runDryRun {
		runner = engine.New(engine.Config{Hub: hub, Log: log, DryRun: true})
	} else {
		r, closeTrace, err := newRunner(cfg, hub, log, nil, !runNoTrace)
		if err != nil {
			return err
		}
		defer closeTrace()
		runner = r
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := hub.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for evt := range sub.C {
			if line := formatEvent(evt, runOutput); line != "" {
				fmt.Fprintln(os.Stderr, line)
			}
		}
	}()

	res := runner.Run(ctx, s, overrides)
	sub.Close()
	<-printed

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	if !res.Success() {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("scenario %s", res.State)
	}
	return nil
}

// parseVars turns repeated key=value flags into an override map.
func parseVars(flags []string) (map[string]string, error) {
	vars := make(map[string]string, len(flags))
	for _, v := range flags {
		k, val, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", v)
		}
		vars[strings.TrimSpace(k)] = val
	}
	return vars, nil
}

// formatEvent renders a live progress line, or "" for events not shown.
// Tool output lines appear only when showOutput is set.
func formatEvent(evt trace.Event, showOutput bool) string {
	switch evt.Type {
	case trace.EventScenarioStarted:
		return fmt.Sprintf("▶ %s (%d steps)", evt.String("name"), evt.Int("steps"))
	case trace.EventScenarioProgress:
		return "  " + evt.String("message")
	case trace.EventStepSkipped:
		return dimColor.Sprintf("  ⏭ step %d (%s) skipped: %s", evt.Int("step_index")+1, evt.String("tool"), evt.String("reason"))
	case trace.EventError:
		return failColor.Sprintf("  ! %s", evt.String("message"))
	case trace.EventLog:
		if showOutput {
			return dimColor.Sprintf("    [%s] %s", evt.String("tool"), evt.String("line"))
		}
	}
	return ""
}

// printResult writes the per-step summary of a finished run.
func printResult(w io.Writer, res *engine.RunResult) {
	fmt.Fprintf(w, "\n  %s\n", res.Name)
	for _, st := range res.Steps {
		line := fmt.Sprintf("%d. %s", st.Index+1, st.Tool)
		switch st.Status {
		case condition.StatusSuccess:
			fmt.Fprintf(w, "    %s %s  %s\n", okColor.Sprint("✓"), line, st.Duration.Truncate(time.Millisecond))
		case condition.StatusFailed:
			detail := fmt.Sprintf("exit %d", st.ExitCode)
			if st.TimedOut {
				detail = "timed out"
			}
			fmt.Fprintf(w, "    %s %s  %s\n", failColor.Sprint("✗"), line, detail)
		default:
			fmt.Fprintf(w, "    %s %s  %s\n", dimColor.Sprint("-"), line, st.Reason)
		}
	}
	if len(res.Variables) > 0 {
		fmt.Fprintln(w, "\n  Variables:")
		for _, k := range slices.Sorted(maps.Keys(res.Variables)) {
			fmt.Fprintf(w, "    %s = %s\n", k, res.Variables[k])
		}
	}
	summary := fmt.Sprintf("\n  %s in %s\n", res.State, res.Duration.Truncate(time.Millisecond))
	if res.Success() {
		okColor.Fprint(w, summary)
	} else {
		failColor.Fprint(w, summary)
	}
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Variable override (key=value), repeatable")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate conditions without running any tool")
	runCmd.Flags().BoolVar(&runNoTrace, "no-trace", false, "Do not write a trace file")
	runCmd.Flags().BoolVar(&runOutput, "output", false, "Stream tool output")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(runCmd)
}
