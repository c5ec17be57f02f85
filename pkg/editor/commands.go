package editor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/trace"
)

// Exec runs one command line and reports whether the REPL should exit.
func (r *REPL) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "add", "a":
		err = r.handleAdd(rest)
	case "args":
		err = r.handleArgs(rest)
	case "cond", "if":
		err = r.handleCond(rest)
	case "timeout":
		err = r.handleTimeout(rest)
	case "extract":
		err = r.handleExtract(rest)
	case "rm":
		err = r.withIndex(rest, r.editor.RemoveStep)
	case "mv":
		err = r.handleMove(rest)
	case "list", "ls":
		r.handleList()
	case "set":
		name, value, _ := strings.Cut(rest, " ")
		err = r.editor.SetVariable(name, strings.TrimSpace(value))
	case "unset":
		err = r.editor.DeleteVariable(rest)
	case "vars":
		r.handleVars()
	case "name":
		err = r.editor.SetName(rest)
	case "desc":
		err = r.editor.SetDescription(rest)
	case "load":
		err = r.editor.Open(ctx, rest)
		if err == nil {
			fmt.Fprintf(r.output, "  Loaded %q (%d steps)\n", r.editor.Name(), len(r.editor.Steps()))
		}
	case "example":
		err = r.editor.LoadExample(rest)
		if err == nil {
			fmt.Fprintf(r.output, "  Loaded example %q (%d steps)\n", r.editor.Name(), len(r.editor.Steps()))
		}
	case "examples":
		r.handleExamples()
	case "save":
		err = r.handleSave(ctx)
	case "run":
		err = r.handleRun(ctx)
	case "stop":
		err = r.editor.Stop(ctx)
		if err == nil {
			fmt.Fprintf(r.output, "  Stop requested\n")
		}
	case "status":
		r.handleStatus()
	case "results":
		r.handleResults()
	case "log":
		for _, l := range r.editor.Log() {
			fmt.Fprintln(r.output, l)
		}
	case "validate":
		r.handleValidate()
	case "clear":
		err = r.handleClear()
	case "undo":
		err = r.editor.Undo()
	case "export":
		err = r.handleExport()
	case "help", "?":
		r.handleHelp()
	case "quit", "q", "exit":
		fmt.Fprintf(r.output, "Exiting editor.\n")
		return true
	default:
		fmt.Fprintf(r.output, "Unknown command: %q. Type 'help' for available commands.\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
	}
	return false
}

// parseIndex reads a 1-based step number.
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid step number %q", s)
	}
	return n - 1, nil
}

func (r *REPL) withIndex(arg string, fn func(int) error) error {
	i, err := parseIndex(arg)
	if err != nil {
		return err
	}
	return fn(i)
}

// stepAt returns step i and the rest of the command line after its number.
func (r *REPL) stepAt(rest string) (int, scenario.Step, string, error) {
	num, tail, _ := strings.Cut(rest, " ")
	i, err := parseIndex(num)
	if err != nil {
		return 0, scenario.Step{}, "", err
	}
	steps := r.editor.Steps()
	if i >= len(steps) {
		return 0, scenario.Step{}, "", fmt.Errorf("step %d out of range (have %d)", i+1, len(steps))
	}
	return i, steps[i], strings.TrimSpace(tail), nil
}

// handleAdd: add <tool> [args...]
func (r *REPL) handleAdd(rest string) error {
	tool, argLine, _ := strings.Cut(rest, " ")
	if tool == "" {
		return errors.New("usage: add <tool> [args...]")
	}
	args, err := scenario.SplitArgs(argLine)
	if err != nil {
		return err
	}
	i, err := r.editor.AddStep(scenario.NewStep(tool, args...))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "  Step %d: %s %s\n", i+1, tool, scenario.JoinArgs(args))
	return nil
}

// handleArgs: args <n> <args...>
func (r *REPL) handleArgs(rest string) error {
	i, st, tail, err := r.stepAt(rest)
	if err != nil {
		return err
	}
	args, err := scenario.SplitArgs(tail)
	if err != nil {
		return err
	}
	st.Args = args
	return r.editor.UpdateStep(i, st)
}

// handleCond: cond <n> <type> [operator] [value...]
func (r *REPL) handleCond(rest string) error {
	i, st, tail, err := r.stepAt(rest)
	if err != nil {
		return err
	}
	typ, value, _ := strings.Cut(tail, " ")
	kind, err := scenario.ParseKind(typ)
	if err != nil {
		return err
	}
	c := scenario.Condition{Type: kind}
	value = strings.TrimSpace(value)
	if kind.NeedsOperator() {
		op, v, _ := strings.Cut(value, " ")
		if scenario.Operator(op).Known() {
			c.Operator = scenario.Operator(op)
			value = strings.TrimSpace(v)
		}
	}
	if kind.NeedsValue() {
		if value == "" {
			return fmt.Errorf("condition %s requires a value", kind)
		}
		c.Value = value
	}
	st.Condition = c
	return r.editor.UpdateStep(i, st)
}

// handleTimeout: timeout <n> <seconds>
func (r *REPL) handleTimeout(rest string) error {
	i, st, tail, err := r.stepAt(rest)
	if err != nil {
		return err
	}
	secs, err := strconv.Atoi(tail)
	if err != nil || secs <= 0 {
		return fmt.Errorf("invalid timeout %q", tail)
	}
	st.Timeout = secs
	return r.editor.UpdateStep(i, st)
}

// handleExtract: extract <n> <var> <regex>
func (r *REPL) handleExtract(rest string) error {
	i, st, tail, err := r.stepAt(rest)
	if err != nil {
		return err
	}
	name, pattern, _ := strings.Cut(tail, " ")
	pattern = strings.TrimSpace(pattern)
	if name == "" || pattern == "" {
		return errors.New("usage: extract <step> <variable> <regex>")
	}
	if st.Variables == nil {
		st.Variables = map[string]string{}
	}
	st.Variables[name] = pattern
	return r.editor.UpdateStep(i, st)
}

func (r *REPL) handleMove(rest string) error {
	from, to, _ := strings.Cut(rest, " ")
	f, err := parseIndex(from)
	if err != nil {
		return err
	}
	t, err := parseIndex(strings.TrimSpace(to))
	if err != nil {
		return err
	}
	return r.editor.MoveStep(f, t)
}

func (r *REPL) handleList() {
	steps := r.editor.Steps()
	if len(steps) == 0 {
		fmt.Fprintf(r.output, "No steps. Use 'add <tool> [args]'.\n")
		return
	}
	for i, st := range steps {
		fmt.Fprintf(r.output, "  %d. IF %s THEN %s %s\n", i+1, st.Condition, st.Tool, scenario.JoinArgs(st.Args))
		for name, pattern := range st.Variables {
			fmt.Fprintf(r.output, "       extract %s = /%s/\n", name, pattern)
		}
	}
}

func (r *REPL) handleVars() {
	vs := r.editor.Variables()
	if len(vs) == 0 {
		fmt.Fprintf(r.output, "No variables defined.\n")
		return
	}
	for _, k := range slices.Sorted(maps.Keys(vs)) {
		fmt.Fprintf(r.output, "  %s = %q\n", k, vs[k])
	}
}

func (r *REPL) handleExamples() {
	list, err := examples.List()
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return
	}
	for _, ex := range list {
		fmt.Fprintf(r.output, "  %-18s %s (%d steps)\n", ex.ID, examples.StripPrefix(ex.Scenario.Name), len(ex.Scenario.Steps))
	}
}

func (r *REPL) handleSave(ctx context.Context) error {
	name, err := r.editor.Save(ctx)
	if err != nil && name == "" {
		return err
	}
	if err != nil {
		fmt.Fprintf(r.output, "  Saved %q (%v)\n", name, err)
		return nil
	}
	fmt.Fprintf(r.output, "  Saved %q\n", name)
	return nil
}

func (r *REPL) handleRun(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	var events <-chan trace.Event
	if r.subscribe != nil {
		ch, err := r.subscribe(subCtx)
		if err != nil {
			fmt.Fprintf(r.output, "  Live results unavailable: %v\n", err)
		} else {
			events = ch
		}
	}
	id, err := r.editor.Run(ctx)
	if err != nil {
		cancel()
		return err
	}
	fmt.Fprintf(r.output, "  Scenario started (%s)\n", id)
	if events == nil {
		cancel()
		return nil
	}
	go r.follow(events, cancel)
	return nil
}

// follow applies events and prints step outcomes until the run completes.
func (r *REPL) follow(events <-chan trace.Event, done context.CancelFunc) {
	defer done()
	id := r.editor.RunID()
	for evt := range events {
		if evt.RunID != "" && evt.RunID != id {
			continue
		}
		r.editor.Apply(evt)
		switch evt.Type {
		case trace.EventStepResult:
			mark := "✓"
			if !evt.Bool("success") {
				mark = "✗"
			}
			fmt.Fprintf(r.output, "  %s step %d %s\n", mark, evt.Int("step_index")+1, evt.String("tool"))
		case trace.EventStepSkipped:
			fmt.Fprintf(r.output, "  - step %d skipped: %s\n", evt.Int("step_index")+1, evt.String("reason"))
		case trace.EventScenarioCompleted:
			fmt.Fprintf(r.output, "  Scenario %s\n", r.editor.Phase())
			return
		}
	}
}

func (r *REPL) handleStatus() {
	b := r.editor.Buttons()
	fmt.Fprintf(r.output, "  phase: %s\n", r.editor.Phase())
	if id := r.editor.RunID(); id != "" {
		fmt.Fprintf(r.output, "  run:   %s\n", id)
	}
	fmt.Fprintf(r.output, "  save=%t run=%t clear=%t stop=%t\n", b.Save, b.Run, b.Clear, b.Stop)
	if err := r.editor.Err(); err != nil {
		fmt.Fprintf(r.output, "  last error: %v\n", err)
	}
}

func (r *REPL) handleResults() {
	steps := r.editor.Steps()
	shown := false
	for i, st := range steps {
		res, ok := r.editor.Result(i)
		if !ok {
			continue
		}
		shown = true
		switch {
		case res.Skipped != "":
			fmt.Fprintf(r.output, "  - [%d] %s skipped: %s\n", i+1, st.Tool, res.Skipped)
		case res.Success:
			fmt.Fprintf(r.output, "  ✓ [%d] %s\n", i+1, st.Tool)
		default:
			fmt.Fprintf(r.output, "  ✗ [%d] %s\n", i+1, st.Tool)
		}
	}
	if !shown {
		fmt.Fprintf(r.output, "No results yet.\n")
	}
}

func (r *REPL) handleValidate() {
	findings := r.editor.Validate()
	if len(findings) == 0 {
		fmt.Fprintf(r.output, "  ✓ valid\n")
		return
	}
	for _, f := range findings {
		fmt.Fprintf(r.output, "  %s: %s\n", f.Severity, f.Error())
	}
}

func (r *REPL) handleClear() error {
	cleared, err := r.editor.Clear(func() bool {
		return r.confirm("Clear all steps and variables?")
	})
	if err != nil {
		return err
	}
	if cleared {
		fmt.Fprintf(r.output, "  Cleared. 'undo' restores it.\n")
	}
	return nil
}

func (r *REPL) handleExport() error {
	data, err := scenario.MarshalIndent(r.editor.Scenario())
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, string(data))
	return nil
}

// handleHelp displays available commands.
func (r *REPL) handleHelp() {
	fmt.Fprintln(r.output, "Available commands:")
	fmt.Fprintln(r.output, "  add <tool> [args]             Append a step")
	fmt.Fprintln(r.output, "  args <n> <args>               Replace the arguments of step n")
	fmt.Fprintln(r.output, "  cond <n> <type> [op] [value]  Set the condition of step n")
	fmt.Fprintln(r.output, "  timeout <n> <seconds>         Set the timeout of step n")
	fmt.Fprintln(r.output, "  extract <n> <var> <regex>     Extract a variable from step n output")
	fmt.Fprintln(r.output, "  rm <n> / mv <from> <to>       Remove or move a step")
	fmt.Fprintln(r.output, "  list (ls)                     Show the steps")
	fmt.Fprintln(r.output, "  set <name> <value> / unset    Bind or remove a variable")
	fmt.Fprintln(r.output, "  vars                          Show variables")
	fmt.Fprintln(r.output, "  name / desc <text>            Rename or describe the scenario")
	fmt.Fprintln(r.output, "  load <name>                   Load a saved scenario")
	fmt.Fprintln(r.output, "  example <id> / examples       Load or list bundled examples")
	fmt.Fprintln(r.output, "  save / run / stop             Save, run or stop the scenario")
	fmt.Fprintln(r.output, "  status / results / log        Show run state, step results, output")
	fmt.Fprintln(r.output, "  validate                      Check the scenario")
	fmt.Fprintln(r.output, "  clear / undo                  Clear everything, or restore it")
	fmt.Fprintln(r.output, "  export                        Print the scenario JSON")
	fmt.Fprintln(r.output, "  help (?)                      Show this help")
	fmt.Fprintln(r.output, "  quit (q)                      Exit editor")
}
