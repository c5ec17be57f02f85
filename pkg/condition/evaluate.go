package condition

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// Evaluate parses c and evaluates it against ctx.
func Evaluate(c scenario.Condition, ctx *Context) (bool, error) {
	p, err := Parse(c)
	if err != nil {
		return false, err
	}
	return Eval(p, ctx)
}

// Eval evaluates a parsed predicate. Without a previous step, prev_*
// kinds see an empty output and no exit code, so only the negated text
// test holds.
func Eval(p Predicate, ctx *Context) (bool, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	prev := ctx.Prev

	switch p := p.(type) {
	case Constant:
		return p.Result, nil

	case PrevStatus:
		if prev == nil {
			return false, nil
		}
		return (prev.ExitCode == 0) == p.Success, nil
	case PrevText:
		out := ""
		if prev != nil {
			out = prev.Output
		}
		return strings.Contains(out, p.Text) != p.Negate, nil
	case PrevRegex:
		return prev != nil && p.Re.MatchString(prev.Output), nil
	case PrevExitCode:
		return prev != nil && p.Cmp.Test(int64(prev.ExitCode)), nil

	case OutputText:
		found := false
		for _, r := range ctx.executed() {
			if strings.Contains(r.Output, p.Text) {
				found = true
				break
			}
		}
		return found != p.Negate, nil
	case OutputRegex:
		for _, r := range ctx.executed() {
			if p.Re.MatchString(r.Output) {
				return true, nil
			}
		}
		return false, nil
	case OutputMeasure:
		out := ""
		if prev != nil {
			out = prev.Output
		}
		if p.Kind() == scenario.KindOutputSize {
			return p.Cmp.Test(int64(len(out))), nil
		}
		return p.Cmp.Test(int64(LineCount(out))), nil

	case FileExists:
		info, err := ctx.fs().Stat(p.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return p.Negate, nil
			}
			return false, fmt.Errorf("stat %s: %w", p.Path, err)
		}
		if p.Dir {
			return info.IsDir(), nil
		}
		return !p.Negate, nil
	case FileContains:
		data, ok, err := readIfExists(ctx.fs(), p.Path)
		if err != nil || !ok {
			return false, err
		}
		return strings.Contains(string(data), p.Text), nil
	case FileRegex:
		data, ok, err := readIfExists(ctx.fs(), p.Path)
		if err != nil || !ok {
			return false, err
		}
		return p.Re.Match(data), nil
	case FileSize:
		info, err := ctx.fs().Stat(p.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return false, fmt.Errorf("stat %s: %w", p.Path, err)
		}
		return p.Cmp.Test(info.Size()), nil

	case VarSet:
		v, ok := ctx.Vars[p.Name]
		return ok && v != "", nil
	case VarMatch:
		v, ok := ctx.Vars[p.Name]
		if !ok {
			return false, nil
		}
		return matchText(p.Op, v, p.Expected, p.re), nil
	case VarRegex:
		v, ok := ctx.Vars[p.Name]
		return ok && p.Re.MatchString(v), nil

	case PortState:
		return ctx.prober().PortOpen(p.Host, p.Port) == p.Open, nil
	case HostState:
		return ctx.prober().HostUp(p.Host) == p.Up, nil
	case ServiceDetected:
		for _, r := range ctx.executed() {
			for _, line := range strings.Split(r.Output, "\n") {
				if strings.Contains(line, "open") && strings.Contains(line, p.Service) {
					return true, nil
				}
			}
		}
		return false, nil

	case TimeOfDay:
		now := ctx.now()
		minutes := now.Hour()*60 + now.Minute()
		if p.After {
			return minutes >= p.Minutes, nil
		}
		return minutes < p.Minutes, nil
	case ExecutionTime:
		if prev == nil {
			return false, nil
		}
		return p.Cmp.Test(int64(prev.Duration.Seconds())), nil

	case StepResult:
		if p.Step > len(ctx.History) {
			return false, nil
		}
		return ctx.History[p.Step-1].Status == p.Expect, nil
	case CountCondition:
		out := ""
		if prev != nil {
			out = prev.Output
		}
		n := 0
		if p.Pattern != "" {
			n = strings.Count(out, p.Pattern)
		}
		return p.Cmp.Test(int64(n)), nil
	case CustomScript:
		res, err := expr.Run(p.program, scriptEnv(ctx))
		if err != nil {
			return false, fmt.Errorf("eval script %q: %w", p.Source, err)
		}
		b, ok := res.(bool)
		if !ok {
			return false, fmt.Errorf("script %q did not return bool (got %T)", p.Source, res)
		}
		return b, nil
	}
	return false, &UnknownConditionError{Kind: p.Kind()}
}

// LineCount counts lines, ignoring one trailing newline.
func LineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}

func readIfExists(fsys FileSystem, path string) ([]byte, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return data, true, nil
}

// scriptEnv is the environment visible to custom_script expressions.
func scriptEnv(ctx *Context) map[string]any {
	env := map[string]any{
		"prev_output":    "",
		"prev_exit_code": -1,
		"prev_success":   false,
		"vars":           map[string]string{},
		"outputs":        []string{},
		"step_count":     len(ctx.History),
	}
	if ctx.Prev != nil {
		env["prev_output"] = ctx.Prev.Output
		env["prev_exit_code"] = ctx.Prev.ExitCode
		env["prev_success"] = ctx.Prev.ExitCode == 0
	}
	if ctx.Vars != nil {
		env["vars"] = ctx.Vars
	}
	var outputs []string
	for _, r := range ctx.executed() {
		outputs = append(outputs, r.Output)
	}
	if outputs != nil {
		env["outputs"] = outputs
	}
	return env
}
