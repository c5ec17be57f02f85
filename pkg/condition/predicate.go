package condition

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// Predicate is the parsed form of a condition. The set of implementations
// is closed; Eval switches over all of them.
type Predicate interface {
	Kind() scenario.Kind
	sealed()
}

type base struct{ kind scenario.Kind }

func (b base) Kind() scenario.Kind { return b.kind }
func (base) sealed()               {}

type (
	// Constant is always or never.
	Constant struct {
		base
		Result bool
	}

	// PrevStatus tests the previous step's exit code.
	PrevStatus struct {
		base
		Success bool
	}

	// PrevText tests the previous step's output for a substring.
	PrevText struct {
		base
		Text   string
		Negate bool
	}

	PrevRegex struct {
		base
		Re *regexp.Regexp
	}

	PrevExitCode struct {
		base
		Cmp Comparison
	}

	// OutputText tests all earlier outputs: any contains, or none contains.
	OutputText struct {
		base
		Text   string
		Negate bool
	}

	OutputRegex struct {
		base
		Re *regexp.Regexp
	}

	// OutputMeasure compares the line count or byte size of the previous output.
	OutputMeasure struct {
		base
		Cmp Comparison
	}

	FileExists struct {
		base
		Path   string
		Negate bool
		Dir    bool
	}

	FileContains struct {
		base
		Path string
		Text string
	}

	FileRegex struct {
		base
		Path string
		Re   *regexp.Regexp
	}

	FileSize struct {
		base
		Path string
		Cmp  Comparison
	}

	VarSet struct {
		base
		Name string
	}

	// VarMatch compares a variable with Op.
	VarMatch struct {
		base
		Name     string
		Op       scenario.Operator
		Expected string
		re       *regexp.Regexp
	}

	VarRegex struct {
		base
		Name string
		Re   *regexp.Regexp
	}

	PortState struct {
		base
		Host string
		Port int
		Open bool
	}

	HostState struct {
		base
		Host string
		Up   bool
	}

	// ServiceDetected looks for an "open" line naming Service in any earlier output.
	ServiceDetected struct {
		base
		Service string
	}

	// TimeOfDay compares the local clock with HH:MM. After is inclusive.
	TimeOfDay struct {
		base
		Minutes int
		After   bool
	}

	// ExecutionTime compares the previous step's duration in whole seconds.
	ExecutionTime struct {
		base
		Cmp Comparison
	}

	// StepResult tests the status of step Step (1-based).
	StepResult struct {
		base
		Step   int
		Expect Status
	}

	// CountCondition counts occurrences of Pattern in the previous output.
	CountCondition struct {
		base
		Pattern string
		Cmp     Comparison
	}

	CustomScript struct {
		base
		Source  string
		program *vm.Program
	}
)

var (
	hostPortRe = regexp.MustCompile(`^[\w.\-\[\]:]+:\d+$`)
	hhmmRe     = regexp.MustCompile(`^(\d{2}):(\d{2})$`)
)

// Parse converts a condition into its typed predicate. The value must
// already have placeholders substituted.
func Parse(c scenario.Condition) (Predicate, error) {
	k := c.Type
	if k == "" {
		k = scenario.KindAlways
	}
	b := base{kind: k}
	v := c.Value

	if k.Known() && k.NeedsValue() && strings.TrimSpace(v) == "" {
		return nil, &ValueError{Kind: k, Value: v, Reason: "value is required"}
	}
	bad := func(reason string, args ...any) error {
		return &ValueError{Kind: k, Value: v, Reason: fmt.Sprintf(reason, args...)}
	}

	switch k {
	case scenario.KindAlways:
		return Constant{b, true}, nil
	case scenario.KindNever:
		return Constant{b, false}, nil

	case scenario.KindPrevSuccess:
		return PrevStatus{b, true}, nil
	case scenario.KindPrevFail:
		return PrevStatus{b, false}, nil
	case scenario.KindPrevContains:
		return PrevText{b, v, false}, nil
	case scenario.KindPrevNotContains:
		return PrevText{b, v, true}, nil
	case scenario.KindPrevRegex:
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, bad("%v", err)
		}
		return PrevRegex{b, re}, nil
	case scenario.KindPrevExitCode:
		cmp, err := ParseComparison(v, "")
		if err != nil {
			return nil, bad("%v", err)
		}
		return PrevExitCode{b, cmp}, nil

	case scenario.KindOutputContains:
		return OutputText{b, v, false}, nil
	case scenario.KindOutputNotContains:
		return OutputText{b, v, true}, nil
	case scenario.KindOutputRegex:
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, bad("%v", err)
		}
		return OutputRegex{b, re}, nil
	case scenario.KindOutputLineCount, scenario.KindOutputSize:
		cmp, err := ParseComparison(v, c.Operator)
		if err != nil {
			return nil, bad("%v", err)
		}
		return OutputMeasure{b, cmp}, nil

	case scenario.KindFileExists:
		return FileExists{base: b, Path: v}, nil
	case scenario.KindFileNotExists:
		return FileExists{base: b, Path: v, Negate: true}, nil
	case scenario.KindDirExists:
		return FileExists{base: b, Path: v, Dir: true}, nil
	case scenario.KindFileContains:
		path, text, ok := strings.Cut(v, ":")
		if !ok || path == "" {
			return nil, bad("expected path:text")
		}
		return FileContains{b, path, text}, nil
	case scenario.KindFileRegex:
		path, pattern, ok := strings.Cut(v, ":")
		if !ok || path == "" {
			return nil, bad("expected path:regex")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, bad("%v", err)
		}
		return FileRegex{b, path, re}, nil
	case scenario.KindFileSize:
		i := strings.LastIndex(v, ":")
		if i <= 0 {
			return nil, bad("expected path:<op>N")
		}
		cmp, err := ParseComparison(v[i+1:], c.Operator)
		if err != nil {
			return nil, bad("%v", err)
		}
		return FileSize{b, v[:i], cmp}, nil

	case scenario.KindVarSet:
		return VarSet{b, strings.TrimSpace(v)}, nil
	case scenario.KindVarEquals, scenario.KindVarContains:
		name, expected, ok := strings.Cut(v, ":")
		if !ok || name == "" {
			return nil, bad("expected name:value")
		}
		op := c.Operator
		if k == scenario.KindVarContains {
			op = containsOp(op)
		}
		if op == "" {
			op = scenario.OpEquals
		}
		m := VarMatch{base: b, Name: name, Op: op, Expected: expected}
		if op == scenario.OpRegex || op == scenario.OpNotRegex {
			re, err := regexp.Compile(expected)
			if err != nil {
				return nil, bad("%v", err)
			}
			m.re = re
		}
		return m, nil
	case scenario.KindVarRegex:
		name, pattern, ok := strings.Cut(v, ":")
		if !ok || name == "" {
			return nil, bad("expected name:regex")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, bad("%v", err)
		}
		return VarRegex{b, name, re}, nil

	case scenario.KindPortOpen, scenario.KindPortClosed:
		if !hostPortRe.MatchString(v) {
			return nil, bad("expected host:port")
		}
		host, portStr, err := net.SplitHostPort(v)
		if err != nil {
			return nil, bad("%v", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, bad("port out of range")
		}
		return PortState{b, host, port, k == scenario.KindPortOpen}, nil
	case scenario.KindHostUp:
		return HostState{b, strings.TrimSpace(v), true}, nil
	case scenario.KindHostDown:
		return HostState{b, strings.TrimSpace(v), false}, nil
	case scenario.KindServiceDetected:
		return ServiceDetected{b, strings.TrimSpace(v)}, nil

	case scenario.KindTimeAfter, scenario.KindTimeBefore:
		m := hhmmRe.FindStringSubmatch(strings.TrimSpace(v))
		if m == nil {
			return nil, bad("expected HH:MM")
		}
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h > 23 || mm > 59 {
			return nil, bad("time out of range")
		}
		return TimeOfDay{b, h*60 + mm, k == scenario.KindTimeAfter}, nil
	case scenario.KindExecutionTime:
		cmp, err := ParseComparison(v, c.Operator)
		if err != nil {
			return nil, bad("%v", err)
		}
		return ExecutionTime{b, cmp}, nil

	case scenario.KindStepResult:
		numStr, want, ok := strings.Cut(v, ":")
		if !ok {
			return nil, bad("expected step:result")
		}
		n, err := strconv.Atoi(strings.TrimSpace(numStr))
		if err != nil || n < 1 {
			return nil, bad("step number must be a positive integer")
		}
		st, ok := ParseStatus(strings.ToLower(strings.TrimSpace(want)))
		if !ok {
			return nil, bad("result must be success, fail or skipped")
		}
		return StepResult{b, n, st}, nil
	case scenario.KindCountCondition:
		pattern, rest, err := splitQuoted(v)
		if err != nil {
			return nil, bad("%v", err)
		}
		cmp, err := ParseComparison(rest, c.Operator)
		if err != nil {
			return nil, bad("%v", err)
		}
		return CountCondition{b, pattern, cmp}, nil
	case scenario.KindCustomScript:
		prog, err := expr.Compile(v, expr.Env(scriptEnv(&Context{})), expr.AsBool())
		if err != nil {
			return nil, bad("compile: %v", err)
		}
		return CustomScript{b, v, prog}, nil
	}
	return nil, &UnknownConditionError{Kind: k}
}

// containsOp maps the generic comparison operators onto substring tests.
func containsOp(op scenario.Operator) scenario.Operator {
	switch op {
	case "", scenario.OpEquals:
		return scenario.OpContains
	case scenario.OpNotEquals:
		return scenario.OpNotContains
	}
	return op
}

// splitQuoted splits `"pattern":rest` or `pattern:rest` (last colon).
func splitQuoted(v string) (string, string, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, `"`) {
		end := strings.Index(v[1:], `"`)
		if end < 0 {
			return "", "", fmt.Errorf("unterminated quote")
		}
		pattern := v[1 : end+1]
		rest, ok := strings.CutPrefix(v[end+2:], ":")
		if !ok {
			return "", "", fmt.Errorf(`expected "pattern":<op>N`)
		}
		return pattern, rest, nil
	}
	i := strings.LastIndex(v, ":")
	if i <= 0 {
		return "", "", fmt.Errorf("expected pattern:<op>N")
	}
	return v[:i], v[i+1:], nil
}
