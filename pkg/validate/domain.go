package validate

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/vars"
)

// CommonVariables are always accepted in placeholders.
var CommonVariables = []string{"target", "target_url", "username", "password", "service", "port"}

// DefaultVariables are bound at the start of every run.
var DefaultVariables = []string{"timestamp", "date", "time", "random"}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script.*?>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i);\s*rm\s+-rf`),
	regexp.MustCompile(`(?i);\s*sudo`),
}

var (
	hostPortRe = regexp.MustCompile(`^[\w.-]+:\d+$`)
	hhmmRe     = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// Scenario runs the domain checks: a name, at least one step, and per
// step the argument, placeholder and condition checks.
func Scenario(s *scenario.Scenario) []*ValidationError {
	var errs []*ValidationError
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errorf("domain", "name", "scenario name is required"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errorf("domain", "steps", "at least one step is required"))
	}

	known := KnownVariables(s)
	for i, st := range s.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(st.Tool) == "" {
			errs = append(errs, errorf("domain", path+".tool", "tool is required"))
		}
		errs = append(errs, CheckArgs(path+".args", st.Args)...)
		errs = append(errs, CheckPlaceholders(path+".args", st.Args, known)...)
		errs = append(errs, CheckCondition(path+".condition", st.Condition)...)
		if !st.Condition.Type.IsRegex() {
			errs = append(errs, CheckPlaceholders(path+".condition.value", []string{st.Condition.Value}, known)...)
		}
		for name, pattern := range st.Variables {
			if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, errorf("domain", fmt.Sprintf("%s.variables.%s", path, name), "invalid extraction regex: %v", err))
			}
		}
	}
	return errs
}

// KnownVariables is the set a placeholder may reference: scenario
// variables, names extracted by any step, the common set and the defaults.
func KnownVariables(s *scenario.Scenario) map[string]bool {
	known := make(map[string]bool)
	for _, n := range CommonVariables {
		known[n] = true
	}
	for _, n := range DefaultVariables {
		known[n] = true
	}
	for n := range s.Variables {
		known[n] = true
	}
	for _, st := range s.Steps {
		for n := range st.Variables {
			known[n] = true
		}
	}
	return known
}

// CheckArgs flags shell or markup injection markers. Warnings only.
func CheckArgs(path string, args []string) []*ValidationError {
	var errs []*ValidationError
	for i, a := range args {
		for _, re := range dangerousPatterns {
			if re.MatchString(a) {
				errs = append(errs, warningf("domain", fmt.Sprintf("%s[%d]", path, i), "potentially dangerous content %q", re.FindString(a)))
				break
			}
		}
	}
	return errs
}

// CheckPlaceholders flags {name} references outside known. Warnings only.
func CheckPlaceholders(path string, values []string, known map[string]bool) []*ValidationError {
	var errs []*ValidationError
	for i, v := range values {
		var undefined []string
		for _, name := range vars.Placeholders(v) {
			if !known[name] && !slices.Contains(undefined, name) {
				undefined = append(undefined, name)
			}
		}
		if len(undefined) == 0 {
			continue
		}
		p := path
		if len(values) > 1 {
			p = fmt.Sprintf("%s[%d]", path, i)
		}
		errs = append(errs, warningf("domain", p, "undefined variables: %s", strings.Join(undefined, ", ")))
	}
	return errs
}

// CheckCondition validates the value format for the condition kind.
// Placeholders in non-regex values are checked as if bound.
func CheckCondition(path string, c scenario.Condition) []*ValidationError {
	k := c.Type
	if k == "" {
		return nil
	}
	if !k.Known() {
		return []*ValidationError{errorf("domain", path+".type", "unknown condition type %q", k)}
	}
	value := strings.TrimSpace(c.Value)
	if k.NeedsValue() && value == "" {
		return []*ValidationError{errorf("domain", path+".value", "value required for this condition")}
	}
	if value == "" {
		return nil
	}
	if c.Operator != "" && !c.Operator.Known() {
		return []*ValidationError{errorf("domain", path+".operator", "unknown operator %q", c.Operator)}
	}

	if k.IsRegex() {
		pattern := value
		if k == scenario.KindFileRegex || k == scenario.KindVarRegex {
			_, pattern, _ = strings.Cut(value, ":")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return []*ValidationError{errorf("domain", path+".value", "invalid regex pattern: %v", err)}
		}
	} else if k != scenario.KindCustomScript {
		value = bindPlaceholders(k, value)
	}

	switch k {
	case scenario.KindPrevExitCode, scenario.KindExecutionTime:
		if _, err := condition.ParseComparison(value, ""); err != nil {
			return []*ValidationError{errorf("domain", path+".value", "must be a number or comparison (e.g., >30)")}
		}
	case scenario.KindPortOpen, scenario.KindPortClosed:
		if !hostPortRe.MatchString(value) {
			return []*ValidationError{errorf("domain", path+".value", "must be in format host:port")}
		}
	case scenario.KindTimeAfter, scenario.KindTimeBefore:
		if !hhmmRe.MatchString(value) {
			return []*ValidationError{errorf("domain", path+".value", "must be in HH:MM format")}
		}
	}

	if _, err := condition.Parse(scenario.Condition{Type: k, Operator: c.Operator, Value: value}); err != nil {
		var ve *condition.ValueError
		if errors.As(err, &ve) {
			return []*ValidationError{errorf("domain", path+".value", "%s", ve.Reason)}
		}
		return []*ValidationError{errorf("domain", path, "%v", err)}
	}
	return nil
}

// bindPlaceholders stands a neutral token in for each {name}.
func bindPlaceholders(k scenario.Kind, v string) string {
	names := vars.Placeholders(v)
	if len(names) == 0 {
		return v
	}
	token := "placeholder"
	switch k {
	case scenario.KindPrevExitCode, scenario.KindExecutionTime, scenario.KindOutputLineCount, scenario.KindOutputSize:
		token = "1"
	case scenario.KindTimeAfter, scenario.KindTimeBefore:
		token = "00:00"
	}
	bound := make(map[string]string, len(names))
	for _, n := range names {
		bound[n] = token
		if strings.Contains(strings.ToLower(n), "port") {
			bound[n] = "1"
		}
	}
	return vars.Substitute(v, bound)
}
