package executor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
)

// Policy decides which tools may run and what is masked in their logs.
type Policy struct {
	AllowedTools []string
	DeniedTools  []string
	redactions   []redaction
}

type redaction struct {
	re      *regexp.Regexp
	replace string
}

// RedactionRule masks matches of Pattern in logged output.
type RedactionRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Replace string `yaml:"replace" json:"replace"`
}

// NewPolicy compiles a policy.
func NewPolicy(allowed, denied []string, rules []RedactionRule) (*Policy, error) {
	p := &Policy{AllowedTools: allowed, DeniedTools: denied}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", r.Pattern, err)
		}
		replace := r.Replace
		if replace == "" {
			replace = "[REDACTED]"
		}
		p.redactions = append(p.redactions, redaction{re, replace})
	}
	return p, nil
}

// CheckTool validates a tool against the deny and allow lists. Deny takes
// precedence; an empty allow list allows everything not denied. Tools
// match by name or by the base name of a path.
func (p *Policy) CheckTool(tool string) error {
	if p == nil {
		return nil
	}
	base := filepath.Base(tool)
	if slices.Contains(p.DeniedTools, tool) || slices.Contains(p.DeniedTools, base) {
		return fmt.Errorf("tool %q is denied by policy", tool)
	}
	if len(p.AllowedTools) > 0 && !slices.Contains(p.AllowedTools, tool) && !slices.Contains(p.AllowedTools, base) {
		return fmt.Errorf("tool %q is not in the allowlist", tool)
	}
	return nil
}

// Redact applies the redaction rules to a line destined for the logs.
func (p *Policy) Redact(line string) string {
	if p == nil {
		return line
	}
	for _, r := range p.redactions {
		line = r.re.ReplaceAllString(line, r.replace)
	}
	return line
}
