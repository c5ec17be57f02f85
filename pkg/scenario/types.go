// Package scenario defines the ifttt-enhanced scenario document: an ordered
// pipeline of tool invocations, each gated by a condition, plus shared
// variables.
package scenario

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// TypeIFTTTEnhanced is the only schema variant this package reads and writes.
const TypeIFTTTEnhanced = "ifttt-enhanced"

// CurrentVersion is written into newly created scenarios.
const CurrentVersion = "2.0"

// DefaultTimeout bounds a step when the document does not say otherwise.
const DefaultTimeout = 300

// ExamplePrefix marks bundled example scenarios in listings.
const ExamplePrefix = "[Example] "

// Scenario is the root document. Step order is execution order.
type Scenario struct {
	Name        string            `json:"name"                  yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version,omitempty"     yaml:"version,omitempty"`
	Type        string            `json:"type"                  yaml:"type"`
	Created     time.Time         `json:"created,omitempty"     yaml:"created,omitempty"`
	Variables   map[string]string `json:"variables"             yaml:"variables"`
	Steps       []Step            `json:"steps"                 yaml:"steps"`
}

// Step is one scheduled tool invocation.
type Step struct {
	Tool      string            `json:"tool"      yaml:"tool"`
	Args      []string          `json:"args"      yaml:"args"`
	Condition Condition         `json:"condition" yaml:"condition"`
	Timeout   int               `json:"timeout"   yaml:"timeout"`
	Variables map[string]string `json:"variables" yaml:"variables"`
	Metadata  StepMeta          `json:"metadata,omitempty"  yaml:"metadata,omitempty"`
}

// StepMeta is informational; execution order is array position.
type StepMeta struct {
	Created time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Index   int       `json:"index"   yaml:"index"`
}

// Condition decides whether a step executes.
// Operator is empty for kinds that do not take one.
type Condition struct {
	Type     Kind     `json:"type"     yaml:"type"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value"    yaml:"value"`
}

// Always returns the unconditional condition.
func Always() Condition {
	return Condition{Type: KindAlways}
}

// String renders the condition as "type [operator] [value]".
func (c Condition) String() string {
	parts := []string{string(c.Type)}
	if c.Operator != "" {
		parts = append(parts, c.Operator.Symbol())
	}
	if c.Value != "" {
		parts = append(parts, c.Value)
	}
	return strings.Join(parts, " ")
}

// New returns an empty scenario of the current schema variant.
func New(name string, now time.Time) *Scenario {
	return &Scenario{
		Name:      name,
		Version:   CurrentVersion,
		Type:      TypeIFTTTEnhanced,
		Created:   now.UTC(),
		Variables: map[string]string{},
	}
}

// NewStep returns a step running tool with an always condition and the default timeout.
func NewStep(tool string, args ...string) Step {
	return Step{
		Tool:      tool,
		Args:      args,
		Condition: Always(),
		Timeout:   DefaultTimeout,
		Variables: map[string]string{},
	}
}

// Normalize applies the serialization defaults in place: missing timeouts,
// operators for operator-bearing kinds, and nil maps.
func (s *Scenario) Normalize() {
	if s.Type == "" {
		s.Type = TypeIFTTTEnhanced
	}
	if s.Variables == nil {
		s.Variables = map[string]string{}
	}
	for i := range s.Steps {
		s.Steps[i].normalize()
	}
}

func (st *Step) normalize() {
	if st.Args == nil {
		st.Args = []string{}
	}
	if st.Variables == nil {
		st.Variables = map[string]string{}
	}
	if st.Timeout == 0 {
		st.Timeout = DefaultTimeout
	}
	if st.Condition.Type == "" {
		st.Condition.Type = KindAlways
	}
	st.Condition.normalize()
}

func (c *Condition) normalize() {
	if c.Type.NeedsOperator() {
		if c.Operator == "" {
			c.Operator = OpEquals
		}
	} else {
		c.Operator = ""
	}
	if !c.Type.NeedsValue() {
		c.Value = ""
	}
}

// Clone returns a deep copy.
func (s *Scenario) Clone() *Scenario {
	if s == nil {
		return nil
	}
	out := *s
	out.Variables = maps.Clone(s.Variables)
	out.Steps = make([]Step, len(s.Steps))
	for i, st := range s.Steps {
		st.Args = slices.Clone(st.Args)
		st.Variables = maps.Clone(st.Variables)
		out.Steps[i] = st
	}
	return &out
}

// Tools returns the distinct tools used, in first-use order.
func (s *Scenario) Tools() []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range s.Steps {
		if st.Tool != "" && !seen[st.Tool] {
			seen[st.Tool] = true
			out = append(out, st.Tool)
		}
	}
	return out
}

// Equal compares two scenarios field by field. Variables compare as
// unordered maps and steps as ordered sequences.
func Equal(a, b *Scenario) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Description != b.Description || a.Version != b.Version || a.Type != b.Type {
		return false
	}
	if !a.Created.Equal(b.Created) {
		return false
	}
	if !equalVars(a.Variables, b.Variables) {
		return false
	}
	if len(a.Steps) != len(b.Steps) {
		return false
	}
	for i := range a.Steps {
		if !StepEqual(a.Steps[i], b.Steps[i]) {
			return false
		}
	}
	return true
}

// StepEqual compares two steps including metadata.
func StepEqual(a, b Step) bool {
	return a.Tool == b.Tool &&
		slices.Equal(a.Args, b.Args) &&
		a.Condition == b.Condition &&
		a.Timeout == b.Timeout &&
		equalVars(a.Variables, b.Variables) &&
		a.Metadata.Index == b.Metadata.Index &&
		a.Metadata.Created.Equal(b.Metadata.Created)
}

func equalVars(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
