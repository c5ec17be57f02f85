// Package validate implements the scenario validation pipeline:
// structural → semantic → domain. Findings are advisory; callers decide
// whether errors block an action.
package validate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// ValidateFile runs the full 3-phase pipeline on a scenario file.
func ValidateFile(path string) (*scenario.Scenario, []*ValidationError) {
	// Phase 1: Structural
	s, err := scenario.LoadFile(path)
	if err != nil {
		return nil, structuralErrors(err)
	}
	return s, ValidateScenario(s)
}

// ValidateBytes runs the pipeline on an in-memory document. Format is
// picked from name's extension; JSON when name is empty.
func ValidateBytes(name string, data []byte) (*scenario.Scenario, []*ValidationError) {
	var (
		s   *scenario.Scenario
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		s, err = scenario.LoadYAML(strings.NewReader(string(data)))
	default:
		s, err = scenario.Unmarshal(data)
	}
	if err != nil {
		return nil, structuralErrors(err)
	}
	return s, ValidateScenario(s)
}

// ValidateScenario runs phases 2+3 on an already-decoded scenario.
func ValidateScenario(s *scenario.Scenario) []*ValidationError {
	var errs []*ValidationError
	errs = append(errs, validateSemantic(s)...)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, Scenario(s)...)
}

func structuralErrors(err error) []*ValidationError {
	schemaErrs := scenario.SchemaErrors(err)
	if len(schemaErrs) == 0 {
		return []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	out := make([]*ValidationError, 0, len(schemaErrs))
	for _, se := range schemaErrs {
		out = append(out, errorf("structural", se.Path, "%s", se.Message))
	}
	return out
}

// validateSemantic checks the canonical serialization against the JSON Schema.
func validateSemantic(s *scenario.Scenario) []*ValidationError {
	data, err := json.Marshal(s)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "marshal for schema validation: %v", err)}
	}
	violations, err := scenario.ValidateDocument(data)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "%v", err)}
	}
	var errs []*ValidationError
	for _, v := range violations {
		errs = append(errs, errorf("semantic", v.Path, "%s", v.Message))
	}
	return errs
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Filter returns the findings with the given severity.
func Filter(errs []*ValidationError, severity string) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}
