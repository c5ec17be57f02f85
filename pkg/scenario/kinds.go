package scenario

import "fmt"

// Kind is the tag selecting which predicate decides whether a step runs.
type Kind string

const (
	KindAlways Kind = "always"
	KindNever  Kind = "never"

	KindPrevSuccess     Kind = "prev_success"
	KindPrevFail        Kind = "prev_fail"
	KindPrevContains    Kind = "prev_contains"
	KindPrevNotContains Kind = "prev_not_contains"
	KindPrevRegex       Kind = "prev_regex"
	KindPrevExitCode    Kind = "prev_exit_code"

	KindOutputContains    Kind = "output_contains"
	KindOutputNotContains Kind = "output_not_contains"
	KindOutputRegex       Kind = "output_regex"
	KindOutputLineCount   Kind = "output_line_count"
	KindOutputSize        Kind = "output_size"

	KindFileExists    Kind = "file_exists"
	KindFileNotExists Kind = "file_not_exists"
	KindFileContains  Kind = "file_contains"
	KindFileRegex     Kind = "file_regex"
	KindFileSize      Kind = "file_size"
	KindDirExists     Kind = "dir_exists"

	KindVarSet      Kind = "var_set"
	KindVarEquals   Kind = "var_equals"
	KindVarContains Kind = "var_contains"
	KindVarRegex    Kind = "var_regex"

	KindPortOpen        Kind = "port_open"
	KindPortClosed      Kind = "port_closed"
	KindHostUp          Kind = "host_up"
	KindHostDown        Kind = "host_down"
	KindServiceDetected Kind = "service_detected"

	KindTimeAfter     Kind = "time_after"
	KindTimeBefore    Kind = "time_before"
	KindExecutionTime Kind = "execution_time"

	KindStepResult     Kind = "step_result"
	KindCountCondition Kind = "count_condition"
	KindCustomScript   Kind = "custom_script"
)

// Category groups condition kinds for display.
type Category string

const (
	CategoryBasic      Category = "basic"
	CategoryPrevious   Category = "previous"
	CategoryOutput     Category = "output"
	CategoryFilesystem Category = "filesystem"
	CategoryVariables  Category = "variables"
	CategoryNetwork    Category = "network"
	CategoryTime       Category = "time"
	CategoryAdvanced   Category = "advanced"
)

// KindSpec describes what a condition kind requires.
type KindSpec struct {
	Kind          Kind     `json:"kind"`
	Label         string   `json:"label"`
	Category      Category `json:"category"`
	NeedsValue    bool     `json:"needs_value"`
	NeedsOperator bool     `json:"needs_operator"`
	Placeholder   string   `json:"placeholder,omitempty"`
}

var kindTable = []KindSpec{
	{KindAlways, "Always Execute", CategoryBasic, false, false, ""},
	{KindNever, "Never Execute (Skip)", CategoryBasic, false, false, ""},

	{KindPrevSuccess, "If Previous Step Succeeded", CategoryPrevious, false, false, ""},
	{KindPrevFail, "If Previous Step Failed", CategoryPrevious, false, false, ""},
	{KindPrevContains, "If Previous Output Contains", CategoryPrevious, true, false, "Text to search for in previous output"},
	{KindPrevNotContains, "If Previous Output Does NOT Contain", CategoryPrevious, true, false, "Text that must be absent from previous output"},
	{KindPrevRegex, "If Previous Output Matches Regex", CategoryPrevious, true, false, `Regular expression pattern (e.g., \d+\.\d+\.\d+\.\d+)`},
	{KindPrevExitCode, "If Previous Exit Code Equals", CategoryPrevious, true, false, "Exit code number (e.g., 0)"},

	{KindOutputContains, "If ANY Previous Output Contains", CategoryOutput, true, false, "Text to search for in any output"},
	{KindOutputNotContains, "If NO Previous Output Contains", CategoryOutput, true, false, "Text that no output may contain"},
	{KindOutputRegex, "If ANY Previous Output Matches Regex", CategoryOutput, true, false, "Regex pattern to match in outputs"},
	{KindOutputLineCount, "If Previous Output Line Count", CategoryOutput, true, true, "Number of lines (e.g., >50)"},
	{KindOutputSize, "If Previous Output Size (bytes)", CategoryOutput, true, true, "Size in bytes (e.g., >1024)"},

	{KindFileExists, "If File Exists", CategoryFilesystem, true, false, "File path (e.g., /tmp/results.txt)"},
	{KindFileNotExists, "If File Does NOT Exist", CategoryFilesystem, true, false, "File path (e.g., /tmp/results.txt)"},
	{KindFileContains, "If File Contains Text", CategoryFilesystem, true, false, "File path and search text (e.g., /tmp/file.txt:error)"},
	{KindFileRegex, "If File Matches Regex", CategoryFilesystem, true, false, `File path and regex (e.g., /tmp/file.txt:\d{1,3}\.\d{1,3})`},
	{KindFileSize, "If File Size", CategoryFilesystem, true, true, "File path and size (e.g., /tmp/file.txt:>1024)"},
	{KindDirExists, "If Directory Exists", CategoryFilesystem, true, false, "Directory path (e.g., /tmp/loot)"},

	{KindVarSet, "If Variable Is Set", CategoryVariables, true, false, "Variable name (e.g., target_ip)"},
	{KindVarEquals, "If Variable Equals", CategoryVariables, true, true, "Variable name and value (e.g., status:success)"},
	{KindVarContains, "If Variable Contains", CategoryVariables, true, true, "Variable name and text (e.g., banner:OpenSSH)"},
	{KindVarRegex, "If Variable Matches Regex", CategoryVariables, true, false, `Variable name and regex (e.g., ip_addr:\d+\.\d+\.\d+\.\d+)`},

	{KindPortOpen, "If Port Is Open", CategoryNetwork, true, false, "Host:port (e.g., 192.168.1.1:80)"},
	{KindPortClosed, "If Port Is Closed", CategoryNetwork, true, false, "Host:port (e.g., 192.168.1.1:80)"},
	{KindHostUp, "If Host Is Up", CategoryNetwork, true, false, "Host or IP (e.g., 192.168.1.1)"},
	{KindHostDown, "If Host Is Down", CategoryNetwork, true, false, "Host or IP (e.g., 192.168.1.1)"},
	{KindServiceDetected, "If Service Detected", CategoryNetwork, true, false, "Service name (e.g., ssh, http, mysql)"},

	{KindTimeAfter, "If Current Time After", CategoryTime, true, false, "Time in HH:MM format (e.g., 14:30)"},
	{KindTimeBefore, "If Current Time Before", CategoryTime, true, false, "Time in HH:MM format (e.g., 18:00)"},
	{KindExecutionTime, "If Previous Step Took Longer Than", CategoryTime, true, true, "Seconds (e.g., >30)"},

	{KindStepResult, "If Specific Step Result", CategoryAdvanced, true, false, "Step number:expected_result (e.g., 1:success)"},
	{KindCountCondition, "If Count of Matches", CategoryAdvanced, true, true, `Pattern and count (e.g., "open port":>5)`},
	{KindCustomScript, "If Custom Script Returns True", CategoryAdvanced, true, false, "Expression (e.g., prev_exit_code == 0 && len(vars) > 2)"},
}

var kindIndex = func() map[Kind]KindSpec {
	m := make(map[Kind]KindSpec, len(kindTable))
	for _, k := range kindTable {
		m[k.Kind] = k
	}
	return m
}()

// Kinds returns every known condition kind in display order.
func Kinds() []KindSpec {
	out := make([]KindSpec, len(kindTable))
	copy(out, kindTable)
	return out
}

// Spec returns the descriptor for k.
func (k Kind) Spec() (KindSpec, bool) {
	s, ok := kindIndex[k]
	return s, ok
}

// Known reports whether k is a recognized condition kind.
func (k Kind) Known() bool {
	_, ok := kindIndex[k]
	return ok
}

// NeedsValue reports whether conditions of this kind carry a value.
func (k Kind) NeedsValue() bool {
	return kindIndex[k].NeedsValue
}

// NeedsOperator reports whether conditions of this kind carry an operator.
func (k Kind) NeedsOperator() bool {
	return kindIndex[k].NeedsOperator
}

// IsRegex reports whether the whole value (or its trailing part) is a regular expression.
func (k Kind) IsRegex() bool {
	switch k {
	case KindPrevRegex, KindOutputRegex, KindFileRegex, KindVarRegex:
		return true
	}
	return false
}

// ParseKind converts a tag into a Kind, rejecting unknown tags.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Known() {
		return "", fmt.Errorf("unknown condition type %q", s)
	}
	return k, nil
}

// Operator is the comparison used by operator-bearing kinds.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreater      Operator = "greater"
	OpGreaterEqual Operator = "greater_equal"
	OpLess         Operator = "less"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpRegex        Operator = "regex"
	OpNotRegex     Operator = "not_regex"
)

var operatorSymbols = map[Operator]string{
	OpEquals:       "=",
	OpNotEquals:    "!=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpContains:     "contains",
	OpNotContains:  "does not contain",
	OpStartsWith:   "starts with",
	OpEndsWith:     "ends with",
	OpRegex:        "matches regex",
	OpNotRegex:     "does not match regex",
}

// Operators returns all operators in display order.
func Operators() []Operator {
	return []Operator{
		OpEquals, OpNotEquals, OpGreater, OpGreaterEqual, OpLess, OpLessEqual,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex, OpNotRegex,
	}
}

// Known reports whether op is a recognized operator.
func (op Operator) Known() bool {
	_, ok := operatorSymbols[op]
	return ok
}

// Symbol is the short display form of op.
func (op Operator) Symbol() string {
	return operatorSymbols[op]
}

// Numeric reports whether op compares numbers.
func (op Operator) Numeric() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	}
	return false
}
