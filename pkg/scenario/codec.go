package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// SchemaError reports a document that cannot be read as a scenario.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("schema: %s: %s", e.Path, e.Message)
	}
	return "schema: " + e.Message
}

func schemaErrorf(path, msg string, args ...any) *SchemaError {
	return &SchemaError{Path: path, Message: fmt.Sprintf(msg, args...)}
}

// Wire forms. Pointers and raw messages distinguish absent from empty.

type wireScenario struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Type        string            `json:"type,omitempty"`
	Created     *time.Time        `json:"created,omitempty"`
	Variables   map[string]string `json:"variables"`
	Steps       json.RawMessage   `json:"steps,omitempty"`
	Scripts     json.RawMessage   `json:"scripts,omitempty"` // legacy {name, scripts} documents
}

type wireStep struct {
	Tool      string            `json:"tool"`
	Args      json.RawMessage   `json:"args"`
	Condition *wireCondition    `json:"condition,omitempty"`
	Timeout   *int              `json:"timeout,omitempty"`
	Variables map[string]string `json:"variables"`
	Metadata  *wireMeta         `json:"metadata,omitempty"`
}

type wireCondition struct {
	Type     string          `json:"type"`
	Operator *string         `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

type wireMeta struct {
	Created *time.Time `json:"created,omitempty"`
	Index   int        `json:"index"`
}

// Marshal serializes a scenario into its canonical JSON object.
func Marshal(s *Scenario) ([]byte, error) {
	return json.Marshal(s)
}

// MarshalIndent is Marshal with indentation, used for files on disk.
func MarshalIndent(s *Scenario) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// MarshalJSON implements json.Marshaler with the canonical field set.
func (s Scenario) MarshalJSON() ([]byte, error) {
	typ := s.Type
	if typ == "" {
		typ = TypeIFTTTEnhanced
	}
	vars := s.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	steps := s.Steps
	if steps == nil {
		steps = []Step{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireScenario{
		Name:        s.Name,
		Description: s.Description,
		Version:     s.Version,
		Type:        typ,
		Created:     timePtr(s.Created),
		Variables:   vars,
		Steps:       stepsJSON,
	})
}

// MarshalJSON implements json.Marshaler. Args are always an array.
func (st Step) MarshalJSON() ([]byte, error) {
	args := st.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	vars := st.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	cond := st.Condition
	if cond.Type == "" {
		cond.Type = KindAlways
	}
	timeout := st.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	wc, err := cond.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireStep{
		Tool:      st.Tool,
		Args:      argsJSON,
		Condition: wc,
		Timeout:   &timeout,
		Variables: vars,
		Metadata:  &wireMeta{Created: timePtr(st.Metadata.Created), Index: st.Metadata.Index},
	})
}

// MarshalJSON implements json.Marshaler. Operator is null for kinds that
// take no operator and value is null when empty.
func (c Condition) MarshalJSON() ([]byte, error) {
	wc, err := c.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wc)
}

func (c Condition) wire() (*wireCondition, error) {
	wc := &wireCondition{Type: string(c.Type), Value: json.RawMessage("null")}
	if c.Type.NeedsOperator() {
		op := c.Operator
		if op == "" {
			op = OpEquals
		}
		s := string(op)
		wc.Operator = &s
	}
	if c.Value != "" {
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		wc.Value = v
	}
	return wc, nil
}

// Unmarshal parses a scenario document. All problems found are returned
// together; each is a *SchemaError.
func Unmarshal(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UnmarshalJSON implements json.Unmarshaler with schema checks.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	var w wireScenario
	if err := json.Unmarshal(data, &w); err != nil {
		return schemaErrorf("", "malformed scenario: %v", err)
	}

	var errs *multierror.Error
	if w.Type != "" && w.Type != TypeIFTTTEnhanced {
		errs = multierror.Append(errs, schemaErrorf("type", "unknown schema variant %q", w.Type))
	}

	out := Scenario{
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		Type:        TypeIFTTTEnhanced,
		Variables:   w.Variables,
	}
	if w.Created != nil {
		out.Created = *w.Created
	}
	if out.Variables == nil {
		out.Variables = map[string]string{}
	}

	raw := w.Steps
	legacy := false
	if isAbsent(raw) && !isAbsent(w.Scripts) {
		raw = w.Scripts
		legacy = true
	}
	if !isArray(raw) {
		errs = multierror.Append(errs, schemaErrorf("steps", "steps must be an array"))
		return flatten(errs)
	}

	var rawSteps []json.RawMessage
	if err := json.Unmarshal(raw, &rawSteps); err != nil {
		errs = multierror.Append(errs, schemaErrorf("steps", "%v", err))
		return flatten(errs)
	}
	out.Steps = make([]Step, 0, len(rawSteps))
	for i, rs := range rawSteps {
		st, stepErrs := decodeStep(rs, fmt.Sprintf("steps[%d]", i))
		for _, e := range stepErrs {
			errs = multierror.Append(errs, e)
		}
		if legacy {
			st.Metadata.Index = i
		}
		out.Steps = append(out.Steps, st)
	}

	if err := flatten(errs); err != nil {
		return err
	}
	*s = out
	return nil
}

func decodeStep(data json.RawMessage, path string) (Step, []error) {
	var errs []error
	var w wireStep
	if err := json.Unmarshal(data, &w); err != nil {
		return Step{}, []error{schemaErrorf(path, "malformed step: %v", err)}
	}

	st := Step{
		Tool:      w.Tool,
		Timeout:   DefaultTimeout,
		Variables: w.Variables,
	}
	if st.Tool == "" {
		errs = append(errs, schemaErrorf(path+".tool", "tool is required"))
	}
	if st.Variables == nil {
		st.Variables = map[string]string{}
	}

	args, err := decodeArgs(w.Args)
	if err != nil {
		errs = append(errs, schemaErrorf(path+".args", "%v", err))
	}
	st.Args = args

	if w.Timeout != nil {
		switch {
		case *w.Timeout < 0:
			errs = append(errs, schemaErrorf(path+".timeout", "timeout must be positive, got %d", *w.Timeout))
		case *w.Timeout > 0:
			st.Timeout = *w.Timeout
		}
	}

	if w.Condition == nil {
		st.Condition = Always()
	} else {
		c, err := decodeCondition(w.Condition, path+".condition")
		if err != nil {
			errs = append(errs, err)
		}
		st.Condition = c
	}

	if w.Metadata != nil {
		st.Metadata.Index = w.Metadata.Index
		if w.Metadata.Created != nil {
			st.Metadata.Created = *w.Metadata.Created
		}
	}
	return st, errs
}

func decodeCondition(w *wireCondition, path string) (Condition, error) {
	if w.Type == "" {
		return Always(), nil
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return Condition{Type: Kind(w.Type)}, schemaErrorf(path+".type", "%v", err)
	}

	c := Condition{Type: kind}
	value, err := decodeValue(w.Value)
	if err != nil {
		return c, schemaErrorf(path+".value", "%v", err)
	}
	c.Value = value

	if kind.NeedsOperator() {
		c.Operator = OpEquals
		if w.Operator != nil && *w.Operator != "" {
			op := Operator(*w.Operator)
			if !op.Known() {
				return c, schemaErrorf(path+".operator", "unknown operator %q", *w.Operator)
			}
			c.Operator = op
		}
	}

	if kind.NeedsValue() && c.Value == "" {
		return c, schemaErrorf(path+".value", "condition %q requires a value", kind)
	}
	if !kind.NeedsValue() {
		c.Value = ""
	}
	return c, nil
}

// decodeValue accepts a JSON string, number or boolean; null means empty.
func decodeValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("value must be a string or number")
		}
		return n.String(), nil
	}
}

// decodeArgs accepts an array of strings or a single string, which is
// split with SplitArgs.
func decodeArgs(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return []string{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return []string{}, err
		}
		return SplitArgs(s)
	}
	var args []string
	if err := json.Unmarshal(raw, &args); err != nil {
		return []string{}, fmt.Errorf("args must be an array of strings")
	}
	if args == nil {
		args = []string{}
	}
	return args, nil
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// flatten returns nil, the single error, or the aggregate.
func flatten(errs *multierror.Error) error {
	if errs == nil || len(errs.Errors) == 0 {
		return nil
	}
	if len(errs.Errors) == 1 {
		return errs.Errors[0]
	}
	errs.ErrorFormat = func(es []error) string {
		var b bytes.Buffer
		fmt.Fprintf(&b, "%d schema errors:", len(es))
		for _, e := range es {
			b.WriteString("\n  * ")
			b.WriteString(e.Error())
		}
		return b.String()
	}
	return errs
}

// SchemaErrors returns every *SchemaError contained in err.
func SchemaErrors(err error) []*SchemaError {
	var out []*SchemaError
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			out = append(out, SchemaErrors(e)...)
		}
		return out
	}
	var se *SchemaError
	if errors.As(err, &se) {
		out = append(out, se)
	}
	return out
}
