package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaID = "https://github.com/octapusprime/octapus/schemas/scenario-v2.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Scenario struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Scenario{})
	s.ID = schemaID
	s.Title = "Octapus Scenario v2.0"
	s.Description = "Schema for ifttt-enhanced scenario documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// JSONSchema restricts condition types to the known kinds.
func (Kind) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, len(kindTable))
	for _, k := range kindTable {
		enum = append(enum, string(k.Kind))
	}
	return &jsonschema.Schema{Type: "string", Enum: enum}
}

// JSONSchema restricts operators to the known set, or null.
func (Operator) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, len(operatorSymbols))
	for _, op := range Operators() {
		enum = append(enum, string(op))
	}
	return &jsonschema.Schema{OneOf: []*jsonschema.Schema{
		{Type: "string", Enum: enum},
		{Type: "null"},
	}}
}

// JSONSchemaExtend lets value be null, as written for empty values.
func (Condition) JSONSchemaExtend(s *jsonschema.Schema) {
	s.Properties.Set("value", &jsonschema.Schema{OneOf: []*jsonschema.Schema{
		{Type: "string"},
		{Type: "null"},
	}})
}

// ValidateDocument checks a JSON scenario document against the generated
// schema. Each violation is reported as a *SchemaError at its instance path.
func ValidateDocument(data []byte) ([]*SchemaError, error) {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return []*SchemaError{{Message: fmt.Sprintf("malformed document: %v", err)}}, nil
	}
	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []*SchemaError{{Message: err.Error()}}, nil
		}
		var out []*SchemaError
		for _, cause := range leafErrors(ve) {
			out = append(out, &SchemaError{
				Path:    strings.Join(cause.InstanceLocation, "/"),
				Message: fmt.Sprintf("%v", cause.ErrorKind),
			})
		}
		return out, nil
	}
	return nil, nil
}

func leafErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		flat = append(flat, leafErrors(c)...)
	}
	return flat
}
