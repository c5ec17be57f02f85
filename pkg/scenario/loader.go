package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a scenario from a .json, .yaml or .yml file.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read scenario: %w", err)
		}
		return Unmarshal(data)
	}
}

var (
	scenarioKeys  = keySet("name", "description", "version", "type", "created", "variables", "steps", "scripts")
	stepKeys      = keySet("tool", "args", "condition", "timeout", "variables", "metadata")
	conditionKeys = keySet("type", "operator", "value")
)

// LoadYAML reads a YAML scenario. Unlike JSON documents, which the
// dashboard may decorate with extra fields, YAML files reject unknown keys.
func LoadYAML(r io.Reader) (*Scenario, error) {
	var doc map[string]any
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	if err := checkKeys(doc); err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return Unmarshal(data)
}

func checkKeys(doc map[string]any) error {
	if err := unknownKeys(doc, scenarioKeys, ""); err != nil {
		return err
	}
	for _, field := range []string{"steps", "scripts"} {
		steps, _ := doc[field].([]any)
		for i, raw := range steps {
			step, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			path := fmt.Sprintf("%s[%d]", field, i)
			if err := unknownKeys(step, stepKeys, path); err != nil {
				return err
			}
			if cond, ok := step["condition"].(map[string]any); ok {
				if err := unknownKeys(cond, conditionKeys, path+".condition"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func unknownKeys(m map[string]any, known map[string]bool, path string) error {
	var bad []string
	for k := range m {
		if !known[k] {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return schemaErrorf(path, "unknown field(s) %s", strings.Join(bad, ", "))
}

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
