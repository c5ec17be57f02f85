// Package examples ships the bundled example scenarios.
package examples

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/octapusprime/octapus/pkg/scenario"
)

//go:embed data/*.json
var data embed.FS

// IDs lists the bundled examples in display order.
var IDs = []string{
	"web-app-scan",
	"network-recon",
	"wordpress-scan",
	"cloud-assessment",
	"api-security-test",
	"mobile-app-scan",
}

// ErrUnknown is returned by Get for an ID that is not bundled.
var ErrUnknown = errors.New("unknown example")

// Example is a bundled scenario with its listing ID.
type Example struct {
	ID       string             `json:"id"`
	Scenario *scenario.Scenario `json:"scenario"`
}

// List returns every example, named with the example prefix.
func List() ([]Example, error) {
	out := make([]Example, 0, len(IDs))
	for _, id := range IDs {
		s, err := Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Example{ID: id, Scenario: s})
	}
	return out, nil
}

// Get returns a fresh copy of one example, named with the example prefix.
func Get(id string) (*scenario.Scenario, error) {
	raw, err := Raw(id)
	if err != nil {
		return nil, err
	}
	s, err := scenario.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("example %s: %w", id, err)
	}
	s.Name = scenario.ExamplePrefix + s.Name
	return s, nil
}

// Raw returns the embedded document of one example as stored.
func Raw(id string) ([]byte, error) {
	raw, err := data.ReadFile("data/" + id + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return raw, nil
}

// StripPrefix removes the example prefix from a scenario name.
func StripPrefix(name string) string {
	return strings.TrimPrefix(name, scenario.ExamplePrefix)
}

// IsExample reports whether name carries the example prefix.
func IsExample(name string) bool {
	return strings.HasPrefix(name, scenario.ExamplePrefix)
}
