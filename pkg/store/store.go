// Package store persists named scenarios as JSON files.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/octapusprime/octapus/pkg/scenario"
)

var (
	// ErrNotFound is returned when no scenario has the requested name.
	ErrNotFound = errors.New("scenario not found")
	// ErrInvalidName is returned when a name sanitizes to nothing.
	ErrInvalidName = errors.New("scenario name required")
)

// Sanitize keeps letters, digits, '-' and '_'.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Store keeps one file per scenario in Dir.
type Store struct {
	Dir string
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	clean := Sanitize(name)
	if clean == "" {
		return "", ErrInvalidName
	}
	return filepath.Join(s.Dir, clean+".json"), nil
}

// Save writes sc under its sanitized name and returns that name.
func (s *Store) Save(sc *scenario.Scenario) (string, error) {
	path, err := s.path(sc.Name)
	if err != nil {
		return "", err
	}
	data, err := scenario.MarshalIndent(sc)
	if err != nil {
		return "", fmt.Errorf("encode scenario: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write scenario: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write scenario: %w", err)
	}
	return Sanitize(sc.Name), nil
}

// Load reads a scenario. Legacy `{name, scripts}` documents are upgraded.
func (s *Store) Load(name string) (*scenario.Scenario, error) {
	data, err := s.Raw(name)
	if err != nil {
		return nil, err
	}
	sc, err := scenario.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return sc, nil
}

// Raw returns the stored document unparsed.
func (s *Store) Raw(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return data, nil
}

// List returns the stored names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes a stored scenario.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete scenario: %w", err)
	}
	return nil
}
