package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// CacheFile is the file name of the local scenario cache.
const CacheFile = "octapus_scenarios.json"

// Cache mirrors scenarios locally while the server is unreachable. The
// file holds one JSON object mapping scenario name to document.
type Cache struct {
	path string
	mu   sync.Mutex
}

// NewCache returns the cache file inside dir.
func NewCache(dir string) *Cache {
	return &Cache{path: filepath.Join(dir, CacheFile)}
}

// Path returns the file location.
func (c *Cache) Path() string { return c.path }

func (c *Cache) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	out := map[string]json.RawMessage{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", c.path, err)
	}
	return out, nil
}

// Put stores sc under its name, replacing any previous entry.
func (c *Cache) Put(sc *scenario.Scenario) error {
	doc, err := scenario.Marshal(sc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.read()
	if err != nil {
		return err
	}
	entries[sc.Name] = doc
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Get returns the cached scenario called name.
func (c *Cache) Get(name string) (*scenario.Scenario, error) {
	c.mu.Lock()
	entries, err := c.read()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	doc, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, name)
	}
	return scenario.Unmarshal(doc)
}

// Names lists the cached scenario names in sorted order.
func (c *Cache) Names() ([]string, error) {
	c.mu.Lock()
	entries, err := c.read()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
