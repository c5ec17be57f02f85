// Package config loads the octapus configuration: a YAML file, then
// OCTAPUS_* environment variables, then command-line flags.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/octapusprime/octapus/pkg/executor"
	"github.com/octapusprime/octapus/pkg/nmap"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OCTAPUS_"

// Config is the process configuration.
type Config struct {
	Listen       string                  `yaml:"listen"`
	DataDir      string                  `yaml:"data_dir"`
	LogLevel     string                  `yaml:"log_level"`
	StepTimeout  time.Duration           `yaml:"step_timeout"`
	PollInterval time.Duration           `yaml:"poll_interval"`
	Server       string                  `yaml:"server"`
	Tools        ToolConfig              `yaml:"tools"`
	Wordlists    nmap.Wordlists          `yaml:"wordlists"`
	Redact       []executor.RedactionRule `yaml:"redact"`
}

// ToolConfig governs which executables scenarios may run.
type ToolConfig struct {
	Allow []string          `yaml:"allow"`
	Deny  []string          `yaml:"deny"`
	Paths map[string]string `yaml:"paths"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:       "0.0.0.0:8080",
		DataDir:      defaultDataDir(),
		LogLevel:     "info",
		StepTimeout:  executor.DefaultTimeout,
		PollInterval: 2 * time.Second,
		Server:       "http://127.0.0.1:8080",
		Wordlists:    nmap.DefaultWordlists,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "octapus")
	}
	return ".octapus"
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "octapus", "config.yaml")
	}
	return "octapus.yaml"
}

// Load reads path over the defaults and applies environment overrides. A
// missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from OCTAPUS_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	if v, ok := get("LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := get("DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("SERVER"); ok {
		c.Server = v
	}
	if v, ok := get("STEP_TIMEOUT"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%sSTEP_TIMEOUT: %w", EnvPrefix, err)
		}
		c.StepTimeout = d
	}
	if v, ok := get("POLL_INTERVAL"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.PollInterval = d
	}
	if v, ok := get("ALLOWED_TOOLS"); ok {
		c.Tools.Allow = splitList(v)
	}
	if v, ok := get("DENIED_TOOLS"); ok {
		c.Tools.Deny = splitList(v)
	}
	return nil
}

// parseSeconds accepts a Go duration or a bare number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.StepTimeout <= 0 {
		errs = append(errs, errors.New("step_timeout must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	return errors.Join(errs...)
}

// Policy builds the executor policy from the tool and redaction settings.
func (c *Config) Policy() (*executor.Policy, error) {
	return executor.NewPolicy(c.Tools.Allow, c.Tools.Deny, c.Redact)
}

// ScenarioDir holds saved scenarios.
func (c *Config) ScenarioDir() string { return filepath.Join(c.DataDir, "scenarios") }

// LogDir holds the process and tool logs.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// TraceDir holds the per-run JSONL audit files.
func (c *Config) TraceDir() string { return filepath.Join(c.DataDir, "runs") }

// SettingsPath is the dashboard settings document.
func (c *Config) SettingsPath() string { return filepath.Join(c.DataDir, "settings.json") }

// CacheDir holds the client's local fallback cache.
func (c *Config) CacheDir() string { return filepath.Join(c.DataDir, "cache") }

// LoadDotEnv reads KEY=VALUE lines from path and sets variables that are not
// already set. Blank lines and # comments are skipped; values may be quoted.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
	return scanner.Err()
}
