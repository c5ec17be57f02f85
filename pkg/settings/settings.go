// Package settings persists the dashboard settings document.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"dario.cat/mergo"
)

// Settings is the document behind GET/POST /api/settings. Numeric fields
// keep the string form the dashboard submits.
type Settings struct {
	AutoDetectNetwork *bool  `json:"autoDetectNetwork,omitempty"`
	NetworkInterface  string `json:"networkInterface,omitempty"`
	CustomCIDR        string `json:"customCIDR,omitempty"`
	NmapScanType      string `json:"nmapScanType,omitempty"`
	DefaultScanPorts  string `json:"defaultScanPorts,omitempty"`
	MasscanRate       string `json:"masscanRate,omitempty"`
	ThreadCount       string `json:"threadCount,omitempty"`
	LogVerbosity      string `json:"logVerbosity,omitempty"`
	AutoUpdate        *bool  `json:"autoUpdate,omitempty"`
	ScanTimeout       string `json:"scanTimeout,omitempty"`
}

// Defaults mirrors the values the dashboard shows for unset fields.
func Defaults() Settings {
	yes, no := true, false
	return Settings{
		AutoDetectNetwork: &yes,
		NetworkInterface:  "auto",
		NmapScanType:      "intense",
		DefaultScanPorts:  "1-1000",
		MasscanRate:       "1000",
		ThreadCount:       "10",
		LogVerbosity:      "info",
		AutoUpdate:        &no,
		ScanTimeout:       "30",
	}
}

var verbosities = map[string]bool{"debug": true, "info": true, "warning": true, "warn": true, "error": true}

// Validate checks the fields that are set.
func (s Settings) Validate() error {
	var errs []error
	if s.CustomCIDR != "" {
		if _, err := netip.ParsePrefix(s.CustomCIDR); err != nil {
			errs = append(errs, fmt.Errorf("customCIDR: %w", err))
		}
	}
	for name, v := range map[string]string{"masscanRate": s.MasscanRate, "threadCount": s.ThreadCount, "scanTimeout": s.ScanTimeout} {
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be a positive integer, got %q", name, v))
		}
	}
	if s.LogVerbosity != "" && !verbosities[s.LogVerbosity] {
		errs = append(errs, fmt.Errorf("logVerbosity: unknown level %q", s.LogVerbosity))
	}
	return errors.Join(errs...)
}

// File is a settings document stored as JSON.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns the settings file at path. The file need not exist.
func Open(path string) *File {
	return &File{path: path}
}

// Load returns the stored settings over the defaults.
func (f *File) Load() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) load() (Settings, error) {
	out := Defaults()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read settings: %w", err)
	}
	var stored Settings
	if err := json.Unmarshal(data, &stored); err != nil {
		return out, fmt.Errorf("parse settings: %w", err)
	}
	if err := mergo.Merge(&out, stored, mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return out, fmt.Errorf("merge settings: %w", err)
	}
	return out, nil
}

// Update merges the set fields of patch into the stored document and
// returns the result.
func (f *File) Update(patch Settings) (Settings, error) {
	if err := patch.Validate(); err != nil {
		return Settings{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, err := f.load()
	if err != nil {
		return Settings{}, err
	}
	if err := mergo.Merge(&cur, patch, mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return Settings{}, fmt.Errorf("merge settings: %w", err)
	}

	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return Settings{}, fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return Settings{}, fmt.Errorf("write settings: %w", err)
	}
	return cur, nil
}
