// Package vars implements {name} placeholder substitution, regex
// extraction of variables from tool output, and the shared variable store.
package vars

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Substitute replaces every {name} whose name is bound in vars.
// Unbound placeholders are left literally.
// Example: Substitute("-h {target}", {"target": "10.0.0.5"}) → "-h 10.0.0.5"
func Substitute(s string, vars map[string]string) string {
	if len(vars) == 0 || !placeholderRe.MatchString(s) {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// SubstituteAll applies Substitute to each element, returning a new slice.
func SubstituteAll(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Substitute(a, vars)
	}
	return out
}

// Placeholders returns the distinct names referenced by s, in order of appearance.
func Placeholders(s string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// Unresolved returns the placeholders in s that vars does not bind.
func Unresolved(s string, vars map[string]string) []string {
	var out []string
	for _, name := range Placeholders(s) {
		if _, ok := vars[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Defaults returns the built-in scenario variables: timestamp (RFC 3339,
// UTC), date (UTC), time (local clock) and a short random token.
// A nil rng uses the global source.
func Defaults(now time.Time, rng *rand.Rand) map[string]string {
	var n uint64
	if rng != nil {
		n = rng.Uint64()
	} else {
		n = rand.Uint64()
	}
	token := strconv.FormatUint(n, 36)
	if len(token) > 6 {
		token = token[:6]
	}
	utc := now.UTC()
	return map[string]string{
		"timestamp": utc.Format("2006-01-02T15:04:05.000Z07:00"),
		"date":      utc.Format("2006-01-02"),
		"time":      now.Format("15:04:05"),
		"random":    token,
	}
}

// Extract applies each named pattern to output. The first capture group is
// bound, or the whole match when the pattern has no group. Patterns that do
// not match bind nothing. Invalid patterns are reported together; valid ones
// are still applied.
func Extract(patterns map[string]string, output string) (map[string]string, error) {
	out := make(map[string]string)
	var errs *multierror.Error
	for _, name := range slices.Sorted(maps.Keys(patterns)) {
		re, err := regexp.Compile(patterns[name])
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("variable %q: %w", name, err))
			continue
		}
		m := re.FindStringSubmatch(output)
		switch {
		case m == nil:
		case len(m) > 1:
			out[name] = m[1]
		default:
			out[name] = m[0]
		}
	}
	return out, errs.ErrorOrNil()
}

// Store is a concurrency-safe variable map shared by the steps of a run.
type Store struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewStore returns a store seeded with a copy of initial.
func NewStore(initial map[string]string) *Store {
	s := &Store{vars: make(map[string]string, len(initial))}
	maps.Copy(s.vars, initial)
	return s
}

// Get returns the binding for name.
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Set binds name to value.
func (s *Store) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// Merge overwrites existing bindings with update (last writer wins) and
// returns the names whose value changed, sorted.
func (s *Store) Merge(update map[string]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for k, v := range update {
		if old, ok := s.vars[k]; !ok || old != v {
			changed = append(changed, k)
		}
		s.vars[k] = v
	}
	slices.Sort(changed)
	return changed
}

// Snapshot returns a copy of the current bindings.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.vars)
}

// Delete removes name.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
}

// Clear removes every binding.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.vars)
}

// Len returns the number of bindings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// Names returns the bound names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.vars))
}
