package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/scenario"
)

var (
	// ErrBusy is returned when a run is already active.
	ErrBusy = errors.New("a scenario is already running")
	// ErrNotRunning is returned by Stop when nothing is running.
	ErrNotRunning = errors.New("no scenario is running")
	// ErrUnknownRun is returned by Stop for an ID that is not the active run.
	ErrUnknownRun = errors.New("unknown scenario id")
)

// Manager allows at most one active run at a time. Runs execute in the
// background and are stopped cooperatively.
type Manager struct {
	runner    *Runner
	wordlists nmap.Wordlists
	newID     func() string

	mu     sync.Mutex
	active *Run
	last   *Run
}

// NewManager returns a manager executing through runner.
func NewManager(runner *Runner, wl nmap.Wordlists) *Manager {
	return &Manager{runner: runner, wordlists: wl, newID: uuid.NewString}
}

// Runner returns the underlying runner.
func (m *Manager) Runner() *Runner { return m.runner }

// Start launches s and returns the run ID used for stop correlation.
func (m *Manager) Start(s *scenario.Scenario, overrides map[string]string) (string, error) {
	return m.launch(s.Name, func(ctx context.Context, run *Run) {
		m.runner.Execute(ctx, run, s, overrides)
	})
}

// StartScripts launches the dynamic scan sequence.
func (m *Manager) StartScripts(scripts []nmap.Script) (string, error) {
	return m.launch(SequenceName, func(ctx context.Context, run *Run) {
		m.runner.RunScripts(ctx, run, scripts, m.wordlists)
	})
}

func (m *Manager) launch(name string, fn func(context.Context, *Run)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return "", fmt.Errorf("%w: %s", ErrBusy, m.active.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := NewRun(m.newID(), name)
	run.cancel = cancel
	run.onDone = func() {
		m.mu.Lock()
		if m.active == run {
			m.active = nil
		}
		m.last = run
		m.mu.Unlock()
	}
	m.active = run

	go func() {
		defer cancel()
		fn(ctx, run)
	}()
	return run.ID, nil
}

// Stop requests cancellation of the active run. An empty id matches the
// active run. Stop does not wait for the run to halt; use Wait for that.
func (m *Manager) Stop(id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNotRunning
	}
	if id != "" && id != m.active.ID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	m.active.cancel()
	return m.active, nil
}

// Active returns the running run, or nil.
func (m *Manager) Active() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Lookup returns the active or last run with the given ID.
func (m *Manager) Lookup(id string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range []*Run{m.active, m.last} {
		if r != nil && r.ID == id {
			return r
		}
	}
	return nil
}

// Status describes the active run, or the last finished one, or idle.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.active != nil:
		return m.active.Status()
	case m.last != nil:
		return m.last.Status()
	}
	return Status{State: StateIdle, Step: -1}
}

// Wait blocks until run finishes or ctx is done.
func Wait(ctx context.Context, run *Run) (*RunResult, error) {
	select {
	case <-run.Done():
		return run.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
