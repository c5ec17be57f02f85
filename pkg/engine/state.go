package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

var transitions = map[State][]State{
	StateIdle:    {StateRunning},
	StateRunning: {StateCompleted, StateFailed, StateStopped},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run tracks one execution. It is safe for concurrent use.
type Run struct {
	ID   string
	Name string

	mu      sync.Mutex
	state   State
	step    int
	started time.Time
	ended   time.Time
	result  *RunResult
	cancel  context.CancelFunc
	onDone  func()
	done    chan struct{}
}

// NewRun returns a run in the idle state.
func NewRun(id, name string) *Run {
	return &Run{ID: id, Name: name, state: StateIdle, step: -1, done: make(chan struct{})}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.state, to) {
		return fmt.Errorf("run %s: invalid transition %s → %s", r.ID, r.state, to)
	}
	r.state = to
	switch {
	case to == StateRunning:
		r.started = time.Now()
	case to.Terminal():
		r.ended = time.Now()
	}
	return nil
}

func (r *Run) setStep(i int) {
	r.mu.Lock()
	r.step = i
	r.mu.Unlock()
}

func (r *Run) finish(res *RunResult) {
	r.mu.Lock()
	r.result = res
	onDone := r.onDone
	r.mu.Unlock()
	if onDone != nil {
		onDone()
	}
	close(r.done)
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result is nil until Done is closed.
func (r *Run) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Status is a point-in-time view of a run.
type Status struct {
	ID       string    `json:"scenario_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	State    State     `json:"state"`
	Step     int       `json:"step_index"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
}

// Status returns a snapshot of the run.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{ID: r.ID, Name: r.Name, State: r.state, Step: r.step, Started: r.started, Finished: r.ended}
}
