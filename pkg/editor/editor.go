// Package editor holds the scenario being composed and drives it through
// submission and execution. All application state lives on one Editor
// value; front-ends read it through accessors and change it only through
// its methods.
package editor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/trace"
	"github.com/octapusprime/octapus/pkg/validate"
	"github.com/octapusprime/octapus/pkg/vars"
)

// Phase is where the editor is in its lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseBuilding   Phase = "building"
	PhaseSubmitting Phase = "submitting"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseBuilding},
	PhaseBuilding:   {PhaseIdle, PhaseSubmitting},
	PhaseSubmitting: {PhaseBuilding, PhaseRunning, PhaseError},
	PhaseRunning:    {PhaseIdle, PhaseCompleted, PhaseError},
	PhaseCompleted:  {PhaseIdle, PhaseBuilding, PhaseSubmitting},
	PhaseError:      {PhaseIdle, PhaseBuilding, PhaseSubmitting},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Phase) bool {
	return slices.Contains(phaseTransitions[from], to)
}

var (
	// ErrBusy is returned for edits while a submission or run is in flight.
	ErrBusy = errors.New("scenario is being submitted or run")
	// ErrNameRequired blocks saving an unnamed scenario.
	ErrNameRequired = errors.New("scenario name required")
	// ErrNoSteps blocks saving or running an empty scenario.
	ErrNoSteps = errors.New("scenario has no steps")
	// ErrInvalid blocks submitting a scenario with validation errors.
	ErrInvalid = errors.New("scenario has validation errors")
	// ErrNotRunning is returned by Stop outside the running phase.
	ErrNotRunning = errors.New("no scenario is running")
	// ErrNoBackend is returned for server operations of a detached editor.
	ErrNoBackend = errors.New("no server configured")
)

// Backend persists and executes scenarios. *client.Client satisfies it.
type Backend interface {
	SaveScenario(ctx context.Context, sc *scenario.Scenario) (string, error)
	LoadScenario(ctx context.Context, name string) (*scenario.Scenario, error)
	StartScenario(ctx context.Context, sc *scenario.Scenario) (string, error)
	StopScenario(ctx context.Context, id string) error
}

// StepResult is what the server reported for one step of the current run.
type StepResult struct {
	Success   bool
	Output    string
	Variables map[string]string
	Skipped   string
}

// Buttons is which actions are currently available.
type Buttons struct {
	Save  bool
	Run   bool
	Clear bool
	Stop  bool
}

// maxLog bounds the retained log lines.
const maxLog = 1000

// draft is the editable part of the state. It is what Clear snapshots.
type draft struct {
	Name        string
	Description string
	Created     time.Time
	Steps       []scenario.Step
	Variables   map[string]string
}

// Editor is the application state.
type Editor struct {
	backend Backend
	now     func() time.Time

	mu       sync.Mutex
	d        draft
	vars     *vars.Store
	phase    Phase
	runID    string
	current  int
	results  map[int]StepResult
	log      []string
	failed   bool
	stopping bool
	lastErr  error
	snapshot *draft
}

// New returns an idle editor working against backend.
func New(backend Backend) *Editor {
	return &Editor{
		backend: backend,
		now:     time.Now,
		vars:    vars.NewStore(nil),
		phase:   PhaseIdle,
		current: -1,
		results: map[int]StepResult{},
	}
}

// Phase returns the current phase.
func (e *Editor) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Editor) setPhase(to Phase) error {
	if e.phase == to {
		return nil
	}
	if !CanTransition(e.phase, to) {
		return fmt.Errorf("editor: invalid transition %s → %s", e.phase, to)
	}
	e.phase = to
	return nil
}

// editable moves the editor into Building for a mutation.
func (e *Editor) editable() error {
	if e.phase == PhaseSubmitting || e.phase == PhaseRunning {
		return ErrBusy
	}
	return e.setPhase(PhaseBuilding)
}

// Name returns the scenario name.
func (e *Editor) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.d.Name
}

// SetName renames the scenario.
func (e *Editor) SetName(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable(); err != nil {
		return err
	}
	e.d.Name = strings.TrimSpace(name)
	return nil
}

// SetDescription replaces the description.
func (e *Editor) SetDescription(desc string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable(); err != nil {
		return err
	}
	e.d.Description = desc
	return nil
}

// Steps returns a copy of the steps.
func (e *Editor) Steps() []scenario.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSteps(e.d.Steps)
}

// AddStep appends st and returns its index.
func (e *Editor) AddStep(st scenario.Step) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.TrimSpace(st.Tool) == "" {
		return -1, errors.New("step has no tool")
	}
	if err := e.editable(); err != nil {
		return -1, err
	}
	e.d.Steps = append(e.d.Steps, normalizeStep(st))
	return len(e.d.Steps) - 1, nil
}

// UpdateStep replaces the step at i.
func (e *Editor) UpdateStep(i int, st scenario.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIndex(i); err != nil {
		return err
	}
	if err := e.editable(); err != nil {
		return err
	}
	e.d.Steps[i] = normalizeStep(st)
	return nil
}

// RemoveStep deletes the step at i.
func (e *Editor) RemoveStep(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIndex(i); err != nil {
		return err
	}
	if err := e.editable(); err != nil {
		return err
	}
	e.d.Steps = slices.Delete(e.d.Steps, i, i+1)
	return nil
}

// MoveStep moves the step at from to position to.
func (e *Editor) MoveStep(from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIndex(from); err != nil {
		return err
	}
	if err := e.checkIndex(to); err != nil {
		return err
	}
	if err := e.editable(); err != nil {
		return err
	}
	st := e.d.Steps[from]
	e.d.Steps = slices.Delete(e.d.Steps, from, from+1)
	e.d.Steps = slices.Insert(e.d.Steps, to, st)
	return nil
}

func (e *Editor) checkIndex(i int) error {
	if i < 0 || i >= len(e.d.Steps) {
		return fmt.Errorf("step %d out of range (have %d)", i+1, len(e.d.Steps))
	}
	return nil
}

// SetVariable binds a scenario variable.
func (e *Editor) SetVariable(name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("variable name required")
	}
	if err := e.editable(); err != nil {
		return err
	}
	if e.d.Variables == nil {
		e.d.Variables = map[string]string{}
	}
	e.d.Variables[name] = value
	e.vars.Set(name, value)
	return nil
}

// DeleteVariable removes a scenario variable.
func (e *Editor) DeleteVariable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable(); err != nil {
		return err
	}
	delete(e.d.Variables, name)
	e.vars.Delete(name)
	return nil
}

// Variables returns the current bindings: the scenario's own variables
// plus everything the last run extracted.
func (e *Editor) Variables() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vars.Snapshot()
}

// Load replaces the draft with sc. The example prefix is stripped from
// the name so that saving does not store it.
func (e *Editor) Load(sc *scenario.Scenario) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editable(); err != nil {
		return err
	}
	c := sc.Clone()
	c.Normalize()
	e.d = draft{
		Name:        examples.StripPrefix(c.Name),
		Description: c.Description,
		Created:     c.Created,
		Steps:       c.Steps,
		Variables:   c.Variables,
	}
	e.vars = vars.NewStore(c.Variables)
	e.resetRun()
	return nil
}

// LoadExample loads a bundled example by ID.
func (e *Editor) LoadExample(id string) error {
	sc, err := examples.Get(id)
	if err != nil {
		return err
	}
	return e.Load(sc)
}

// Open loads a stored scenario from the backend. A result served from a
// fallback cache is loaded and its error returned alongside.
func (e *Editor) Open(ctx context.Context, name string) error {
	if e.backend == nil {
		return ErrNoBackend
	}
	sc, err := e.backend.LoadScenario(ctx, name)
	if sc == nil {
		return err
	}
	if lerr := e.Load(sc); lerr != nil {
		return lerr
	}
	return err
}

// Scenario builds the document from the draft. Step metadata indices
// follow the current order.
func (e *Editor) Scenario() *scenario.Scenario {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.build()
}

func (e *Editor) build() *scenario.Scenario {
	created := e.d.Created
	if created.IsZero() {
		created = e.now().UTC()
		e.d.Created = created
	}
	sc := scenario.New(e.d.Name, created)
	sc.Description = e.d.Description
	for k, v := range e.d.Variables {
		sc.Variables[k] = v
	}
	sc.Steps = cloneSteps(e.d.Steps)
	for i := range sc.Steps {
		sc.Steps[i].Metadata.Index = i
		if sc.Steps[i].Metadata.Created.IsZero() {
			sc.Steps[i].Metadata.Created = created
		}
	}
	return sc
}

// Validate runs the validator over the built document and adds the
// checks that block submission.
func (e *Editor) Validate() []*validate.ValidationError {
	sc := e.Scenario()
	var out []*validate.ValidationError
	if sc.Name == "" {
		out = append(out, &validate.ValidationError{Phase: "editor", Path: "name", Message: ErrNameRequired.Error(), Severity: validate.SeverityError})
	}
	if len(sc.Steps) == 0 {
		out = append(out, &validate.ValidationError{Phase: "editor", Path: "steps", Message: ErrNoSteps.Error(), Severity: validate.SeverityError})
		return out
	}
	return append(out, validate.ValidateScenario(sc)...)
}

// submittable checks the draft before any network call.
func (e *Editor) submittable(needName bool) (*scenario.Scenario, error) {
	sc := e.build()
	if needName && sc.Name == "" {
		return nil, ErrNameRequired
	}
	if len(sc.Steps) == 0 {
		return nil, ErrNoSteps
	}
	if findings := validate.ValidateScenario(sc); validate.HasErrors(findings) {
		errs := validate.Filter(findings, validate.SeverityError)
		return nil, fmt.Errorf("%w: %s", ErrInvalid, errs[0].Error())
	}
	return sc, nil
}

// Save stores the scenario through the backend and returns the stored
// name. Any failure leaves the draft as it was.
func (e *Editor) Save(ctx context.Context) (string, error) {
	if e.backend == nil {
		return "", ErrNoBackend
	}
	e.mu.Lock()
	if e.phase == PhaseSubmitting || e.phase == PhaseRunning {
		e.mu.Unlock()
		return "", ErrBusy
	}
	sc, err := e.submittable(true)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	prev := e.phase
	e.phase = PhaseSubmitting
	e.mu.Unlock()

	name, err := e.backend.SaveScenario(ctx, sc)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = prev
	if prev == PhaseIdle {
		e.phase = PhaseBuilding
	}
	e.lastErr = err
	return name, err
}

// Run submits the scenario for execution. On success the editor enters
// Running and results arrive through Apply.
func (e *Editor) Run(ctx context.Context) (string, error) {
	if e.backend == nil {
		return "", ErrNoBackend
	}
	e.mu.Lock()
	if e.phase == PhaseSubmitting || e.phase == PhaseRunning {
		e.mu.Unlock()
		return "", ErrBusy
	}
	sc, err := e.submittable(false)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	prev := e.phase
	if prev == PhaseIdle {
		prev = PhaseBuilding
	}
	e.phase = PhaseSubmitting
	e.mu.Unlock()

	id, err := e.backend.StartScenario(ctx, sc)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	if err != nil {
		e.phase = prev
		return "", err
	}
	e.resetRun()
	e.vars = vars.NewStore(sc.Variables)
	e.runID = id
	e.phase = PhaseRunning
	return id, nil
}

// Stop asks the backend to stop the current run. The editor stays in
// Running until the completion event arrives.
func (e *Editor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	id := e.runID
	e.stopping = true
	e.mu.Unlock()
	if err := e.backend.StopScenario(ctx, id); err != nil {
		e.mu.Lock()
		e.stopping = false
		e.mu.Unlock()
		return err
	}
	return nil
}

// Clear empties the draft after confirm returns true. It reports whether
// anything was cleared. The previous draft can be restored with Undo.
func (e *Editor) Clear(confirm func() bool) (bool, error) {
	e.mu.Lock()
	if e.phase == PhaseSubmitting || e.phase == PhaseRunning {
		e.mu.Unlock()
		return false, ErrBusy
	}
	empty := len(e.d.Steps) == 0 && len(e.d.Variables) == 0
	e.mu.Unlock()
	if empty {
		return false, nil
	}
	if confirm != nil && !confirm() {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	snap, err := copystructure.Copy(e.d)
	if err != nil {
		return false, fmt.Errorf("snapshot draft: %w", err)
	}
	d := snap.(draft)
	e.snapshot = &d
	e.d = draft{}
	e.vars = vars.NewStore(nil)
	e.resetRun()
	e.phase = PhaseIdle
	return true, nil
}

// Undo restores the draft removed by the last Clear.
func (e *Editor) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return errors.New("nothing to undo")
	}
	if err := e.editable(); err != nil {
		return err
	}
	e.d = *e.snapshot
	e.snapshot = nil
	e.vars = vars.NewStore(e.d.Variables)
	return nil
}

// Buttons reports the enabled actions. Save, Run and Clear need at least
// one step and nothing in flight.
func (e *Editor) Buttons() Buttons {
	e.mu.Lock()
	defer e.mu.Unlock()
	idle := e.phase != PhaseSubmitting && e.phase != PhaseRunning
	has := len(e.d.Steps) > 0
	return Buttons{
		Save:  idle && has,
		Run:   idle && has,
		Clear: idle && has,
		Stop:  e.phase == PhaseRunning,
	}
}

func (e *Editor) resetRun() {
	e.runID = ""
	e.current = -1
	e.results = map[int]StepResult{}
	e.failed = false
	e.stopping = false
}

// RunID returns the ID of the current or last run.
func (e *Editor) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// CurrentStep is the index of the step in progress, or -1.
func (e *Editor) CurrentStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Result returns the reported result of step i.
func (e *Editor) Result(i int) (StepResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.results[i]
	return r, ok
}

// Log returns the retained log lines.
func (e *Editor) Log() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.log)
}

// Err returns the error of the last submission, if any.
func (e *Editor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Apply folds a server event into the state. Events of other runs are
// ignored. Variables reported by step results and variable updates are
// merged with the last writer winning.
func (e *Editor) Apply(evt trace.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if evt.RunID != "" && e.runID != "" && evt.RunID != e.runID {
		return
	}

	switch evt.Type {
	case trace.EventLog:
		e.log = append(e.log, "["+evt.String("tool")+"] "+evt.String("line"))
		if n := len(e.log) - maxLog; n > 0 {
			e.log = slices.Delete(e.log, 0, n)
		}
	case trace.EventScenarioProgress:
		e.current = evt.Int("step_index")
	case trace.EventStepResult:
		i := evt.Int("step_index")
		vs := evt.StringMap("variables")
		e.results[i] = StepResult{Success: evt.Bool("success"), Output: evt.String("output"), Variables: vs}
		e.vars.Merge(vs)
	case trace.EventStepSkipped:
		i := evt.Int("step_index")
		e.results[i] = StepResult{Skipped: evt.String("reason")}
	case trace.EventVariableUpdated:
		e.vars.Merge(evt.StringMap("variables"))
	case trace.EventError:
		e.failed = true
		e.lastErr = errors.New(evt.String("message"))
	case trace.EventScenarioCompleted:
		if e.phase != PhaseRunning {
			return
		}
		e.current = -1
		switch {
		case e.failed:
			e.phase = PhaseError
		case evt.Bool("success"):
			e.phase = PhaseCompleted
		case e.stopping:
			e.phase = PhaseIdle
		default:
			e.lastErr = errors.New("scenario failed")
			e.phase = PhaseError
		}
		e.stopping = false
	}
}

func normalizeStep(st scenario.Step) scenario.Step {
	sc := scenario.Scenario{Steps: []scenario.Step{st}}
	sc = *sc.Clone()
	sc.Normalize()
	return sc.Steps[0]
}

func cloneSteps(steps []scenario.Step) []scenario.Step {
	return (&scenario.Scenario{Steps: steps}).Clone().Steps
}
