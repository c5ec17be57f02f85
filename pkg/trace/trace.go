// Package trace defines the events a scenario run publishes and the
// append-only JSONL audit trail they are recorded in.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates the event names pushed to dashboard clients.
type EventType string

const (
	EventLog               EventType = "log"
	EventScanComplete      EventType = "scan_complete"
	EventScenarioProgress  EventType = "scenario_progress"
	EventScenarioCompleted EventType = "scenario_completed"
	EventStepResult        EventType = "step_result"
	EventVariableUpdated   EventType = "variable_updated"
	EventScenarioStarted   EventType = "scenario_started"
	EventStepSkipped       EventType = "step_skipped"
	EventError             EventType = "error"
)

var genesisHash = strings.Repeat("0", 64)

// Event is a single published event. On the wire it is the
// `{event, data}` frame the dashboard consumes.
type Event struct {
	Type      EventType      `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}

// Log is a single tool output line.
func Log(tool, line string) Event {
	return Event{Type: EventLog, Data: map[string]any{"tool": tool, "line": line}}
}

// ScanComplete reports the end of one tool invocation of the dynamic sequence.
func ScanComplete(tool string, success bool) Event {
	return Event{Type: EventScanComplete, Data: map[string]any{"tool": tool, "success": success}}
}

// Progress reports the step about to run.
func Progress(stepIndex int, tool, message string) Event {
	return Event{Type: EventScenarioProgress, Data: map[string]any{"step_index": stepIndex, "tool": tool, "message": message}}
}

// Completed reports the end of a scenario run.
func Completed(success bool) Event {
	return Event{Type: EventScenarioCompleted, Data: map[string]any{"success": success}}
}

// StepResult reports a finished step with the variables it extracted.
func StepResult(stepIndex int, tool string, success bool, output string, variables map[string]string) Event {
	if variables == nil {
		variables = map[string]string{}
	}
	return Event{Type: EventStepResult, Data: map[string]any{
		"step_index": stepIndex,
		"tool":       tool,
		"success":    success,
		"output":     output,
		"variables":  variables,
	}}
}

// VariablesUpdated carries the full variable mapping after a merge.
func VariablesUpdated(variables map[string]string) Event {
	return Event{Type: EventVariableUpdated, Data: map[string]any{"variables": variables}}
}

// Started reports the beginning of a scenario run.
func Started(name, scenarioID string, steps int) Event {
	return Event{Type: EventScenarioStarted, Data: map[string]any{
		"name":        name,
		"scenario_id": scenarioID,
		"steps":       steps,
	}}
}

// Skipped reports a step that did not run.
func Skipped(stepIndex int, tool, reason string) Event {
	return Event{Type: EventStepSkipped, Data: map[string]any{
		"step_index": stepIndex,
		"tool":       tool,
		"reason":     reason,
	}}
}

// Error reports a failure that stopped the run.
func Error(stepIndex int, message string) Event {
	return Event{Type: EventError, Data: map[string]any{"step_index": stepIndex, "message": message}}
}

// String returns the named field as a string.
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Bool returns the named field as a bool.
func (e Event) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Int returns the named field as an int. Decoded JSON numbers arrive as
// float64; both forms are accepted. Missing fields yield -1.
func (e Event) Int(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return int(n)
		}
	}
	return -1
}

// StringMap returns the named field as a string map, whether it was built
// in-process or decoded from JSON.
func (e Event) StringMap(key string) map[string]string {
	switch v := e.Data[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprint(val)
			}
		}
		return out
	}
	return nil
}

// Redactor masks sensitive text before it reaches the audit file.
type Redactor interface {
	Redact(s string) string
}

// Writer writes events to an append-only JSONL stream. Every line carries
// the SHA-256 of the previous line so tampering is detectable by Verify.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	redactor Redactor
}

// NewWriter creates a trace writer that writes to w.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesisHash}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// SetRedactor masks the text fields of every subsequent event.
func (tw *Writer) SetRedactor(r Redactor) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.redactor = r
}

// Emit writes a single event of the given type.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	return tw.Write(Event{Type: eventType, Data: data})
}

// Write records evt, stamping run ID, time and chain hash.
func (tw *Writer) Write(evt Event) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.RunID == "" {
		evt.RunID = tw.runID
	}
	if tw.redactor != nil {
		evt.Data = redactData(tw.redactor, evt.Data)
	}
	evt.PrevHash = tw.prevHash
	if evt.Type == EventScenarioCompleted {
		evt.Data = withField(evt.Data, "chain_hash", tw.prevHash)
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	sum := sha256.Sum256(line)
	line = append(line, '\n')
	if _, err := tw.w.Write(line); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	tw.prevHash = hex.EncodeToString(sum[:])
	return nil
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

func redactData(r Redactor, data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = r.Redact(val)
		case map[string]string:
			m := make(map[string]string, len(val))
			for mk, mv := range val {
				m[mk] = r.Redact(mv)
			}
			out[k] = m
		default:
			out[k] = v
		}
	}
	return out
}

func withField(data map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}
