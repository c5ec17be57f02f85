// Package executor runs security tools as child processes, streaming their
// merged output line by line.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a command that does not set its own.
const DefaultTimeout = 300 * time.Second

const maxLineSize = 1 << 20

// Command is one tool invocation.
type Command struct {
	Tool    string
	Args    []string
	Timeout time.Duration
	Dir     string
	Env     []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Tool + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// Success reports a zero exit code without timeout.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// LineFunc receives each output line as it is produced.
type LineFunc func(line string)

// Runner is what the engine needs to execute a step.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine LineFunc) (*Result, error)
}

// ErrToolNotFound is returned when the tool binary cannot be resolved.
var ErrToolNotFound = errors.New("tool not found")

// Executor runs commands subject to a Policy.
type Executor struct {
	Policy         *Policy
	Paths          map[string]string // tool name → binary path
	DefaultTimeout time.Duration
}

// New returns an executor. A nil policy permits every tool.
func New(policy *Policy, paths map[string]string) *Executor {
	if policy == nil {
		policy = &Policy{}
	}
	return &Executor{Policy: policy, Paths: paths, DefaultTimeout: DefaultTimeout}
}

// Resolve returns the binary to execute for tool.
func (e *Executor) Resolve(tool string) (string, error) {
	bin := tool
	if p, ok := e.Paths[tool]; ok && p != "" {
		bin = p
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	return path, nil
}

// Run starts the tool, streams stdout and stderr merged to onLine and
// waits for exit or timeout. A non-zero exit is not an error; failing to
// start, or cancellation of ctx, is.
func (e *Executor) Run(ctx context.Context, cmd Command, onLine LineFunc) (*Result, error) {
	if err := e.Policy.CheckTool(cmd.Tool); err != nil {
		return nil, err
	}
	bin, err := e.Resolve(cmd.Tool)
	if err != nil {
		return nil, err
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, bin, cmd.Args...) //#nosec G204 -- tool and args come from the scenario author
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	c.WaitDelay = 2 * time.Second

	pr, pw := io.Pipe()
	c.Stdout = pw
	c.Stderr = pw

	var out strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			out.WriteString(line)
			out.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		}
		// drain whatever the scanner refused so the child never blocks
		_, _ = io.Copy(io.Discard, pr)
	}()

	start := time.Now()
	if err := c.Start(); err != nil {
		pw.Close()
		wg.Wait()
		return nil, fmt.Errorf("start %s: %w", cmd.Tool, err)
	}
	waitErr := c.Wait()
	pw.Close()
	wg.Wait()

	res := &Result{
		Output:   out.String(),
		Duration: time.Since(start),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay) && c.ProcessState != nil:
			res.ExitCode = c.ProcessState.ExitCode()
			waitErr = nil
		default:
			res.ExitCode = -1
		}
	}

	switch {
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", cmd.Tool, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	case waitErr != nil && res.ExitCode == -1:
		return res, fmt.Errorf("wait %s: %w", cmd.Tool, waitErr)
	}
	return res, nil
}
