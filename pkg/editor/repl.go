package editor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/octapusprime/octapus/pkg/trace"
)

// SubscribeFunc opens the server's event stream.
type SubscribeFunc func(ctx context.Context) (<-chan trace.Event, error)

// REPL is the interactive front-end of an Editor.
type REPL struct {
	editor    *Editor
	subscribe SubscribeFunc
	output    io.Writer
	confirm   func(prompt string) bool
	rl        *readline.Instance
}

// NewREPL returns a REPL for e. subscribe may be nil, in which case runs
// are started without live results.
func NewREPL(e *Editor, subscribe SubscribeFunc) *REPL {
	r := &REPL{editor: e, subscribe: subscribe, output: os.Stdout}
	r.confirm = r.ask
	return r
}

var replCommands = []string{
	"add", "args", "cond", "timeout", "extract", "rm", "mv", "list",
	"set", "unset", "vars", "name", "desc", "load", "example", "examples",
	"save", "run", "stop", "status", "results", "log", "validate", "clear",
	"undo", "export", "help", "quit",
}

// Run reads commands until quit or EOF.
func (r *REPL) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range replCommands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          r.prompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	r.rl = rl
	r.output = rl.Stdout()
	defer rl.Close()

	fmt.Fprintf(r.output, "octapus scenario editor, %d steps loaded\n", len(r.editor.Steps()))
	fmt.Fprintf(r.output, "Type 'help' for available commands.\n\n")

	for {
		rl.SetPrompt(r.prompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}
		if r.Exec(ctx, line) {
			return nil
		}
	}
}

// prompt shows the name, the step count and the phase.
func (r *REPL) prompt() string {
	name := r.editor.Name()
	if name == "" {
		name = "untitled"
	}
	return fmt.Sprintf("octapus[%s | %d steps | %s]> ", name, len(r.editor.Steps()), r.editor.Phase())
}

// ask prompts for a yes/no answer on the REPL's own line editor.
func (r *REPL) ask(prompt string) bool {
	var line string
	var err error
	if r.rl != nil {
		r.rl.SetPrompt(prompt + " [y/N] ")
		line, err = r.rl.Readline()
	} else {
		fmt.Fprintf(r.output, "%s [y/N] ", prompt)
		line, err = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
