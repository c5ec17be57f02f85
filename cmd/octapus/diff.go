package main

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/scenario"
)

var diffCmd = &cobra.Command{
	Use:   "diff [a] [b]",
	Short: "Compare two scenarios in canonical form",
	Long:  "Compare two scenarios in canonical JSON form. Either side may be a file or example:<id>.",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := openScenario(args[0])
	if err != nil {
		return err
	}
	b, err := openScenario(args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scenario.Equal(a, b) {
		fmt.Fprintln(out, "  = no differences")
		return nil
	}
	lines, err := diffScenarios(a, b)
	if err != nil {
		return err
	}
	changed := 0
	for _, l := range lines {
		switch l[0] {
		case '+':
			changed++
			okColor.Fprintln(out, l)
		case '-':
			changed++
			failColor.Fprintln(out, l)
		default:
			fmt.Fprintln(out, l)
		}
	}
	return fmt.Errorf("%d line(s) changed", changed)
}

// openScenario loads a file, or a bundled example written as example:<id>.
func openScenario(ref string) (*scenario.Scenario, error) {
	if id, ok := strings.CutPrefix(ref, "example:"); ok {
		s, err := examples.Get(id)
		if err != nil {
			return nil, err
		}
		s.Name = examples.StripPrefix(s.Name)
		return s, nil
	}
	return scenario.LoadFile(ref)
}

// diffScenarios returns a line diff of the canonical JSON of a and b. Each
// line starts with '+', '-' or ' '.
func diffScenarios(a, b *scenario.Scenario) ([]string, error) {
	ja, err := scenario.MarshalIndent(a)
	if err != nil {
		return nil, err
	}
	jb, err := scenario.MarshalIndent(b)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	ca, cb, lineArray := dmp.DiffLinesToChars(string(ja)+"\n", string(jb)+"\n")
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lineArray)

	var out []string
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out = append(out, prefix+line)
		}
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
