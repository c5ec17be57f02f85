// Package diagram renders a scenario pipeline as a Mermaid flowchart or an
// ASCII table of IF/THEN rows.
package diagram

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// ParseFormat accepts "mermaid" and "ascii".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatMermaid, FormatASCII:
		return f, nil
	}
	return "", fmt.Errorf("unsupported diagram format: %s", s)
}

// Generate produces a diagram of the scenario's steps.
func Generate(s *scenario.Scenario, format Format) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil scenario")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(s), nil
	case FormatASCII:
		return generateASCII(s), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

// Every step is a node. A step with a non-trivial condition gets a
// labelled edge into it and a dotted "skip" edge around it.
func generateMermaid(s *scenario.Scenario) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("    START([Start])\n")
	if len(s.Steps) == 0 {
		b.WriteString("    START --> END([End])\n")
		return b.String()
	}

	for i, st := range s.Steps {
		b.WriteString("    " + nodeDefinition(i, st) + "\n")
	}
	b.WriteString("    END([End])\n")

	for i, st := range s.Steps {
		from := "START"
		if i > 0 {
			from = nodeID(i - 1)
		}
		next := "END"
		if i < len(s.Steps)-1 {
			next = nodeID(i + 1)
		}
		switch st.Condition.Type {
		case scenario.KindAlways, "":
			b.WriteString(fmt.Sprintf("    %s --> %s\n", from, nodeID(i)))
		case scenario.KindNever:
			b.WriteString(fmt.Sprintf("    %s -.->|\"never\"| %s\n", from, nodeID(i)))
		default:
			b.WriteString(fmt.Sprintf("    %s -->|\"%s\"| %s\n", from, escMermaid(truncate(st.Condition.String(), 40)), nodeID(i)))
		}
		if i == len(s.Steps)-1 {
			b.WriteString(fmt.Sprintf("    %s --> END\n", nodeID(i)))
		}
		if st.Condition.Type != scenario.KindAlways && st.Condition.Type != "" {
			b.WriteString(fmt.Sprintf("    %s -.->|\"skip\"| %s\n", from, next))
		}
	}

	for i, st := range s.Steps {
		if st.Condition.Type == scenario.KindNever {
			b.WriteString(fmt.Sprintf("    style %s stroke-dasharray: 5 5\n", nodeID(i)))
		}
	}
	return b.String()
}

func nodeID(i int) string {
	return fmt.Sprintf("S%d", i+1)
}

func nodeDefinition(i int, st scenario.Step) string {
	label := fmt.Sprintf("%d. %s", i+1, commandLine(st))
	if caps := captures(st); caps != "" {
		label += "<br/>→ " + caps
	}
	return fmt.Sprintf(`%s["%s"]`, nodeID(i), escMermaid(label))
}

// --- ASCII ---

func generateASCII(s *scenario.Scenario) string {
	var b strings.Builder

	name := s.Name
	if name == "" {
		name = "Scenario"
	}
	if len(s.Steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	rows := make([][3]string, 0, len(s.Steps))
	for i, st := range s.Steps {
		rows = append(rows, [3]string{fmt.Sprintf("%d", i+1), st.Condition.String(), commandLine(st)})
	}
	head := [3]string{"#", "IF", "THEN"}
	var widths [3]int
	for _, r := range append([][3]string{head}, rows...) {
		for c, cell := range r {
			widths[c] = max(widths[c], runewidth.StringWidth(cell))
		}
	}
	total := widths[0] + widths[1] + widths[2] + 6
	total = max(total, runewidth.StringWidth(name)+4)

	b.WriteString("╔" + strings.Repeat("═", total) + "╗\n")
	b.WriteString("║" + centerPad(name, total) + "║\n")
	b.WriteString("╚" + strings.Repeat("═", total) + "╝\n")
	writeRow(&b, head, widths)
	b.WriteString(" " + strings.Repeat("─", widths[0]) + "  " + strings.Repeat("─", widths[1]) + "  " + strings.Repeat("─", widths[2]) + "\n")
	for i, r := range rows {
		writeRow(&b, r, widths)
		st := s.Steps[i]
		if caps := captures(st); caps != "" {
			indent := strings.Repeat(" ", widths[0]+widths[1]+5)
			b.WriteString(indent + "→ " + caps + "\n")
		}
	}
	if len(s.Variables) > 0 {
		b.WriteString("\nVariables:\n")
		for _, k := range slices.Sorted(maps.Keys(s.Variables)) {
			b.WriteString(fmt.Sprintf("  %s = %s\n", k, s.Variables[k]))
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, r [3]string, widths [3]int) {
	b.WriteString(" ")
	for c, cell := range r {
		b.WriteString(cell)
		if c < len(r)-1 {
			b.WriteString(strings.Repeat(" ", widths[c]-runewidth.StringWidth(cell)+2))
		}
	}
	b.WriteString("\n")
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// --- string helpers ---

func commandLine(st scenario.Step) string {
	if len(st.Args) == 0 {
		return st.Tool
	}
	return st.Tool + " " + scenario.JoinArgs(st.Args)
}

func captures(st scenario.Step) string {
	if len(st.Variables) == 0 {
		return ""
	}
	return strings.Join(slices.Sorted(maps.Keys(st.Variables)), ", ")
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
