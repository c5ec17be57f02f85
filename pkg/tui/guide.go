package tui

import (
	_ "embed"
	"strings"

	"github.com/charmbracelet/glamour"
)

//go:embed guide.md
var guide string

// Guide returns the bundled user guide as markdown.
func Guide() string {
	return guide
}

// RenderGuide renders markdown for the terminal, wrapped at width columns
// (0 disables wrapping). It falls back to the raw input if rendering fails.
func RenderGuide(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
