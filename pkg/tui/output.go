package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// maxLogLines bounds the log kept in the viewport.
const maxLogLines = 2000

// outputPanel renders the scrolling tool log, or the output of one step
// when the user browses the step list.
type outputPanel struct {
	viewport viewport.Model

	lines []string
	// pinned is the browsed step output; empty while following the log.
	pinned string
	title  string

	highlightQuery string

	width  int
	height int
	ready  bool
}

func newOutputPanel() outputPanel {
	return outputPanel{title: "Log"}
}

// SetSize updates the viewport dimensions.
func (p *outputPanel) SetSize(width, height int) {
	p.width = width
	p.height = height

	contentW := max(width-4, 1)  // border padding
	contentH := max(height-3, 1) // title + border

	if !p.ready {
		p.viewport = viewport.New(contentW, contentH)
		p.ready = true
	} else {
		p.viewport.Width = contentW
		p.viewport.Height = contentH
	}
	p.refreshContent()
}

// AppendLine adds one log line.
func (p *outputPanel) AppendLine(line string) {
	p.lines = append(p.lines, line)
	if n := len(p.lines) - maxLogLines; n > 0 {
		p.lines = p.lines[n:]
	}
	if p.pinned == "" {
		p.refreshContent()
		p.viewport.GotoBottom()
	}
}

// Pin shows a single step's output instead of the log.
func (p *outputPanel) Pin(title, output string) {
	if output == "" {
		output = "(no output)"
	}
	p.title = title
	p.pinned = output
	p.refreshContent()
	p.viewport.GotoTop()
}

// Follow returns to the live log.
func (p *outputPanel) Follow() {
	p.title = "Log"
	p.pinned = ""
	p.refreshContent()
	p.viewport.GotoBottom()
}

// Update handles viewport-specific messages (mouse scroll, etc.).
func (p *outputPanel) Update(msg tea.Msg) {
	if p.ready {
		p.viewport, _ = p.viewport.Update(msg)
	}
}

// PageUp scrolls the viewport up.
func (p *outputPanel) PageUp() {
	if p.ready {
		p.viewport.HalfViewUp()
	}
}

// PageDown scrolls the viewport down.
func (p *outputPanel) PageDown() {
	if p.ready {
		p.viewport.HalfViewDown()
	}
}

// SetHighlight sets the search highlight query and re-renders output.
// It returns the number of matches.
func (p *outputPanel) SetHighlight(query string) int {
	p.highlightQuery = query
	return p.refreshContent()
}

// ClearHighlight removes search highlighting.
func (p *outputPanel) ClearHighlight() {
	p.highlightQuery = ""
	p.refreshContent()
}

func (p *outputPanel) content() string {
	if p.pinned != "" {
		return p.pinned
	}
	return strings.Join(p.lines, "\n")
}

// refreshContent re-renders the content with highlighting.
func (p *outputPanel) refreshContent() int {
	if !p.ready {
		return 0
	}
	content, n := HighlightContent(p.content(), p.highlightQuery)
	p.viewport.SetContent(content)
	return n
}

// View renders the output panel.
func (p *outputPanel) View() string {
	title := panelTitle.Render(p.title)

	var content string
	if p.ready {
		content = p.viewport.View()
	} else {
		content = "  Waiting for output..."
	}

	header := title
	if p.ready && p.viewport.TotalLineCount() > p.viewport.VisibleLineCount() {
		scrollInfo := fmt.Sprintf(" %3.0f%%", p.viewport.ScrollPercent()*100)
		padding := max(p.width-4-len(p.title)-len(scrollInfo), 0)
		header = title + strings.Repeat(" ", padding) + keyDescStyle.Render(scrollInfo)
	}

	return panelBorder.Width(p.width).Height(p.height).Render(
		header + "\n" + content,
	)
}
