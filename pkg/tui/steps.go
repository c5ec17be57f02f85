package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// stepStatus tracks the display state of each step.
type stepStatus int

const (
	statusPending stepStatus = iota
	statusCurrent
	statusPassed
	statusFailed
	statusSkipped
)

// stepInfo holds the display state for a single step.
type stepInfo struct {
	Tool   string
	Status stepStatus
	Note   string // skip reason or failure message
	Output string
}

// stepsPanel renders the scrollable step list. Steps are addressed by
// their index in the scenario; slots appear as events reveal them.
type stepsPanel struct {
	steps  []stepInfo
	cursor int // highlighted step (for browsing)
	width  int
	height int
	offset int // scroll offset
}

func newStepsPanel() stepsPanel {
	return stepsPanel{cursor: -1}
}

// Reset sizes the list for a new run of n steps.
func (p *stepsPanel) Reset(n int) {
	p.steps = make([]stepInfo, n)
	p.cursor = -1
	p.offset = 0
}

func (p *stepsPanel) at(i int) *stepInfo {
	if i < 0 {
		return nil
	}
	for len(p.steps) <= i {
		p.steps = append(p.steps, stepInfo{})
	}
	return &p.steps[i]
}

// SetCurrent marks step i as running and moves the cursor to it.
func (p *stepsPanel) SetCurrent(i int) {
	s := p.at(i)
	if s == nil {
		return
	}
	s.Status = statusCurrent
	p.cursor = i
	p.ensureVisible()
}

// SetResult records the outcome of step i.
func (p *stepsPanel) SetResult(i int, tool string, status stepStatus, note, output string) {
	s := p.at(i)
	if s == nil {
		return
	}
	if tool != "" {
		s.Tool = tool
	}
	s.Status = status
	s.Note = note
	s.Output = output
}

// Selected returns the step under the cursor.
func (p *stepsPanel) Selected() (int, stepInfo, bool) {
	if p.cursor >= 0 && p.cursor < len(p.steps) {
		return p.cursor, p.steps[p.cursor], true
	}
	return -1, stepInfo{}, false
}

// CursorUp moves the browsing cursor up.
func (p *stepsPanel) CursorUp() {
	if p.cursor > 0 {
		p.cursor--
		p.ensureVisible()
	}
}

// CursorDown moves the browsing cursor down.
func (p *stepsPanel) CursorDown() {
	if p.cursor < len(p.steps)-1 {
		p.cursor++
		p.ensureVisible()
	}
}

func (p *stepsPanel) ensureVisible() {
	visible := max(p.height-2, 1) // account for border/title
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.cursor >= p.offset+visible {
		p.offset = p.cursor - visible + 1
	}
}

// View renders the step list panel.
func (p *stepsPanel) View() string {
	if len(p.steps) == 0 {
		return panelBorder.Width(p.width).Height(p.height).Render("  Waiting for a scenario...")
	}

	visible := max(p.height-2, 1)
	end := min(p.offset+visible, len(p.steps))

	var lines []string
	for i := p.offset; i < end; i++ {
		step := p.steps[i]

		var glyph string
		var style lipgloss.Style
		switch step.Status {
		case statusPending:
			glyph, style = GlyphPending, stepNormal
		case statusCurrent:
			glyph, style = GlyphCurrent, stepCurrent
		case statusPassed:
			glyph, style = GlyphPassed, stepPassed
		case statusFailed:
			glyph, style = GlyphFailed, stepFailed
		case statusSkipped:
			glyph, style = GlyphSkipped, stepSkipped
		}

		title := step.Tool
		if title == "" {
			title = "…"
		}
		maxTitle := max(p.width-8, 4) // glyph + padding + number
		title = runewidth.Truncate(title, maxTitle, "…")

		line := fmt.Sprintf(" %s %d. %s", glyph, i+1, title)
		if i == p.cursor {
			line = style.Reverse(true).Render(line)
		} else {
			line = style.Render(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < visible {
		lines = append(lines, "")
	}

	title := panelTitle.Render("Steps")
	return panelBorder.Width(p.width).Height(p.height).Render(
		title + "\n" + strings.Join(lines, "\n"),
	)
}

// Stats returns counts of steps by status.
func (p *stepsPanel) Stats() (total, passed, failed, skipped int) {
	total = len(p.steps)
	for _, s := range p.steps {
		switch s.Status {
		case statusPassed:
			passed++
		case statusFailed:
			failed++
		case statusSkipped:
			skipped++
		}
	}
	return
}
