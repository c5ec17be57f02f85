package tui

import (
	"fmt"
	"regexp"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var matchStyle = lipgloss.NewStyle().
	Background(colorYellow).
	Foreground(lipgloss.Color("0")).
	Bold(true)

// searchBar is the "/" filter over the tool output. Typing updates the
// highlight live; enter keeps the query, esc drops it.
type searchBar struct {
	editing bool
	input   textinput.Model
	query   string
	matches int
}

func newSearchBar() searchBar {
	ti := textinput.New()
	ti.Placeholder = "port, service, CVE..."
	ti.CharLimit = 128
	ti.Width = 40
	ti.Prompt = "/ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	return searchBar{input: ti}
}

func (s *searchBar) Open() {
	s.editing = true
	s.query, s.matches = "", 0
	s.input.Reset()
	s.input.Focus()
}

func (s *searchBar) Close() {
	s.editing = false
	s.query, s.matches = "", 0
	s.input.Blur()
}

// Update feeds a key to the input and reports whether the search was
// dropped.
func (s *searchBar) Update(msg tea.KeyMsg) (dropped bool, cmd tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		s.Close()
		return true, nil
	case tea.KeyEnter:
		s.editing = false
		s.input.Blur()
		return s.query == "", nil
	}
	s.input, cmd = s.input.Update(msg)
	s.query = s.input.Value()
	return false, cmd
}

func (s *searchBar) Query() string  { return s.query }
func (s *searchBar) IsActive() bool { return s.editing }
func (s *searchBar) HasQuery() bool { return s.query != "" }

func (s *searchBar) View() string {
	if !s.editing && s.query == "" {
		return ""
	}
	line := keyDescStyle.Render("/" + s.query)
	if s.editing {
		line = s.input.View()
	}
	switch {
	case s.query == "":
	case s.matches > 0:
		line += "  " + statusPassedStyle.Render(fmt.Sprintf("%d in output", s.matches))
	case !s.editing:
		line += "  " + statusFailedStyle.Render("not found")
	}
	return line
}

// HighlightContent marks every case-insensitive occurrence of query in
// content and returns the number of occurrences.
func HighlightContent(content, query string) (string, int) {
	if query == "" {
		return content, 0
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))
	n := len(re.FindAllStringIndex(content, -1))
	if n == 0 {
		return content, 0
	}
	return re.ReplaceAllStringFunc(content, func(s string) string { return matchStyle.Render(s) }), n
}
