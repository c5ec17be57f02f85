package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds all TUI key bindings.
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Vars   key.Binding
	Search key.Binding
	Stop   key.Binding
	Follow key.Binding
	Quit   key.Binding
	PgUp   key.Binding
	PgDown key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "browse up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "browse down"),
	),
	Vars: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "vars"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	Stop: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "stop run"),
	),
	Follow: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "follow"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	PgUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("PgUp", "scroll up"),
	),
	PgDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("PgDn", "scroll down"),
	),
}

// keyBarText renders the context-sensitive key hint string.
func keyBarText(running, varsOpen bool) string {
	if varsOpen {
		return keyStyle.Render("v/Esc") + keyDescStyle.Render(":close") + "  " +
			keyStyle.Render("q") + keyDescStyle.Render(":quit")
	}
	hint := keyStyle.Render("↑↓") + keyDescStyle.Render(":browse") + "  " +
		keyStyle.Render("PgUp/Dn") + keyDescStyle.Render(":scroll") + "  " +
		keyStyle.Render("f") + keyDescStyle.Render(":follow") + "  " +
		keyStyle.Render("/") + keyDescStyle.Render(":search") + "  " +
		keyStyle.Render("v") + keyDescStyle.Render(":vars") + "  "
	if running {
		hint += keyStyle.Render("x") + keyDescStyle.Render(":stop") + "  "
	}
	return hint + keyStyle.Render("q") + keyDescStyle.Render(":quit")
}
