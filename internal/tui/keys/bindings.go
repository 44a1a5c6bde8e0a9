// Package keys dispatches key presses to page-scoped actions.
package keys

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the key press matches this action.
func (a *Action) Matches(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

func (a *Action) hint() ui.MenuHint {
	label := a.Label
	if label == "" {
		label = string(a.Rune)
	}
	return ui.MenuHint{Key: label, Description: a.Description}
}

// Registry holds keybindings in registration order, globally and per page.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// AddPage registers a binding for one page.
func (r *Registry) AddPage(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Hints returns the visible bindings for a page, page bindings first.
func (r *Registry) Hints(page string) []ui.MenuHint {
	var hints []ui.MenuHint
	for _, a := range r.pages[page] {
		if a.Visible {
			hints = append(hints, a.hint())
		}
	}
	for _, a := range r.global {
		if a.Visible {
			hints = append(hints, a.hint())
		}
	}
	return hints
}

// HandleEvent dispatches ev on page.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	return r.HandleKey(page, ev.Key(), ev.Rune())
}

// HandleKey runs the first binding matching the key press, page bindings
// taking precedence. It reports whether one matched.
func (r *Registry) HandleKey(page string, key tcell.Key, ch rune) bool {
	for _, a := range r.pages[page] {
		if a.Matches(key, ch) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(key, ch) {
			a.Handler()
			return true
		}
	}
	return false
}
