package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode indicates the type of prompt.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	// PromptFilter edits the engine's conversation search term.
	PromptFilter
	// PromptSearch queries message content.
	PromptSearch
)

const historySize = 50

// Prompt is a command/filter input bar with per-mode history.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	history  map[PromptMode][]string
	cursor   int
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{
		InputField: input,
		theme:      theme,
		history:    make(map[PromptMode][]string),
	}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			p.Submit()
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			p.Recall(-1)
			return nil
		case tcell.KeyDown:
			p.Recall(1)
			return nil
		}
		return ev
	})

	return p
}

// SetOnSubmit sets the callback when the prompt is submitted.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt is cancelled.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate shows the prompt in the specified mode, prefilled with text.
func (p *Prompt) Activate(mode PromptMode, text string) {
	p.mode = mode
	p.cursor = len(p.history[mode])
	p.SetText(text)
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter conversations ")
	case PromptSearch:
		p.SetLabel("?")
		p.SetTitle(" Search messages ")
	}
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}

// Submit records the text in the mode's history and hands it to the
// submit callback. An empty filter is submitted so it can clear the term.
func (p *Prompt) Submit() {
	text := p.GetText()
	if text == "" && p.mode != PromptFilter {
		return
	}
	if text != "" {
		h := append(p.history[p.mode], text)
		if len(h) > historySize {
			h = h[len(h)-historySize:]
		}
		p.history[p.mode] = h
	}
	p.SetText("")
	if p.onSubmit != nil {
		p.onSubmit(p.mode, text)
	}
}

// Recall moves through the current mode's history; delta -1 is older.
func (p *Prompt) Recall(delta int) {
	h := p.history[p.mode]
	next := p.cursor + delta
	if next < 0 || next > len(h) {
		return
	}
	p.cursor = next
	if next == len(h) {
		p.SetText("")
		return
	}
	p.SetText(h[next])
}
