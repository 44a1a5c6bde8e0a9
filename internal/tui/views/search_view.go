package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView lists message search results.
type SearchView struct {
	*tview.Table
	theme *ui.Theme
	data  []api.MessageView
	now   func() time.Time
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	return &SearchView{Table: results, theme: theme, now: time.Now}
}

// Name implements ui.Component.
func (sv *SearchView) Name() string { return "Search" }

// Hints implements ui.Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "?", Description: "New search"},
		{Key: "Esc", Description: "Back"},
	}
}

// Update renders results; titles resolves conversation ids for display.
func (sv *SearchView) Update(query string, results []api.MessageView, titles func(string) string) {
	sv.data = results
	sv.Clear()
	sv.SetTitle(fmt.Sprintf(" Results for %q (%d) ", line(query), len(results)))

	for col, h := range []string{" CONVERSATION", " MESSAGE", " TIME"} {
		sv.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
	now := sv.now()
	for i, m := range results {
		row := i + 1
		sv.SetCell(row, 0, tview.NewTableCell(" "+line(titles(m.ConversationID))).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 1, tview.NewTableCell(" "+line(body(m))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(m.CreatedMs, now)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}
	if len(results) > 0 {
		sv.Select(1, 0)
	}
}

// SelectedConversation returns the conversation of the selected result.
func (sv *SearchView) SelectedConversation() string {
	row, _ := sv.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].ConversationID
	}
	return ""
}
