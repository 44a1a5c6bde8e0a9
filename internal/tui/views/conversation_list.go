package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table. Rows arrive already
// ordered and filtered by the engine.
type ConversationList struct {
	*tview.Table
	theme *ui.Theme
	convs []api.ConversationView
	now   func() time.Time
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
}

// Name implements ui.Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Hints implements ui.Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "?", Description: "Search"},
		{Key: ":", Description: "Command"},
		{Key: "1-9", Description: "Jump"},
		{Key: "h", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// Update re-renders the table, keeping the cursor on the same conversation
// when it is still listed.
func (cl *ConversationList) Update(convs []api.ConversationView, searchTerm string) {
	selected := cl.SelectedID()
	cl.convs = convs
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" KIND", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	now := cl.now()
	cursor := 1
	for i, c := range convs {
		row := i + 1
		if c.ID == selected {
			cursor = row
		}
		name := line(c.Title)
		color := cl.theme.FgColor
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
			color = cl.theme.UnreadColor
		}
		preview, ts := "", ""
		if c.Last != nil {
			preview = line(body(*c.Last))
			ts = formatTimestamp(c.Last.CreatedMs, now)
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetExpansion(1).SetTextColor(color))
		cl.SetCell(row, 1, tview.NewTableCell(" "+preview).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(ts).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(" "+c.Kind).SetTextColor(cl.theme.DimColor).SetAlign(tview.AlignRight))
	}
	if len(convs) > 0 {
		cl.Select(cursor, 0)
	}

	if searchTerm != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) filter: %s ", len(convs), line(searchTerm)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(convs)))
	}
}

// SelectedID returns the id of the conversation under the cursor.
func (cl *ConversationList) SelectedID() string {
	row, _ := cl.GetSelection()
	return cl.IDByIndex(row)
}

// IDByIndex returns the id of the Nth listed conversation (1-based).
func (cl *ConversationList) IDByIndex(n int) string {
	if n < 1 || n > len(cl.convs) {
		return ""
	}
	return cl.convs[n-1].ID
}
