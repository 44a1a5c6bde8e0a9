package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo shows the open conversation's header and roster.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements ui.Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "add/remove <user>"},
	}
}

// Update renders details for conv. users supplies presence for the roster.
func (ci *ConversationInfo) Update(conv api.ConversationView, users []api.UserView) {
	ci.Clear()
	ci.SetTitle(fmt.Sprintf(" %s Details ", line(conv.Title)))

	label := ui.Tag(ci.theme.FgColor) + "[::b]"
	value := ui.Tag(ci.theme.CounterColor)
	byID := make(map[string]api.UserView, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	pending, failed := 0, 0
	for _, m := range conv.Messages {
		switch {
		case m.Status == "failed":
			failed++
		case m.Pending:
			pending++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n %sTitle:[-:-:-]    %s%s[-]\n", label, value, line(conv.Title))
	fmt.Fprintf(&b, " %sID:[-:-:-]       %s%s[-]\n", label, value, line(conv.ID))
	fmt.Fprintf(&b, " %sKind:[-:-:-]     %s%s[-]\n", label, value, conv.Kind)
	fmt.Fprintf(&b, " %sCreated:[-:-:-]  %s%s[-]\n", label, value, time.UnixMilli(conv.CreatedMs).Format(time.DateTime))
	fmt.Fprintf(&b, " %sMessages:[-:-:-] %s%d[-] (%d pending, %d failed)\n", label, value, len(conv.Messages), pending, failed)
	fmt.Fprintf(&b, " %sUnread:[-:-:-]   %s%d[-]\n\n", label, value, conv.UnreadCount)
	fmt.Fprintf(&b, " %sParticipants[-:-:-]\n", label)
	for _, id := range conv.Participants {
		u, ok := byID[id]
		name, presence := id, ""
		if ok {
			name, presence = u.DisplayName, u.Presence
		}
		fmt.Fprintf(&b, "   %s●[-] %s %s(%s)[-]\n", ui.Tag(ci.theme.PresenceColor(presence)), line(name), ui.Tag(ci.theme.DimColor), line(id))
	}
	_, _ = fmt.Fprint(ci, b.String())
}
