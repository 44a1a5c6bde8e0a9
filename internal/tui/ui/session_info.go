package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session       string
	User          string
	Presence      string
	Link          string
	Conversations int
	Unread        int
	Outbox        int
	Uptime        time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	label := func(s string) string { return Tag(si.theme.FgColor) + "[::b]" + s + "[-:-:-]" }
	value := Tag(si.theme.CounterColor)

	_, _ = fmt.Fprintf(si,
		"%s %s%s[-]\n"+
			"%s    %s%s[-] %s●[-]\n"+
			"%s    %s%s[-]\n"+
			"%s  %s%d[-] (%d unread)\n"+
			"%s  %s%d[-]\n"+
			"%s  %s%s[-]",
		label("Session:"), value, tview.Escape(data.Session),
		label("User:"), value, tview.Escape(data.User), Tag(si.theme.PresenceColor(data.Presence)),
		label("Link:"), Tag(si.theme.LinkColor(data.Link)), data.Link,
		label("Chats:"), value, data.Conversations, data.Unread,
		label("Outbox:"), value, data.Outbox,
		label("Uptime:"), value, formatDuration(data.Uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
