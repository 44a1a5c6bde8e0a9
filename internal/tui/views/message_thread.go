package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread shows the open conversation above a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		if t := strings.TrimSpace(composer.GetText()); t != "" {
			mt.onSend(t)
			composer.SetText("")
		}
	})

	return mt
}

// Name implements ui.Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Hints implements ui.Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "r", Description: "Resend failed"},
		{Key: "x", Description: "Cancel queued"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders the conversation oldest first. names resolves sender ids.
func (mt *MessageThread) Update(conv api.ConversationView, selfID string, names func(string) string) {
	mt.title = conv.Title
	mt.messages.SetTitle(fmt.Sprintf(" %s ", line(conv.Title)))
	mt.messages.Clear()

	now := mt.now()
	for _, m := range conv.Messages {
		mine := m.SenderID == selfID
		sender := names(m.SenderID)
		stamp := formatTimestamp(m.CreatedMs, now)
		if !m.Pending {
			stamp = fmt.Sprintf("%s #%d", stamp, m.Seq)
		}
		mark := ""
		if mine {
			mark = " " + deliveryMark(mt.theme, m.Status)
		}
		reply := ""
		if m.ReplyTo != "" {
			reply = fmt.Sprintf("%s↪ %s[-] ", ui.Tag(mt.theme.DimColor), line(m.ReplyTo))
		}
		_, _ = fmt.Fprintf(mt.messages, "[::b]%s[-:-:-] %s%s[-]%s\n%s%s\n\n",
			line(sender), ui.Tag(mt.theme.DimColor), stamp, mark, reply, text(body(m)))
	}

	mt.messages.ScrollToEnd()
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
