package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// formatTimestamp shows a clock time for today and a date otherwise.
func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// deliveryMark renders the tick for an own message's status.
func deliveryMark(theme *ui.Theme, status string) string {
	switch status {
	case "queued":
		return ui.Tag(theme.PendingColor) + "◷[-]"
	case "sent":
		return ui.Tag(theme.SentColor) + "✓[-]"
	case "delivered":
		return ui.Tag(theme.SentColor) + "✓✓[-]"
	case "read":
		return ui.Tag(theme.ReadColor) + "✓✓[-]"
	case "failed":
		return ui.Tag(theme.FailedColor) + "! failed[-]"
	}
	return ""
}

// body is the visible content of a message, with a tag for media.
func body(m api.MessageView) string {
	switch m.Type {
	case "", "text":
		return m.Content
	}
	if m.Content == "" {
		return fmt.Sprintf("<%s>", m.Type)
	}
	return fmt.Sprintf("<%s> %s", m.Type, m.Content)
}
