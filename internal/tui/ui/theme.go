package ui

import "github.com/gdamore/tcell/v2"

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	DimColor          tcell.Color
	BorderColor       tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	UnreadColor       tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color

	// Delivery marks.
	PendingColor tcell.Color
	SentColor    tcell.Color
	ReadColor    tcell.Color
	FailedColor  tcell.Color

	// Presence dots and the link indicator.
	OnlineColor  tcell.Color
	AwayColor    tcell.Color
	OfflineColor tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		DimColor:          tcell.ColorGray,
		BorderColor:       tcell.ColorDodgerBlue,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorAqua,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorOrange,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorAqua,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		UnreadColor:       tcell.ColorLime,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,
		PendingColor:      tcell.ColorGray,
		SentColor:         tcell.ColorCadetBlue,
		ReadColor:         tcell.ColorDeepSkyBlue,
		FailedColor:       tcell.ColorOrangeRed,
		OnlineColor:       tcell.ColorLime,
		AwayColor:         tcell.ColorYellow,
		OfflineColor:      tcell.ColorGray,
	}
}

// Tag returns the tview color tag for c, e.g. "[#ff0000]".
func Tag(c tcell.Color) string {
	return "[" + colorName(c) + "]"
}

// PresenceColor picks the dot color for a presence value.
func (t *Theme) PresenceColor(presence string) tcell.Color {
	switch presence {
	case "online":
		return t.OnlineColor
	case "away":
		return t.AwayColor
	}
	return t.OfflineColor
}

// LinkColor picks the indicator color for a link state.
func (t *Theme) LinkColor(link string) tcell.Color {
	switch link {
	case "ONLINE":
		return t.OnlineColor
	case "OFFLINE", "RESTORING", "BOOTING":
		return t.AwayColor
	}
	return t.FailedColor
}
