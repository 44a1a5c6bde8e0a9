package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageSearch        = "search"
	pageInfo          = "info"
	pageHelp          = "help"
)

const commandTimeout = 10 * time.Second

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	client   *api.Client
	registry *keys.Registry
	flash    *ui.FlashModel
	session  string

	info     *ui.SessionInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	prompt   *ui.Prompt

	convList *views.ConversationList
	thread   *views.MessageThread
	search   *views.SearchView
	details  *views.ConversationInfo
	help     *views.HelpView

	components map[string]ui.Component
	hadActive  bool
	lastQuery  string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *api.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		vm:       model.NewViewModel(c),
		client:   c,
		registry: keys.NewRegistry(),
		flash:    ui.NewFlashModel(),
		session:  sessionName,
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		convList: views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		search:   views.NewSearchView(theme),
		details:  views.NewConversationInfo(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.components = map[string]ui.Component{
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageSearch:        a.search,
		pageInfo:          a.details,
		pageHelp:          a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	key := func(r rune, desc string, fn func()) *keys.Action {
		return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Visible: true, Handler: fn}
	}

	a.registry.AddGlobal(key(':', "Command", func() { a.showPrompt(ui.PromptCommand, "") }))
	a.registry.AddGlobal(key('/', "Filter", func() {
		a.showPrompt(ui.PromptFilter, a.vm.Snapshot().SearchTerm)
	}))
	a.registry.AddGlobal(key('?', "Search", func() { a.showPrompt(ui.PromptSearch, "") }))
	a.registry.AddGlobal(key('h', "Help", func() { a.show(pageHelp) }))
	a.registry.AddGlobal(key('q', "Quit", func() { a.app.Stop() }))
	a.registry.AddGlobal(&keys.Action{Key: tcell.KeyEscape, Label: "Esc", Description: "Back", Handler: a.back})

	a.registry.AddPage(pageThread, key('i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddPage(pageThread, key('d', "Details", func() { a.show(pageInfo) }))
	a.registry.AddPage(pageThread, key('m', "Mark read", func() { a.execute(Command{Name: "read"}) }))
	a.registry.AddPage(pageThread, key('r', "Resend failed", func() { a.execute(Command{Name: "resend"}) }))
	a.registry.AddPage(pageThread, key('x', "Cancel queued", func() { a.execute(Command{Name: "cancel"}) }))
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, _ int) {
		if id := a.convList.IDByIndex(row); id != "" {
			a.execute(Command{Name: "open", Args: id})
		}
	})

	a.search.SetSelectedFunc(func(_, _ int) {
		if id := a.search.SelectedConversation(); id != "" {
			a.execute(Command{Name: "open", Args: id})
		}
	})

	a.thread.SetOnSend(func(text string) {
		a.run(func(ctx context.Context) (Outcome, error) {
			_, err := a.vm.SendText(ctx, text)
			return Outcome{}, err
		})
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.execute(ParseCommand(text))
		case ui.PromptFilter:
			a.execute(Command{Name: "filter", Args: text})
		case ui.PromptSearch:
			a.execute(Command{Name: "search", Args: text})
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(stack []string) {
		trail := make([]string, 0, len(stack))
		for _, name := range stack {
			trail = append(trail, a.components[name].Name())
		}
		a.crumbs.Update(trail)
		if c, ok := a.components[a.pages.Current()]; ok {
			a.menu.Update(c.Hints())
		}
	})
}

func (a *App) setupLayout() {
	for name, c := range a.components {
		a.pages.AddPage(name, c.(tview.Primitive), true, false)
	}

	header := tview.NewFlex().
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 16, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.pages.Reset(pageConversations)
	a.app.SetRoot(a.root, true).SetFocus(a.convList)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if focused == a.thread.Composer() && event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		// Text inputs get every key.
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		page := a.pages.Current()
		if page == pageConversations && event.Key() == tcell.KeyRune {
			if r := event.Rune(); r >= '1' && r <= '9' {
				if id := a.convList.IDByIndex(int(r - '0')); id != "" {
					a.execute(Command{Name: "open", Args: id})
				}
				return nil
			}
		}
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) showPrompt(mode ui.PromptMode, text string) {
	a.prompt.Activate(mode, text)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

func (a *App) back() {
	if a.pages.Pop() != "" {
		a.focusCurrent()
	}
}

func (a *App) show(page string) {
	if page == pageSearch {
		a.search.Update(a.lastQuery, a.vm.Results(), a.conversationTitle)
	}
	a.pages.Push(page)
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageConversations:
		a.app.SetFocus(a.convList)
	default:
		if c, ok := a.components[a.pages.Current()]; ok {
			a.app.SetFocus(c.(tview.Primitive))
		}
	}
}

func (a *App) conversationTitle(id string) string {
	for _, c := range a.vm.Snapshot().Conversations {
		if c.ID == id {
			return c.Title
		}
	}
	return id
}

// execute runs a command off the UI goroutine and applies its outcome.
func (a *App) execute(cmd Command) {
	if cmd.Name == "search" {
		a.lastQuery = cmd.Args
	}
	a.run(func(ctx context.Context) (Outcome, error) {
		return Execute(ctx, a.vm, cmd)
	})
}

func (a *App) run(fn func(ctx context.Context) (Outcome, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
		defer cancel()
		out, err := fn(ctx)
		a.app.QueueUpdateDraw(func() { a.apply(out, err) })
	}()
}

func (a *App) apply(out Outcome, err error) {
	switch {
	case err != nil:
		a.flash.Err(err)
	case out.Flash != "":
		a.flash.Info(out.Flash)
	}
	if out.Quit {
		a.app.Stop()
		return
	}
	if out.Page != "" {
		a.show(out.Page)
	}
	a.renderChrome()
}

// render redraws everything from the latest snapshot.
func (a *App) render() {
	snap := a.vm.Snapshot()
	a.convList.Update(snap.Conversations, snap.SearchTerm)

	active, ok := a.vm.Active()
	if ok {
		a.thread.Update(active, snap.Self.ID, a.vm.DisplayName)
		a.details.Update(active, snap.Users)
	} else if a.hadActive {
		// The open conversation went away (e.g. we were removed).
		if cur := a.pages.Current(); cur == pageThread || cur == pageInfo {
			a.pages.Push(pageConversations)
			a.focusCurrent()
		}
	}
	a.hadActive = ok

	if c, ok := a.components[a.pages.Current()]; ok {
		a.menu.Update(c.Hints())
	}
	a.renderChrome()
}

func (a *App) renderChrome() {
	snap := a.vm.Snapshot()
	st := a.vm.SessionStatus()
	a.info.Update(&ui.SessionData{
		Session:       a.session,
		User:          snap.Self.DisplayName,
		Presence:      snap.Self.Presence,
		Link:          snap.Link,
		Conversations: len(snap.Conversations),
		Unread:        a.vm.UnreadTotal(),
		Outbox:        snap.OutboxDepth,
		Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
	})
	a.flashBar.Update(a.flash.Current())
}

func (a *App) tick() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(a.ctx, 2*time.Second)
			_, err := a.vm.LoadSessionStatus(ctx)
			cancel()
			if err != nil && a.ctx.Err() == nil {
				a.flash.Warn("daemon unreachable: " + err.Error())
			}
			a.app.QueueUpdateDraw(a.renderChrome)
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the TUI application. Screen updates are driven by the
// daemon's snapshot stream.
func (a *App) Run() error {
	defer a.cancel()

	stream, err := a.client.WatchSnapshots(a.ctx)
	if err != nil {
		return fmt.Errorf("watch snapshots: %w", err)
	}
	go func() {
		err := a.vm.Follow(stream, func() { a.app.QueueUpdateDraw(a.render) })
		if err != nil && a.ctx.Err() == nil {
			a.flash.Err(fmt.Errorf("snapshot stream: %w", err))
			a.app.QueueUpdateDraw(a.renderChrome)
		}
	}()
	go a.tick()

	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
