package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/tui/model"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Outcome tells the app what to do after a command ran.
type Outcome struct {
	Flash string
	Page  string // page to show, if any
	Quit  bool
}

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// Execute runs cmd against the daemon.
func Execute(ctx context.Context, vm *model.ViewModel, cmd Command) (Outcome, error) {
	c := vm.Client()
	active, hasActive := vm.Active()
	needActive := func() error {
		if !hasActive {
			return errors.New("no conversation open")
		}
		return nil
	}

	switch cmd.Name {
	case "q", "quit":
		return Outcome{Quit: true}, nil

	case "h", "help":
		return Outcome{Page: pageHelp}, nil

	case "open", "chat":
		id := findConversation(vm, cmd.Args)
		if id == "" {
			return Outcome{}, fmt.Errorf("no conversation matches %q", cmd.Args)
		}
		if err := vm.Open(ctx, id); err != nil {
			return Outcome{}, err
		}
		return Outcome{Page: pageThread}, nil

	case "group":
		name, rest, _ := strings.Cut(cmd.Args, " ")
		members := splitList(rest)
		if name == "" || len(members) == 0 {
			return Outcome{}, usage(":group <name> <user,user...>")
		}
		conv, err := c.CreateGroup(ctx, name, members)
		if err != nil {
			return Outcome{}, err
		}
		if err := vm.Open(ctx, conv.ID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: "created " + conv.Title, Page: pageThread}, nil

	case "direct", "dm":
		if cmd.Args == "" {
			return Outcome{}, usage(":direct <user>")
		}
		conv, err := c.CreateDirect(ctx, cmd.Args)
		if err != nil {
			return Outcome{}, err
		}
		if err := vm.Open(ctx, conv.ID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Page: pageThread}, nil

	case "add", "remove":
		if err := needActive(); err != nil {
			return Outcome{}, err
		}
		if cmd.Args == "" {
			return Outcome{}, usage(":" + cmd.Name + " <user>")
		}
		var err error
		if cmd.Name == "add" {
			err = c.AddParticipant(ctx, active.ID, cmd.Args)
		} else {
			err = c.RemoveParticipant(ctx, active.ID, cmd.Args)
		}
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: fmt.Sprintf("%s %s", cmd.Name, cmd.Args)}, nil

	case "read":
		n, err := vm.MarkActiveRead(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: fmt.Sprintf("%d marked read", n)}, nil

	case "presence":
		u, err := c.SetPresence(ctx, cmd.Args)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: "you are " + u.Presence}, nil

	case "resend":
		id := cmd.Args
		if id == "" {
			m, ok := vm.LastFailed()
			if !ok {
				return Outcome{}, errors.New("nothing to resend")
			}
			id = m.ID
		}
		if _, err := c.Resend(ctx, id); err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: "requeued"}, nil

	case "cancel":
		id := cmd.Args
		if id == "" {
			m, ok := vm.LastQueued()
			if !ok {
				return Outcome{}, errors.New("nothing queued")
			}
			id = m.ID
		}
		if err := c.Cancel(ctx, id); err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: "cancelled"}, nil

	case "status":
		if cmd.Args == "" {
			return Outcome{}, usage(":status <text>")
		}
		if _, err := c.PostStatus(ctx, cmd.Args, ""); err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: "status posted"}, nil

	case "call":
		if err := needActive(); err != nil {
			return Outcome{}, err
		}
		call, err := c.StartCall(ctx, active.ID, cmd.Args)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Flash: call.Kind + " call started"}, nil

	case "search":
		if cmd.Args == "" {
			return Outcome{}, usage(":search <query>")
		}
		if _, err := vm.Search(ctx, cmd.Args); err != nil {
			return Outcome{}, err
		}
		return Outcome{Page: pageSearch}, nil

	case "filter":
		if err := vm.Filter(ctx, cmd.Args); err != nil {
			return Outcome{}, err
		}
		return Outcome{Page: pageConversations}, nil
	}
	return Outcome{}, fmt.Errorf("unknown command %q", cmd.Name)
}

// findConversation matches an id first, then a case-insensitive title.
func findConversation(vm *model.ViewModel, query string) string {
	if query == "" {
		return ""
	}
	convs := vm.Snapshot().Conversations
	for _, c := range convs {
		if c.ID == query {
			return c.ID
		}
	}
	for _, c := range convs {
		if strings.EqualFold(c.Title, query) {
			return c.ID
		}
	}
	return ""
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
