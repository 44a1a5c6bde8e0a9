package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// watch runs until interrupted; everything else gets a deadline.
	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cmdWatch(ctx, c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := command{c: c, json: *jsonFlag}
	switch args[0] {
	case "status":
		cmd.status(ctx)
	case "list":
		cmd.list(ctx)
	case "show":
		cmd.show(ctx, args[1:])
	case "send":
		cmd.send(ctx, args[1:])
	case "read":
		cmd.read(ctx, args[1:])
	case "search":
		cmd.search(ctx, args[1:])
	case "presence":
		cmd.presence(ctx, args[1:])
	case "outbox":
		cmd.outbox(ctx)
	case "resend":
		cmd.resend(ctx, args[1:])
	case "cancel":
		cmd.cancel(ctx, args[1:])
	case "sync":
		cmd.sync(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show session status")
	fmt.Fprintln(os.Stderr, "  list                          List conversations")
	fmt.Fprintln(os.Stderr, "  show <conversation>           Show a conversation thread")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>    Send a text message")
	fmt.Fprintln(os.Stderr, "  read <conversation> [seq]     Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  search <query>                Search messages")
	fmt.Fprintln(os.Stderr, "  presence <online|away|offline> Set presence")
	fmt.Fprintln(os.Stderr, "  outbox                        List pending sends")
	fmt.Fprintln(os.Stderr, "  resend <message>              Retry a failed message")
	fmt.Fprintln(os.Stderr, "  cancel <message>              Cancel a queued message")
	fmt.Fprintln(os.Stderr, "  sync                          Show link and high-water marks")
	fmt.Fprintln(os.Stderr, "  watch [namespace]             Stream engine events")
}

type command struct {
	c    *api.Client
	json bool
}

func (cmd command) status(ctx context.Context) {
	st, err := cmd.c.SessionStatus(ctx)
	check(err)
	if cmd.output(st) {
		return
	}
	fmt.Printf("Session: %s\n", st.Session)
	fmt.Printf("User:    %s\n", st.UserID)
	fmt.Printf("Link:    %s\n", st.Link)
	fmt.Printf("Uptime:  %s\n", time.Duration(st.UptimeMs)*time.Millisecond)
	fmt.Printf("Unread:  %d in %d conversations\n", st.UnreadCount, st.ConversationCount)
	fmt.Printf("Outbox:  %d\n", st.OutboxDepth)
}

func (cmd command) list(ctx context.Context) {
	convs, err := cmd.c.ListConversations(ctx)
	check(err)
	if cmd.output(convs) {
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, cv := range convs {
		preview := ""
		if cv.Last != nil {
			preview = cv.Last.Content
		}
		unread := ""
		if cv.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", cv.UnreadCount)
		}
		fmt.Printf("%-12s %-24s %-5s %s\n", cv.ID, cv.Title, unread, preview)
	}
}

func (cmd command) show(ctx context.Context, args []string) {
	need(args, 1, "show <conversation>")
	cv, err := cmd.c.GetConversation(ctx, args[0])
	check(err)
	if cmd.output(cv) {
		return
	}
	fmt.Printf("%s (%s)\n", cv.Title, strings.Join(cv.Participants, ", "))
	for _, m := range cv.Messages {
		seq := "-"
		if !m.Pending {
			seq = strconv.FormatInt(m.Seq, 10)
		}
		fmt.Printf("%4s %s %-10s %-9s %s\n", seq,
			time.UnixMilli(m.CreatedMs).Format("15:04"), m.SenderID, m.Status, m.Content)
	}
}

func (cmd command) send(ctx context.Context, args []string) {
	need(args, 2, "send <conversation> <text>")
	m, err := cmd.c.Send(ctx, api.SendRequest{
		ConversationID: args[0],
		Content:        strings.Join(args[1:], " "),
	})
	check(err)
	if cmd.output(m) {
		return
	}
	fmt.Printf("queued %s (%s)\n", m.ID, m.Status)
}

func (cmd command) read(ctx context.Context, args []string) {
	need(args, 1, "read <conversation> [seq]")
	var upto int64
	if len(args) > 1 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		check(err)
		upto = n
	}
	changed, err := cmd.c.MarkRead(ctx, args[0], upto)
	check(err)
	if cmd.output(api.MarkReadResponse{Changed: changed}) {
		return
	}
	fmt.Printf("%d messages marked read\n", changed)
}

func (cmd command) search(ctx context.Context, args []string) {
	need(args, 1, "search <query>")
	msgs, err := cmd.c.Search(ctx, api.SearchRequest{Query: strings.Join(args, " ")})
	check(err)
	if cmd.output(msgs) {
		return
	}
	for _, m := range msgs {
		fmt.Printf("%-12s %-10s %s\n", m.ConversationID, m.SenderID, m.Content)
	}
}

func (cmd command) presence(ctx context.Context, args []string) {
	need(args, 1, "presence <online|away|offline>")
	u, err := cmd.c.SetPresence(ctx, args[0])
	check(err)
	if cmd.output(u) {
		return
	}
	fmt.Printf("%s is %s\n", u.ID, u.Presence)
}

func (cmd command) outbox(ctx context.Context) {
	entries, err := cmd.c.Outbox(ctx)
	check(err)
	if cmd.output(entries) {
		return
	}
	if len(entries) == 0 {
		fmt.Println("Outbox empty.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-36s %-12s attempts=%d %s\n", e.MessageID, e.ConversationID, e.Attempts, e.LastError)
	}
}

func (cmd command) resend(ctx context.Context, args []string) {
	need(args, 1, "resend <message>")
	m, err := cmd.c.Resend(ctx, args[0])
	check(err)
	if cmd.output(m) {
		return
	}
	fmt.Printf("requeued %s (%s)\n", m.ID, m.Status)
}

func (cmd command) cancel(ctx context.Context, args []string) {
	need(args, 1, "cancel <message>")
	check(cmd.c.Cancel(ctx, args[0]))
	if !cmd.json {
		fmt.Printf("cancelled %s\n", args[0])
	}
}

func (cmd command) sync(ctx context.Context) {
	st, err := cmd.c.SyncStatus(ctx)
	check(err)
	if cmd.output(st) {
		return
	}
	fmt.Printf("Link:   %s\n", st.Link)
	fmt.Printf("Outbox: %d\n", st.OutboxDepth)
	for id, seq := range st.HighWaterMarks {
		fmt.Printf("  %-12s %d\n", id, seq)
	}
}

func cmdWatch(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	stream, err := c.WatchEvents(ctx, namespace)
	check(err)
	defer stream.Close()
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		check(err)
		if jsonOut {
			outputJSON(evt)
			continue
		}
		fmt.Printf("%s %-24s %s\n", time.UnixMilli(evt.OccurredMs).Format("15:04:05.000"), evt.Kind, evt.ConversationID)
	}
}

func (cmd command) output(v any) bool {
	if !cmd.json {
		return false
	}
	outputJSON(v)
	return true
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s\n", usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
