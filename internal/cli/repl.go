package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ecoroster/console/internal/app"
	"ecoroster/console/internal/mirror"
	"ecoroster/console/internal/reconcile"
	"ecoroster/console/internal/search"
)

func newConsoleCommand(opts *RootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive live console",
		Long:  "Opens both live views and reads commands until quit, end of input, or the session stops being an admin one.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			redirect := func(reason string) {
				opts.printer.red.Fprintf(opts.env.Err, "\n%s\n", reason)
				cancel()
			}
			rt, err := opts.openConsole(ctx, redirect)
			if err != nil {
				return err
			}
			defer rt.Close()

			r := &repl{console: rt.Console, lines: opts.lines, printer: opts.printer, out: opts.env.Out, watch: watch}
			if err := r.run(ctx); err != nil {
				return err
			}
			if cmd.Context().Err() == nil && ctx.Err() != nil {
				return NewExitError(ExitUnauthorized, "session ended")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "print a line whenever a view changes")
	return cmd
}

type repl struct {
	console *app.Console
	lines   *lineReader
	printer *Printer
	out     io.Writer
	watch   bool

	notes watchNotes
}

// maxWatchNotes bounds the lines kept while a command runs; older ones are dropped first.
const maxWatchNotes = 100

// watchNotes queues view-change lines from store goroutines until the console loop prints them,
// so they never land inside a table or a prompt.
type watchNotes struct {
	mu      sync.Mutex
	pending []string
	ready   chan struct{}
}

func (n *watchNotes) add(line string) {
	n.mu.Lock()
	n.pending = append(n.pending, line)
	if len(n.pending) > maxWatchNotes {
		n.pending = n.pending[len(n.pending)-maxWatchNotes:]
	}
	n.mu.Unlock()
	select {
	case n.ready <- struct{}{}:
	default:
	}
}

func (n *watchNotes) take() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	lines := n.pending
	n.pending = nil
	return lines
}

func (r *repl) run(ctx context.Context) error {
	r.notes.ready = make(chan struct{}, 1)
	if r.watch {
		cancel := r.console.Watch(func(u reconcile.Update) {
			r.notes.add(fmt.Sprintf("[%s: %d]", u.Collection, len(u.Documents)))
		})
		defer cancel()
	}

	r.printer.Heading(r.out, "Roster console. Type help for commands.")
	r.show("pending")
	for {
		r.flushNotes()
		fmt.Fprint(r.out, "> ")
		line, ok := r.next(ctx)
		if !ok {
			fmt.Fprintln(r.out)
			return nil
		}
		if done := r.exec(ctx, line); done {
			return nil
		}
	}
}

// next waits for a command line, printing view changes that arrive meanwhile above a fresh prompt.
func (r *repl) next(ctx context.Context) (string, bool) {
	lines := r.lines.Lines()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-r.notes.ready:
			pending := r.notes.take()
			if len(pending) == 0 {
				continue
			}
			fmt.Fprint(r.out, "\r")
			r.printNotes(pending)
			fmt.Fprint(r.out, "> ")
		case line, ok := <-lines:
			return line, ok
		}
	}
}

func (r *repl) flushNotes() {
	select {
	case <-r.notes.ready:
	default:
	}
	r.printNotes(r.notes.take())
}

func (r *repl) printNotes(lines []string) {
	for _, line := range lines {
		r.printer.faint.Fprintln(r.out, line)
	}
}

// exec runs one command line and reports whether the console should exit.
func (r *repl) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		r.help()
	case "pending", "members", "list":
		r.show(cmd)
	case "approve", "remove":
		if len(args) == 0 {
			r.printer.Warn("usage: %s <id>...", cmd)
			return false
		}
		for _, id := range args {
			var n app.Notice
			if cmd == "approve" {
				n = r.console.Approve(ctx, id)
			} else {
				n = r.console.Remove(ctx, id)
			}
			r.printer.Notice(id, n)
		}
	case "search":
		resp := r.console.Search(search.Query{Text: strings.Join(args, " ")})
		printSearch(r.printer, r.out, resp)
	case "status":
		r.status()
	default:
		r.printer.Warn("unknown command %q, type help", cmd)
	}
	return false
}

func (r *repl) show(which string) {
	if which == "pending" || which == "list" {
		printPending(r.printer, r.out, r.console.Pending())
	}
	if which == "members" || which == "list" {
		printMembers(r.printer, r.out, r.console.Members())
	}
}

func (r *repl) status() {
	st := r.console.Status()
	if st.Identity != nil {
		fmt.Fprintf(r.out, "operator  %s (authorized: %t)\n", st.Identity.Email, st.Authorized)
	}
	fmt.Fprintf(r.out, "requests  %s\n", describe(st.Requests))
	fmt.Fprintf(r.out, "members   %s\n", describe(st.Members))
}

func describe(st mirror.Status) string {
	state := "first paint"
	switch {
	case st.Stale:
		state = "stale"
	case st.Live:
		state = "live"
	}
	out := fmt.Sprintf("%s, %d documents", state, st.Count)
	if st.LastError != nil {
		out += ", last error: " + st.LastError.Error()
	}
	return out
}

func (r *repl) help() {
	fmt.Fprintln(r.out, "  pending              list pending registration requests")
	fmt.Fprintln(r.out, "  members              list members")
	fmt.Fprintln(r.out, "  list                 both lists")
	fmt.Fprintln(r.out, "  approve <id>...      approve requests")
	fmt.Fprintln(r.out, "  remove <id>...       delete members")
	fmt.Fprintln(r.out, "  search <text>        search both views")
	fmt.Fprintln(r.out, "  status               session and sync state")
	fmt.Fprintln(r.out, "  quit                 leave the console")
}
