package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ecoroster/console/internal/app"
	"ecoroster/console/internal/auth"
	"ecoroster/console/internal/export"
	"ecoroster/console/internal/gitrepo"
	"ecoroster/console/internal/rbac"
	"ecoroster/console/internal/roster"
	"ecoroster/console/internal/search"
	"ecoroster/console/internal/session"
)

const liveWait = 3 * time.Second

func consoleError(err error) error {
	if errors.Is(err, session.ErrAuthorizationAbsent) {
		return WrapExitError(ExitUnauthorized, "an admin session is required (run: roster login <email>)", err)
	}
	return WrapExitError(ExitCommandError, "open console", err)
}

// waitLive gives both mirrors a moment to receive their first live snapshot, so one-shot commands
// print the full collections rather than the bounded first paint.
func waitLive(ctx context.Context, c *app.Console, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		st := c.Status()
		if st.Requests.Live && st.Members.Live {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

func newApproveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>...",
		Short: "Approve registration requests into members",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransitions(cmd.Context(), opts, args, (*app.Console).Approve)
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <member-id>...",
		Short: "Delete members from the roster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransitions(cmd.Context(), opts, args, (*app.Console).Remove)
		},
	}
}

func runTransitions(ctx context.Context, opts *RootOptions, ids []string, op func(*app.Console, context.Context, string) app.Notice) error {
	rt, err := opts.openConsole(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	failed := 0
	for _, id := range ids {
		n := op(rt.Console, ctx, id)
		opts.printer.Notice(id, n)
		if n.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d failed", failed, len(ids)))
	}
	return nil
}

type listOptions struct {
	pending bool
	members bool
}

func newListCommand(opts *RootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print pending requests and members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.openConsole(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			if !waitLive(ctx, rt.Console, liveWait) {
				opts.printer.Warn("store has not confirmed the views yet; showing what has arrived")
			}

			showPending := lo.pending || !lo.members
			showMembers := lo.members || !lo.pending
			data := map[string]any{}
			if showPending {
				data["pending"] = rt.Console.Pending()
			}
			if showMembers {
				data["members"] = rt.Console.Members()
			}
			return opts.printer.Data(data, func(w io.Writer) {
				if showPending {
					printPending(opts.printer, w, rt.Console.Pending())
				}
				if showMembers {
					printMembers(opts.printer, w, rt.Console.Members())
				}
			})
		},
	}
	cmd.Flags().BoolVar(&lo.pending, "pending", false, "only pending requests")
	cmd.Flags().BoolVar(&lo.members, "members", false, "only members")
	return cmd
}

func printPending(p *Printer, w io.Writer, reqs []roster.Request) {
	p.Heading(w, fmt.Sprintf("Pending requests (%d)", len(reqs)))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBARANGAY\tEMAIL\tACTION")
	for _, r := range reqs {
		action := "approve " + r.ID
		if r.IsApproved {
			action = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Barangay, r.Email, action)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printMembers(p *Printer, w io.Writer, members []roster.Member) {
	p.Heading(w, fmt.Sprintf("Members (%d)", len(members)))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBARANGAY\tEMAIL\tPOINTS")
	for _, m := range members {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", m.SubjectID, m.Name, m.Barangay, m.Email, m.Points)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in as an admin operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			provider, err := session.NewRedisProvider(cfg.RedisURL, cfg.SessionID, cfg.AdminDomain, cfg.SessionTTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "connect sessions", err)
			}
			defer provider.Close()

			id, err := provider.Login(cmd.Context(), args[0], name)
			switch {
			case errors.Is(err, session.ErrInvalidEmail):
				return WrapExitError(ExitCommandError, "login", err)
			case errors.Is(err, session.ErrNotAdmin):
				return WrapExitError(ExitUnauthorized, "login", err)
			case err != nil:
				return WrapExitError(ExitFailure, "login", err)
			}
			return opts.printer.Data(id, func(w io.Writer) {
				opts.printer.green.Fprintf(w, "Signed in as %s\n", id.Email)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name recorded in the audit journal")
	return cmd
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			provider, err := session.NewRedisProvider(cfg.RedisURL, cfg.SessionID, cfg.AdminDomain, cfg.SessionTTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "connect sessions", err)
			}
			defer provider.Close()

			if err := provider.Logout(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "logout", err)
			}
			return opts.printer.Data(map[string]bool{"signedOut": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Signed out")
			})
		},
	}
}

type whoami struct {
	Signed bool           `json:"signedIn"`
	Role   rbac.Role      `json:"role"`
	User   *auth.Identity `json:"identity,omitempty"`
}

func newWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			provider, err := session.NewRedisProvider(cfg.RedisURL, cfg.SessionID, cfg.AdminDomain, cfg.SessionTTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "connect sessions", err)
			}
			defer provider.Close()

			id, err := provider.CurrentIdentity(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "read session", err)
			}
			out := whoami{Signed: id != nil, Role: rbac.RoleOf(id, cfg.AdminDomain), User: id}
			if err := opts.printer.Data(out, func(w io.Writer) {
				if id == nil {
					fmt.Fprintln(w, "Not signed in")
					return
				}
				fmt.Fprintf(w, "Email:  %s\n", id.Email)
				if id.DisplayName != "" {
					fmt.Fprintf(w, "Name:   %s\n", id.DisplayName)
				}
				fmt.Fprintf(w, "Role:   %s\n", out.Role)
			}); err != nil {
				return err
			}
			if id == nil {
				return NewExitError(ExitUnauthorized, session.ReasonLoginRequired)
			}
			return nil
		},
	}
}

type searchOptions struct {
	kind     string
	barangay string
	limit    int
	offset   int
}

func newSearchCommand(opts *RootOptions) *cobra.Command {
	so := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search members and pending requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := search.Query{Barangay: so.barangay, Limit: so.limit, Offset: so.offset}
			if len(args) == 1 {
				q.Text = args[0]
			}
			switch so.kind {
			case "":
			case string(search.ResultMember), string(search.ResultRequest):
				q.FilterType = search.ResultType(so.kind)
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --type %q: must be member or request", so.kind))
			}

			ctx := cmd.Context()
			rt, err := opts.openConsole(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			waitLive(ctx, rt.Console, liveWait)

			resp := rt.Console.Search(q)
			return opts.printer.Data(resp, func(w io.Writer) {
				printSearch(opts.printer, w, resp)
			})
		},
	}
	cmd.Flags().StringVar(&so.kind, "type", "", "member or request")
	cmd.Flags().StringVar(&so.barangay, "barangay", "", "only results from this barangay")
	cmd.Flags().IntVar(&so.limit, "limit", 20, "maximum results")
	cmd.Flags().IntVar(&so.offset, "offset", 0, "results to skip")
	return cmd
}

func printSearch(p *Printer, w io.Writer, resp search.Response) {
	p.Heading(w, fmt.Sprintf("%d result(s) from %s", resp.Total, resp.Source))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Type, r.ID, r.Title, r.Snippet)
	}
	tw.Flush()
}

type exportOptions struct {
	kind   string
	format string
	output string
	upload bool
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	eo := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the members or pending requests view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(eo.kind)
			if err != nil {
				return WrapExitError(ExitCommandError, "export", err)
			}
			format, err := export.ParseFormat(eo.format)
			if err != nil {
				return WrapExitError(ExitCommandError, "export", err)
			}

			ctx := cmd.Context()
			rt, err := opts.openConsole(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			waitLive(ctx, rt.Console, liveWait)

			res, err := rt.Console.Export(ctx, export.Request{Kind: kind, Format: format, Upload: eo.upload})
			if errors.Is(err, export.ErrSinkMissing) {
				return WrapExitError(ExitCommandError, "export", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "export", err)
			}

			switch eo.output {
			case "":
				if eo.upload {
					break
				}
				_, err = opts.env.Out.Write(res.Data)
				return err
			default:
				if err := os.WriteFile(eo.output, res.Data, 0o644); err != nil {
					return WrapExitError(ExitFailure, "write export", err)
				}
			}
			summary := map[string]any{"filename": res.Filename, "bytes": len(res.Data), "location": res.Location, "output": eo.output}
			return opts.printer.Data(summary, func(w io.Writer) {
				if eo.output != "" {
					fmt.Fprintf(w, "Wrote %s (%d bytes)\n", eo.output, len(res.Data))
				}
				if res.Location != "" {
					fmt.Fprintf(w, "Uploaded to %s\n", res.Location)
				}
			})
		},
	}
	cmd.Flags().StringVar(&eo.kind, "kind", string(export.KindMembers), "members or requests")
	cmd.Flags().StringVar(&eo.format, "as", string(export.FormatCSV), "csv, json or html")
	cmd.Flags().StringVarP(&eo.output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVar(&eo.upload, "upload", false, "upload to the configured bucket")
	return cmd
}

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var (
		limit  int
		member string
		at     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the audit journal of approvals and removals",
		Long:  "Lists journal entries newest first. With --member, prints that member's record as of --at instead.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.JournalDir) == "" {
				return NewExitError(ExitCommandError, "ROSTER_JOURNAL_DIR is not set")
			}
			journal, err := gitrepo.Open(cfg.JournalDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "open journal", err)
			}
			if member != "" {
				m, err := journal.MemberAt(at, member)
				if err != nil {
					return WrapExitError(ExitFailure, "read journal", err)
				}
				return opts.printer.Data(m, func(w io.Writer) {
					printMembers(opts.printer, w, []roster.Member{m})
				})
			}
			entries, err := journal.History(limit)
			if err != nil {
				return WrapExitError(ExitFailure, "read journal", err)
			}
			return opts.printer.Data(entries, func(w io.Writer) {
				printHistory(opts.printer, w, entries)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries (0 for all)")
	cmd.Flags().StringVar(&member, "member", "", "show this member's journaled record")
	cmd.Flags().StringVar(&at, "at", "HEAD", "revision for --member (hash or ref)")
	return cmd
}

func printHistory(p *Printer, w io.Writer, entries []gitrepo.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No journal entries")
		return
	}
	for _, e := range entries {
		subject, _, _ := strings.Cut(e.Message, "\n")
		p.yellow.Fprint(w, e.Hash)
		fmt.Fprintf(w, " %s %s %s\n", e.CreatedAt.Format("2006-01-02 15:04"), p.faint.Sprintf("<%s>", e.Email), subject)
	}
}
