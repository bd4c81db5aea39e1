package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/logging"
)

// cli carries the per-invocation settings shared by every command.
type cli struct {
	v   *viper.Viper
	out io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}
	c.v.SetEnvPrefix("BOUNTYLINE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "bl",
		Short: "Bountyline CLI",
		Long: `Bountyline runs the lifecycle of paid coding bounties.
- Bounty: a task with a reward; open -> assigned -> in_review -> completed, or cancelled while open.
- Application: a developer's pitch for an open bounty; accepting one assigns the bounty.
- Submission: a pull request for an assigned bounty; approval completes the bounty and fires the payout.
- Dispute: an appeal against a rejected submission, resolved by the creator.
- Extension: a request from the assignee to move the deadline.
Every command runs as the principal given by --as (or BOUNTYLINE_AS).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("as", "", "principal id the command acts as")
	root.PersistentFlags().String("log-level", "", "log level (overrides config)")
	for _, name := range []string{"workspace", "json", "as", "log-level"} {
		_ = c.v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(c.initConfigCmd())
	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.serveCmd())
	root.AddCommand(c.configCmd())
	root.AddCommand(c.bountyCmd())
	root.AddCommand(c.applyCmd())
	root.AddCommand(c.applicationCmd())
	root.AddCommand(c.submitCmd())
	root.AddCommand(c.submissionCmd())
	root.AddCommand(c.disputeCmd())
	root.AddCommand(c.extensionCmd())
	root.AddCommand(c.historyCmd())
	root.AddCommand(c.payoutCmd())
	return root
}

// withApp loads the workspace config and wires the lifecycle stack for one
// command.
func (c *cli) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	opts := app.Options{Workspace: c.v.GetString("workspace")}
	if level := c.v.GetString("log-level"); level != "" {
		logCfg, err := c.logConfig(level)
		if err != nil {
			return err
		}
		if opts.Log, err = logging.New(logCfg, os.Stderr); err != nil {
			return err
		}
	}
	a, err := app.Load(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (c *cli) principal() (auth.Principal, error) {
	id := strings.TrimSpace(c.v.GetString("as"))
	if id == "" {
		return auth.Principal{}, fmt.Errorf("--as is required")
	}
	return auth.Principal{ID: id}, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON when --json is set and as a table otherwise.
func (c *cli) render(v any) error {
	if c.v.GetBool("json") {
		return c.printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	switch x := v.(type) {
	case domain.Bounty:
		bountyTable(tw, []domain.Bounty{x})
	case []domain.Bounty:
		bountyTable(tw, x)
	case domain.Application:
		applicationTable(tw, []domain.Application{x})
	case []domain.Application:
		applicationTable(tw, x)
	case domain.Submission:
		tw.AppendHeader(table.Row{"ID", "Bounty", "Developer", "PR", "Status", "Rejection"})
		tw.AppendRow(table.Row{x.ID, x.BountyID, x.DeveloperID, x.PRURL, x.Status, deref(x.RejectionReason)})
	case domain.Dispute:
		resolution := ""
		if x.Resolution != nil {
			resolution = string(*x.Resolution)
		}
		tw.AppendHeader(table.Row{"ID", "Submission", "Bounty", "Raised By", "Status", "Resolution"})
		tw.AppendRow(table.Row{x.ID, x.SubmissionID, x.BountyID, x.RaisedBy, x.Status, resolution})
	case domain.ExtensionRequest:
		tw.AppendHeader(table.Row{"ID", "Bounty", "Developer", "Requested Deadline", "Status"})
		tw.AppendRow(table.Row{x.ID, x.BountyID, x.DeveloperID, x.RequestedDeadline, x.Status})
	case []domain.Event:
		tw.AppendHeader(table.Row{"#", "TS", "Type", "Entity", "Actor"})
		for _, e := range x {
			tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
		}
	default:
		return c.printJSON(v)
	}
	tw.Render()
	return nil
}

func bountyTable(tw table.Writer, items []domain.Bounty) {
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Amount", "Creator", "Assignee", "Deadline"})
	for _, b := range items {
		tw.AppendRow(table.Row{b.ID, b.Title, b.Status, fmt.Sprintf("%d %s", b.Amount, b.Currency), b.CreatorID, deref(b.AssigneeID), b.Deadline})
	}
}

func applicationTable(tw table.Writer, items []domain.Application) {
	tw.AppendHeader(table.Row{"ID", "Bounty", "Applicant", "Hours", "Status"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.BountyID, a.ApplicantID, a.EstimatedHours, a.Status})
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseDeadline accepts an RFC3339 timestamp or a duration from now such as
// "72h".
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q is neither RFC3339 nor a duration", s)
	}
	return now.Add(d).UTC().Truncate(time.Second), nil
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return 2
	case domain.KindNotFound:
		return 3
	case domain.KindForbidden:
		return 4
	case domain.KindInvalidState, domain.KindConflict:
		return 5
	default:
		return 1
	}
}
