package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"bountyline/internal/app"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
)

func (c *cli) submitCmd() *cobra.Command {
	var req engine.SubmitWorkRequest
	cmd := &cobra.Command{
		Use:   "submit <bounty-id>",
		Short: "Submit work for an assigned bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.BountyID = args[0]
			return c.execute(cmd, req)
		},
	}
	cmd.Flags().StringVar(&req.PRURL, "pr", "", "pull request URL")
	cmd.Flags().StringSliceVar(&req.Links, "link", nil, "supporting link (repeatable)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes for the reviewer")
	return cmd
}

func (c *cli) submissionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "submission", Short: "Review submissions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.principal()
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.GetSubmission(ctx, p, args[0])
				if err != nil {
					return err
				}
				return c.render(s)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "approve <submission-id>",
		Short: "Approve a submission and complete the bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.ApproveSubmissionRequest{SubmissionID: args[0]})
		},
	})
	var reason string
	reject := &cobra.Command{
		Use:   "reject <submission-id>",
		Short: "Reject a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.RejectSubmissionRequest{SubmissionID: args[0], Reason: reason})
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "rejection reason")
	cmd.AddCommand(reject)
	return cmd
}

func (c *cli) disputeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dispute", Short: "Dispute rejected submissions"}

	var open engine.OpenDisputeRequest
	openCmd := &cobra.Command{
		Use:   "open <submission-id>",
		Short: "Dispute a rejected submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			open.SubmissionID = args[0]
			return c.execute(cmd, open)
		},
	}
	openCmd.Flags().StringVar(&open.Reason, "reason", "", "why the rejection was wrong")
	openCmd.Flags().StringSliceVar(&open.Evidence, "evidence", nil, "evidence URL (repeatable)")
	cmd.AddCommand(openCmd)

	var resolution string
	resolveCmd := &cobra.Command{
		Use:   "resolve <dispute-id>",
		Short: "Resolve an open dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.ResolveDisputeRequest{DisputeID: args[0], Resolution: domain.Resolution(resolution)})
		},
	}
	resolveCmd.Flags().StringVar(&resolution, "resolution", "", "resolved_developer or resolved_creator")
	cmd.AddCommand(resolveCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <dispute-id>",
		Short: "Show a dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.principal()
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.GetDispute(ctx, p, args[0])
				if err != nil {
					return err
				}
				return c.render(d)
			})
		},
	})
	return cmd
}

func (c *cli) extensionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "extension", Short: "Request and decide deadline extensions"}

	var deadline, reason string
	requestCmd := &cobra.Command{
		Use:   "request <bounty-id>",
		Short: "Ask the creator to move the deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDeadline(deadline, time.Now())
			if err != nil {
				return err
			}
			return c.execute(cmd, engine.RequestExtensionRequest{BountyID: args[0], NewDeadline: d, Reason: reason})
		},
	}
	requestCmd.Flags().StringVar(&deadline, "deadline", "", "new deadline as RFC3339 or a duration from now")
	requestCmd.Flags().StringVar(&reason, "reason", "", "reason for the extension")
	cmd.AddCommand(requestCmd)

	var approve bool
	decideCmd := &cobra.Command{
		Use:   "decide <extension-id>",
		Short: "Approve or reject an extension request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.DecideExtensionRequest{ExtensionID: args[0], Approve: approve})
		},
	}
	decideCmd.Flags().BoolVar(&approve, "approve", false, "approve the request (rejects when unset)")
	cmd.AddCommand(decideCmd)
	return cmd
}
