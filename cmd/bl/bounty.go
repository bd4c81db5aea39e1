package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"bountyline/internal/app"
	"bountyline/internal/engine"
	"bountyline/internal/store"
)

// execute runs one lifecycle request as the --as principal and renders the
// resulting snapshot.
func (c *cli) execute(cmd *cobra.Command, req engine.Request) error {
	p, err := c.principal()
	if err != nil {
		return err
	}
	return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		res, err := a.Engine.Execute(ctx, p, req)
		if err != nil {
			return err
		}
		return c.render(res)
	})
}

func (c *cli) bountyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bounty", Short: "Manage bounties"}
	cmd.AddCommand(c.bountyCreateCmd())
	cmd.AddCommand(c.bountyListCmd())
	cmd.AddCommand(c.bountyShowCmd())
	cmd.AddCommand(c.bountyCancelCmd())
	cmd.AddCommand(c.bountyAssignCmd())
	return cmd
}

func (c *cli) bountyCreateCmd() *cobra.Command {
	var req engine.CreateBountyRequest
	var deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an open bounty",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDeadline(deadline, time.Now())
			if err != nil {
				return err
			}
			req.Deadline = d
			return c.execute(cmd, req)
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "bounty title")
	cmd.Flags().StringVar(&req.Description, "description", "", "bounty description")
	cmd.Flags().Int64Var(&req.Amount, "amount", 0, "reward amount in minor units")
	cmd.Flags().StringVar(&req.Currency, "currency", "", "reward currency (default USDC)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline as RFC3339 or a duration from now (e.g. 72h)")
	return cmd
}

func (c *cli) bountyListCmd() *cobra.Command {
	var f store.BountyFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListBounties(ctx, f)
				if err != nil {
					return err
				}
				return c.render(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.CreatorID, "creator-id", "", "creator filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of bounties")
	return cmd
}

func (c *cli) bountyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <bounty-id>",
		Short: "Show a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				b, err := a.Engine.GetBounty(ctx, args[0])
				if err != nil {
					return err
				}
				return c.render(b)
			})
		},
	}
}

func (c *cli) bountyCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <bounty-id>",
		Short: "Cancel an open bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.CancelBountyRequest{BountyID: args[0]})
		},
	}
}

func (c *cli) bountyAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <bounty-id>",
		Short: "Assign an open bounty without an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.AssignRequest{BountyID: args[0], AssigneeID: assignee})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "developer to assign")
	return cmd
}

func (c *cli) applyCmd() *cobra.Command {
	var req engine.ApplyRequest
	cmd := &cobra.Command{
		Use:   "apply <bounty-id>",
		Short: "Apply to an open bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.BountyID = args[0]
			return c.execute(cmd, req)
		},
	}
	cmd.Flags().StringVar(&req.Pitch, "pitch", "", "why you are the right developer")
	cmd.Flags().IntVar(&req.EstimatedHours, "hours", 0, "estimated hours")
	return cmd
}

func (c *cli) applicationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "application", Short: "Review applications"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <bounty-id>",
		Short: "List applications of a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.principal()
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListApplications(ctx, p, args[0])
				if err != nil {
					return err
				}
				return c.render(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "accept <application-id>",
		Short: "Accept an application and assign the bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.AcceptApplicationRequest{ApplicationID: args[0]})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reject <application-id>",
		Short: "Reject an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, engine.RejectApplicationRequest{ApplicationID: args[0]})
		},
	})
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <bounty-id>",
		Short: "Show the event history of a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.principal()
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.History(ctx, p, args[0])
				if err != nil {
					return err
				}
				return c.render(items)
			})
		},
	}
}
