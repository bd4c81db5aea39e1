package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"bountyline/internal/app"
	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/migrate"
	"bountyline/internal/server"
)

func (c *cli) logConfig(level string) (config.Log, error) {
	cfg, err := config.LoadOptional(c.v.GetString("workspace"))
	if err != nil {
		return config.Log{}, err
	}
	l := cfg.Log
	l.Level = level
	return l, nil
}

func (c *cli) initConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default bountyline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := c.v.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := c.v.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Apply(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(map[string]any{"applied": applied})
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.out, "database up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(c.out, "applied", name)
			}
			return nil
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect workspace config"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(c.v.GetString("workspace"))
			if err != nil {
				return err
			}
			return c.printJSON(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate bountyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadOptional(c.v.GetString("workspace"))
			if c.v.GetBool("json") {
				return c.printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, "config OK")
			return nil
		},
	})
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				secret := os.Getenv(cfg.Server.JWTSecretEnv)
				if secret == "" {
					return fmt.Errorf("%s is required for bearer auth", cfg.Server.JWTSecretEnv)
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: cfg.Server.BasePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
					Gatherer: a.Registry,
					Log:      a.Log,
				})
				if err != nil {
					return err
				}
				if spec := cfg.Payout.ReconcileSchedule; spec != "" {
					sched := cron.New()
					if _, err := a.Reconciler.Schedule(sched, spec); err != nil {
						return err
					}
					sched.Start()
					defer func() { <-sched.Stop().Done() }()
					a.Log.WithField("schedule", spec).Info("payout reconciliation scheduled")
				}
				if addr == "" {
					addr = cfg.Server.Addr
				}
				return server.Serve(ctx, addr, handler, a.Log)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func (c *cli) payoutCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payout", Short: "Inspect and retry failed payouts"}
	var limit int
	failures := &cobra.Command{
		Use:   "failures",
		Short: "List unresolved payout failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Store.ListOpenPayoutFailures(ctx, a.DB, limit)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"ID", "Bounty", "Payee", "Amount", "Attempts", "Error"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.BountyID, f.PayeeID, f.Amount, f.Attempts, f.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	failures.Flags().IntVar(&limit, "limit", 50, "maximum number of failures")
	cmd.AddCommand(failures)
	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Retry unresolved payout failures once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Reconciler.RunOnce(ctx)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(res)
				}
				fmt.Fprintf(c.out, "retried %d, resolved %d, still failing %d\n", res.Retried, res.Resolved, res.Failed)
				return nil
			})
		},
	})
	return cmd
}
