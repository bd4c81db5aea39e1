package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/migrate"
	"bountyline/internal/payout"
	"bountyline/internal/store"
)

// App is a fully wired lifecycle stack for one workspace.
type App struct {
	Config     *config.Config
	DB         *sqlx.DB
	Store      *store.Store
	Engine     engine.Engine
	Reconciler payout.Reconciler
	Registry   *prometheus.Registry
	Log        *logrus.Logger

	redis *redis.Client
}

// Options override parts of the wiring. Zero values use the config.
type Options struct {
	Workspace string
	// Trigger replaces the configured payout triggers.
	Trigger payout.Trigger
	Log     *logrus.Logger
}

// Load reads bountyline.yml from the workspace (defaults when absent) and
// builds the stack.
func Load(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, opts)
}

// Build opens storage, applies migrations and wires the engine with its
// payout triggers and reconciler.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		var err error
		if log, err = logging.New(cfg.Log, os.Stderr); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{
		Config:   cfg,
		DB:       conn,
		Store:    store.New(conn, cfg.Storage.RetryMaxElapsed),
		Registry: prometheus.NewRegistry(),
		Log:      log,
	}
	trigger := opts.Trigger
	if trigger == nil {
		trigger = a.payoutTriggers()
	}
	m := metrics.New(a.Registry)
	a.Engine = engine.New(a.Store, trigger, cfg.Lifecycle, log, m)
	a.Engine.PayoutTimeout = cfg.Payout.TriggerTimeout
	a.Reconciler = payout.Reconciler{
		Store:   a.Store,
		Trigger: trigger,
		Log:     log.WithField("component", "reconcile"),
		Metrics: m,
		Batch:   cfg.Payout.ReconcileBatch,
	}
	return a, nil
}

func (a *App) payoutTriggers() payout.Trigger {
	triggers := payout.Multi{payout.Log{Logger: a.Log.WithField("component", "payout")}}
	if url := a.Config.Payout.WebhookURL; url != "" {
		triggers = append(triggers, payout.NewWebhook(url, a.Config.Payout.WebhookTimeout))
	}
	if addr := a.Config.Payout.RedisAddr; addr != "" {
		q, client := payout.NewRedisQueue(addr, a.Config.Payout.RedisKey)
		a.redis = client
		triggers = append(triggers, q)
	}
	return triggers
}

// Close releases the database and any broker connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
