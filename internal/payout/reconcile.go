package payout

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/store"
)

const defaultReconcileBatch = 50

// Reconciler retries payout triggers that failed after their bounty
// completed. Successful retries are marked resolved; failures bump the
// attempt counter and stay open.
type Reconciler struct {
	Store   *store.Store
	Trigger Trigger
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	Batch   int
	Now     func() time.Time
}

type ReconcileResult struct {
	Retried  int `json:"retried"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

func (r Reconciler) now() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// RunOnce processes one batch of open failures, least-retried first.
func (r Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	batch := r.Batch
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	open, err := r.Store.ListOpenPayoutFailures(ctx, r.Store.DB, batch)
	if err != nil {
		return res, err
	}
	for _, f := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Retried++
		log := r.logger().WithFields(logrus.Fields{"payout_failure_id": f.ID, "bounty_id": f.BountyID, "attempts": f.Attempts})
		if err := r.Trigger.OnBountyCompleted(ctx, f.BountyID, f.PayeeID, f.Amount); err != nil {
			res.Failed++
			r.Metrics.ObservePayout("failed")
			log.WithError(err).Warn("payout retry failed")
			if err := r.Store.BumpPayoutAttempt(ctx, r.Store.DB, f.ID, err.Error()); err != nil {
				return res, err
			}
			continue
		}
		if _, err := r.Store.ResolvePayoutFailure(ctx, r.Store.DB, f.ID, r.now()); err != nil {
			return res, err
		}
		res.Resolved++
		r.Metrics.ObservePayout("reconciled")
		log.Info("payout reconciled")
	}
	return res, nil
}

// Schedule registers RunOnce on c with a standard five-field cron spec.
func (r Reconciler) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		res, err := r.RunOnce(context.Background())
		if err != nil {
			r.logger().WithError(err).Error("payout reconciliation failed")
			return
		}
		if res.Retried > 0 {
			r.logger().WithFields(logrus.Fields{"retried": res.Retried, "resolved": res.Resolved, "failed": res.Failed}).Info("payout reconciliation finished")
		}
	})
}

func (r Reconciler) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logging.Discard()
	}
	return r.Log
}
