package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/metrics"
	"bountyline/internal/migrate"
	"bountyline/internal/store"
)

func newReconcileStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	s := store.New(conn, 0)
	ctx := context.Background()
	dev := "d1"
	require.NoError(t, s.InsertBounty(ctx, s.DB, domain.Bounty{
		ID: "b1", CreatorID: "c1", AssigneeID: &dev, Title: "t", Amount: 500, Currency: "USDC",
		Status: domain.BountyCompleted, Deadline: "2024-02-01T00:00:00Z",
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}))
	require.NoError(t, s.RecordPayoutFailure(ctx, s.DB, "b1", "d1", 500, "hook down", "2024-01-01T00:00:00Z"))
	return s
}

func TestReconcilerRetriesAndResolves(t *testing.T) {
	s := newReconcileStore(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	fail := true
	var paid []string
	r := Reconciler{
		Store:   s,
		Metrics: m,
		Now:     func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) },
		Trigger: Func(func(_ context.Context, bountyID, payeeID string, amount int64) error {
			if fail {
				return errors.New("still down")
			}
			paid = append(paid, bountyID+"/"+payeeID)
			return nil
		}),
	}

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{Retried: 1, Failed: 1}, res)
	open, err := s.ListOpenPayoutFailures(ctx, s.DB, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, 2, open[0].Attempts)
	require.Equal(t, "still down", open[0].Error)

	fail = false
	res, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{Retried: 1, Resolved: 1}, res)
	require.Equal(t, []string{"b1/d1"}, paid)

	res, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{}, res)

	require.Equal(t, 1.0, payoutCount(t, reg, "failed"))
	require.Equal(t, 1.0, payoutCount(t, reg, "reconciled"))
}

func TestReconcilerSchedule(t *testing.T) {
	s := newReconcileStore(t)
	c := cron.New()
	id, err := Reconciler{Store: s, Trigger: Func(func(context.Context, string, string, int64) error { return nil })}.Schedule(c, "*/5 * * * *")
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, c.Entries(), 1)

	_, err = Reconciler{Store: s}.Schedule(c, "not a schedule")
	require.Error(t, err)
}

func payoutCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "bountyline_payout_triggers_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
