package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/migrate"
)

const ts = "2024-01-01T00:00:00Z"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return New(conn, time.Second)
}

func seedBounty(t *testing.T, s *Store, id string) domain.Bounty {
	t.Helper()
	b := domain.Bounty{
		ID: id, CreatorID: "c1", Title: "fix it", Amount: 500, Currency: "USDC",
		Status: domain.BountyOpen, Deadline: "2024-02-01T00:00:00Z", CreatedAt: ts, UpdatedAt: ts,
	}
	require.NoError(t, s.InsertBounty(context.Background(), s.DB, b))
	return b
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBounty(context.Background(), s.DB, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetSubmission(context.Background(), s.DB, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuplicateApplicationIsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")
	app := domain.Application{ID: "a1", BountyID: "b1", ApplicantID: "d1", Pitch: "I can do it", EstimatedHours: 3,
		Status: domain.ApplicationPending, CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, s.InsertApplication(ctx, s.DB, app))

	app.ID = "a2"
	err := s.InsertApplication(ctx, s.DB, app)
	require.ErrorIs(t, err, domain.ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "application", conflict.Entity)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestSecondPendingExtensionIsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")
	x := domain.ExtensionRequest{ID: "x1", BountyID: "b1", DeveloperID: "d1", RequestedDeadline: "2024-03-01T00:00:00Z",
		Status: domain.ExtensionPending, CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, s.InsertExtensionRequest(ctx, s.DB, x))
	x.ID = "x2"
	require.ErrorIs(t, s.InsertExtensionRequest(ctx, s.DB, x), domain.ErrConflict)

	ok, err := s.DecideExtensionRequest(ctx, s.DB, "x1", domain.ExtensionRejected, "c1", ts)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.InsertExtensionRequest(ctx, s.DB, x))
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")
	dev := "d1"

	ok, err := s.TransitionBounty(ctx, s.DB, "b1", domain.BountyAssigned, domain.BountyInReview, &dev, ts)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.TransitionBounty(ctx, s.DB, "b1", domain.BountyOpen, domain.BountyAssigned, &dev, ts)
	require.NoError(t, err)
	require.True(t, ok)

	b, err := s.GetBounty(ctx, s.DB, "b1")
	require.NoError(t, err)
	require.Equal(t, domain.BountyAssigned, b.Status)
	require.NotNil(t, b.AssigneeID)
	require.Equal(t, "d1", *b.AssigneeID)
}

func TestAssigneeCheckConstraintIsStorageFailure(t *testing.T) {
	s := newTestStore(t)
	seedBounty(t, s, "b1")
	_, err := s.TransitionBounty(context.Background(), s.DB, "b1", domain.BountyOpen, domain.BountyAssigned, nil, ts)
	require.ErrorIs(t, err, domain.ErrStorage)
}

func TestRunInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx *sqlx.Tx) error {
		dev := "d1"
		if _, err := s.TransitionBounty(ctx, tx, "b1", domain.BountyOpen, domain.BountyAssigned, &dev, ts); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, domain.ErrStorage)

	b, err := s.GetBounty(ctx, s.DB, "b1")
	require.NoError(t, err)
	require.Equal(t, domain.BountyOpen, b.Status)
	require.Nil(t, b.AssigneeID)
}

func TestRunInTxKeepsLifecycleErrors(t *testing.T) {
	s := newTestStore(t)
	want := fmt.Errorf("%w: already approved", domain.ErrInvalidState)
	err := s.RunInTx(context.Background(), func(tx *sqlx.Tx) error { return want })
	require.Equal(t, want, err)
}

func TestClassifyPostgresCodes(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "applications_bounty_applicant_key"}
	err := conflictOr(fmt.Errorf("exec: %w", unique), "application")
	require.ErrorIs(t, err, domain.ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "applications_bounty_applicant_key", conflict.Constraint)

	require.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	require.True(t, isTransient(&pgconn.PgError{Code: "40P01"}))
	require.False(t, isTransient(unique))

	err = classify(&pgconn.PgError{Code: "23503"})
	require.ErrorIs(t, err, domain.ErrStorage)
	require.NotErrorIs(t, err, domain.ErrConflict)
}

func TestPayoutFailureLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")

	require.NoError(t, s.RecordPayoutFailure(ctx, s.DB, "b1", "d1", 500, "hook down", ts))
	open, err := s.ListOpenPayoutFailures(ctx, s.DB, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, 1, open[0].Attempts)

	require.NoError(t, s.BumpPayoutAttempt(ctx, s.DB, open[0].ID, "still down"))
	ok, err := s.ResolvePayoutFailure(ctx, s.DB, open[0].ID, ts)
	require.NoError(t, err)
	require.True(t, ok)

	open, err = s.ListOpenPayoutFailures(ctx, s.DB, 10)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestOpenPayoutFailuresPreferFewestAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")
	seedBounty(t, s, "b2")

	require.NoError(t, s.RecordPayoutFailure(ctx, s.DB, "b1", "d1", 500, "hook down", ts))
	require.NoError(t, s.RecordPayoutFailure(ctx, s.DB, "b2", "d2", 700, "hook down", ts))
	open, err := s.ListOpenPayoutFailures(ctx, s.DB, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "b1", open[0].BountyID)

	require.NoError(t, s.BumpPayoutAttempt(ctx, s.DB, open[0].ID, "still down"))
	open, err = s.ListOpenPayoutFailures(ctx, s.DB, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "b2", open[0].BountyID)
	require.Equal(t, 1, open[0].Attempts)
}

func TestSubmissionSequencePerBounty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBounty(t, s, "b1")

	insert := func(id string) {
		seq, err := s.NextSubmissionSeq(ctx, s.DB, "b1")
		require.NoError(t, err)
		reason := "no"
		require.NoError(t, s.InsertSubmission(ctx, s.DB, domain.Submission{
			ID: id, BountyID: "b1", Seq: seq, DeveloperID: "d1", PRURL: "https://x/pr/" + id,
			Status: domain.SubmissionRejected, RejectionReason: &reason, CreatedAt: ts, UpdatedAt: ts,
		}))
	}
	// Identical timestamps; ids sort opposite to submission order.
	insert("z-first")
	insert("a-second")

	latest, err := s.LatestSubmission(ctx, s.DB, "b1")
	require.NoError(t, err)
	require.Equal(t, "a-second", latest.ID)
	require.Equal(t, 2, latest.Seq)

	subs, err := s.ListSubmissions(ctx, s.DB, "b1")
	require.NoError(t, err)
	require.Equal(t, "z-first", subs[0].ID)

	reason := "no"
	err = s.InsertSubmission(ctx, s.DB, domain.Submission{
		ID: "dup", BountyID: "b1", Seq: 2, DeveloperID: "d1", PRURL: "https://x/pr/dup",
		Status: domain.SubmissionRejected, RejectionReason: &reason, CreatedAt: ts, UpdatedAt: ts,
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.LatestSubmission(ctx, s.DB, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
