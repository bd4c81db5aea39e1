package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/engine/auth"
	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/migrate"
	"bountyline/internal/payout"
	"bountyline/internal/store"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	creator   = auth.Principal{ID: "C1"}
	developer = auth.Principal{ID: "D1"}
	other     = auth.Principal{ID: "D2"}
)

type payoutCall struct {
	BountyID string
	PayeeID  string
	Amount   int64
}

type payoutRecorder struct {
	mu    sync.Mutex
	calls []payoutCall
	err   error
}

func (r *payoutRecorder) OnBountyCompleted(_ context.Context, bountyID, payeeID string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payoutCall{bountyID, payeeID, amount})
	return r.err
}

func (r *payoutRecorder) Calls() []payoutCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payoutCall(nil), r.calls...)
}

type testEnv struct {
	Engine engine.Engine
	Store  *store.Store
	Payout *payoutRecorder
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	st := store.New(conn, 2*time.Second)
	rec := &payoutRecorder{}
	eng := engine.New(st, rec, config.Lifecycle{MinPitchLength: 3, MaxExtensionDays: 30}, logging.Discard(), metrics.New(prometheus.NewRegistry()))
	eng.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: eng, Store: st, Payout: rec, Ctx: context.Background()}
}

func (env testEnv) createBounty(t *testing.T) domain.Bounty {
	t.Helper()
	b, err := env.Engine.CreateBounty(env.Ctx, creator, engine.CreateBountyRequest{
		Title:    "Fix flaky test",
		Amount:   500,
		Deadline: fixedNow.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return b
}

func (env testEnv) assignedBounty(t *testing.T) domain.Bounty {
	t.Helper()
	b := env.createBounty(t)
	app, err := env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: b.ID, Pitch: "I wrote that test", EstimatedHours: 2})
	require.NoError(t, err)
	b, err = env.Engine.AcceptApplication(env.Ctx, creator, engine.AcceptApplicationRequest{ApplicationID: app.ID})
	require.NoError(t, err)
	return b
}

func (env testEnv) submitted(t *testing.T) (domain.Bounty, domain.Submission) {
	t.Helper()
	b := env.assignedBounty(t)
	s, err := env.Engine.SubmitWork(env.Ctx, developer, engine.SubmitWorkRequest{BountyID: b.ID, PRURL: "https://x/pr/1"})
	require.NoError(t, err)
	return b, s
}

func (env testEnv) disputed(t *testing.T) (domain.Bounty, domain.Submission, domain.Dispute) {
	t.Helper()
	b, s := env.submitted(t)
	_, err := env.Engine.RejectSubmission(env.Ctx, creator, engine.RejectSubmissionRequest{SubmissionID: s.ID, Reason: "needs tests"})
	require.NoError(t, err)
	d, err := env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: s.ID, Reason: "tests exist"})
	require.NoError(t, err)
	return b, s, d
}

func (env testEnv) bounty(t *testing.T, id string) domain.Bounty {
	t.Helper()
	b, err := env.Engine.GetBounty(env.Ctx, id)
	require.NoError(t, err)
	requireAssigneeInvariant(t, b)
	return b
}

func (env testEnv) submission(t *testing.T, id string) domain.Submission {
	t.Helper()
	s, err := env.Store.GetSubmission(env.Ctx, env.Store.DB, id)
	require.NoError(t, err)
	return s
}

func requireAssigneeInvariant(t *testing.T, b domain.Bounty) {
	t.Helper()
	require.Equal(t, b.Status.HasAssignee(), b.AssigneeID != nil, "bounty %s status %s assignee %v", b.ID, b.Status, b.AssigneeID)
}

func TestLifecycleScenarioDisputeResolvedForDeveloper(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	b1 := env.createBounty(t)
	require.Equal(t, domain.BountyOpen, b1.Status)
	require.Equal(t, "C1", b1.CreatorID)
	require.Equal(t, "USDC", b1.Currency)

	app, err := env.Engine.Apply(ctx, developer, engine.ApplyRequest{BountyID: b1.ID, Pitch: "I can fix it", EstimatedHours: 4})
	require.NoError(t, err)
	require.Equal(t, domain.ApplicationPending, app.Status)

	b1, err = env.Engine.AcceptApplication(ctx, creator, engine.AcceptApplicationRequest{ApplicationID: app.ID})
	require.NoError(t, err)
	require.Equal(t, domain.BountyAssigned, b1.Status)
	require.Equal(t, "D1", *b1.AssigneeID)

	sub, err := env.Engine.SubmitWork(ctx, developer, engine.SubmitWorkRequest{BountyID: b1.ID, PRURL: "https://x/pr/1"})
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionPending, sub.Status)
	require.Equal(t, domain.BountyInReview, env.bounty(t, b1.ID).Status)

	sub, err = env.Engine.RejectSubmission(ctx, creator, engine.RejectSubmissionRequest{SubmissionID: sub.ID, Reason: "needs tests"})
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionRejected, sub.Status)
	require.Equal(t, "needs tests", *sub.RejectionReason)
	require.Equal(t, domain.BountyAssigned, env.bounty(t, b1.ID).Status)

	d, err := env.Engine.OpenDispute(ctx, developer, engine.OpenDisputeRequest{SubmissionID: sub.ID, Reason: "tests exist"})
	require.NoError(t, err)
	require.Equal(t, domain.DisputeOpen, d.Status)
	require.Equal(t, domain.BountyInReview, env.bounty(t, b1.ID).Status)

	d, err = env.Engine.ResolveDispute(ctx, creator, engine.ResolveDisputeRequest{DisputeID: d.ID, Resolution: domain.ResolvedDeveloper})
	require.NoError(t, err)
	require.Equal(t, domain.DisputeResolved, d.Status)
	require.Equal(t, domain.ResolvedDeveloper, *d.Resolution)

	require.Equal(t, domain.SubmissionApproved, env.submission(t, sub.ID).Status)
	final := env.bounty(t, b1.ID)
	want := domain.Bounty{
		CreatorID:  "C1",
		AssigneeID: &developer.ID,
		Title:      "Fix flaky test",
		Amount:     500,
		Currency:   "USDC",
		Status:     domain.BountyCompleted,
		Deadline:   "2024-01-08T00:00:00Z",
	}
	if diff := cmp.Diff(want, final, cmpopts.IgnoreFields(domain.Bounty{}, "ID", "CreatedAt", "UpdatedAt")); diff != "" {
		t.Fatalf("final bounty mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []payoutCall{{BountyID: b1.ID, PayeeID: "D1", Amount: 500}}, env.Payout.Calls())

	history, err := env.Engine.History(ctx, creator, b1.ID)
	require.NoError(t, err)
	var types []string
	for _, evt := range history {
		types = append(types, evt.Type)
	}
	wantTypes := []string{
		"bounty.created", "application.created", "bounty.assigned", "submission.created",
		"submission.rejected", "dispute.opened", "dispute.resolved",
	}
	if diff := cmp.Diff(wantTypes, types); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvedForCreatorReopensBounty(t *testing.T) {
	env := newTestEnv(t)
	b, s, d := env.disputed(t)

	d, err := env.Engine.ResolveDispute(env.Ctx, creator, engine.ResolveDisputeRequest{DisputeID: d.ID, Resolution: domain.ResolvedCreator})
	require.NoError(t, err)
	require.Equal(t, domain.DisputeDismissed, d.Status)

	got := env.bounty(t, b.ID)
	require.Equal(t, domain.BountyOpen, got.Status)
	require.Nil(t, got.AssigneeID)
	require.Equal(t, domain.SubmissionRejected, env.submission(t, s.ID).Status)
	require.Empty(t, env.Payout.Calls())
}

func TestResolveClosedDisputeIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	_, _, d := env.disputed(t)

	_, err := env.Engine.ResolveDispute(env.Ctx, creator, engine.ResolveDisputeRequest{DisputeID: d.ID, Resolution: domain.ResolvedDeveloper})
	require.NoError(t, err)
	_, err = env.Engine.ResolveDispute(env.Ctx, creator, engine.ResolveDisputeRequest{DisputeID: d.ID, Resolution: domain.ResolvedCreator})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	var se *engine.StateError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "dispute", se.Entity)
	require.Len(t, env.Payout.Calls(), 1)
}

func TestResolveRollsBackOnMidTransactionFailure(t *testing.T) {
	env := newTestEnv(t)
	b, s, d := env.disputed(t)

	// The event append is the last write of the transaction.
	_, err := env.Store.DB.Exec(`DROP TABLE events`)
	require.NoError(t, err)

	_, err = env.Engine.ResolveDispute(env.Ctx, creator, engine.ResolveDisputeRequest{DisputeID: d.ID, Resolution: domain.ResolvedDeveloper})
	require.ErrorIs(t, err, domain.ErrStorage)

	require.Equal(t, domain.SubmissionRejected, env.submission(t, s.ID).Status)
	got := env.bounty(t, b.ID)
	require.Equal(t, domain.BountyInReview, got.Status)
	stored, err := env.Store.GetDispute(env.Ctx, env.Store.DB, d.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeOpen, stored.Status)
	require.Nil(t, stored.Resolution)
	require.Empty(t, env.Payout.Calls())
}

func TestSubmitWorkRequiresAssignedBounty(t *testing.T) {
	env := newTestEnv(t)
	open := env.createBounty(t)

	_, err := env.Engine.SubmitWork(env.Ctx, developer, engine.SubmitWorkRequest{BountyID: open.ID, PRURL: "https://x/pr/1"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	b, _ := env.submitted(t)
	_, err = env.Engine.SubmitWork(env.Ctx, developer, engine.SubmitWorkRequest{BountyID: b.ID, PRURL: "https://x/pr/2"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	subs, err := env.Store.ListSubmissions(env.Ctx, env.Store.DB, open.ID)
	require.NoError(t, err)
	require.Empty(t, subs)
	subs, err = env.Store.ListSubmissions(env.Ctx, env.Store.DB, b.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestSubmitWorkByNonAssigneeIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	b := env.assignedBounty(t)
	_, err := env.Engine.SubmitWork(env.Ctx, other, engine.SubmitWorkRequest{BountyID: b.ID, PRURL: "https://x/pr/1"})
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.Equal(t, domain.BountyAssigned, env.bounty(t, b.ID).Status)
}

func TestConcurrentApplyExactlyOneSucceeds(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t)

	const n = 2
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: b.ID, Pitch: "pick me", EstimatedHours: 1})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)

	apps, err := env.Engine.ListApplications(env.Ctx, creator, b.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
}

func TestDuplicateApplyIsConflict(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t)
	_, err := env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: b.ID, Pitch: "first", EstimatedHours: 1})
	require.NoError(t, err)
	_, err = env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: b.ID, Pitch: "second", EstimatedHours: 1})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestConcurrentApproveAndRejectOneWins(t *testing.T) {
	env := newTestEnv(t)
	b, s := env.submitted(t)

	var approveErr, rejectErr error
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, approveErr = env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	}()
	go func() {
		defer wg.Done()
		<-start
		_, rejectErr = env.Engine.RejectSubmission(env.Ctx, creator, engine.RejectSubmissionRequest{SubmissionID: s.ID, Reason: "no"})
	}()
	close(start)
	wg.Wait()

	require.True(t, (approveErr == nil) != (rejectErr == nil), "approve=%v reject=%v", approveErr, rejectErr)
	got := env.bounty(t, b.ID)
	stored := env.submission(t, s.ID)
	if approveErr == nil {
		require.ErrorIs(t, rejectErr, domain.ErrInvalidState)
		require.Equal(t, domain.SubmissionApproved, stored.Status)
		require.Equal(t, domain.BountyCompleted, got.Status)
		require.Len(t, env.Payout.Calls(), 1)
	} else {
		require.ErrorIs(t, approveErr, domain.ErrInvalidState)
		require.Equal(t, domain.SubmissionRejected, stored.Status)
		require.Equal(t, domain.BountyAssigned, got.Status)
		require.Empty(t, env.Payout.Calls())
	}
}

func TestSecondApproveIsInvalidStateAndPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	b, s := env.submitted(t)

	approved, err := env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionApproved, approved.Status)
	require.Equal(t, domain.BountyCompleted, env.bounty(t, b.ID).Status)

	_, err = env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.Equal(t, []payoutCall{{BountyID: b.ID, PayeeID: "D1", Amount: 500}}, env.Payout.Calls())
}

func TestOpenDisputeRequiresRejectedSubmission(t *testing.T) {
	env := newTestEnv(t)
	_, s := env.submitted(t)

	_, err := env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: s.ID, Reason: "unfair"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	require.NoError(t, err)
	_, err = env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: s.ID, Reason: "unfair"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	disputes, err := env.Store.ListDisputes(env.Ctx, env.Store.DB, s.BountyID)
	require.NoError(t, err)
	require.Empty(t, disputes)
}

func TestSecondOpenDisputeIsConflict(t *testing.T) {
	env := newTestEnv(t)
	_, s, _ := env.disputed(t)
	_, err := env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: s.ID, Reason: "again"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestOpenDisputeOnlyBySubmitter(t *testing.T) {
	env := newTestEnv(t)
	_, s := env.submitted(t)
	_, err := env.Engine.RejectSubmission(env.Ctx, creator, engine.RejectSubmissionRequest{SubmissionID: s.ID, Reason: "needs tests"})
	require.NoError(t, err)
	_, err = env.Engine.OpenDispute(env.Ctx, creator, engine.OpenDisputeRequest{SubmissionID: s.ID, Reason: "x"})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestGuardsRejectWrongPrincipal(t *testing.T) {
	env := newTestEnv(t)
	b, s := env.submitted(t)

	_, err := env.Engine.Apply(env.Ctx, creator, engine.ApplyRequest{BountyID: b.ID, Pitch: "my own", EstimatedHours: 1})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.ApproveSubmission(env.Ctx, developer, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.GetSubmission(env.Ctx, other, s.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	got, err := env.Engine.GetSubmission(env.Ctx, creator, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	got, err = env.Engine.GetSubmission(env.Ctx, developer, s.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionPending, got.Status)

	require.Equal(t, domain.SubmissionPending, env.submission(t, s.ID).Status)
}

func TestValidationRunsBeforeGuards(t *testing.T) {
	env := newTestEnv(t)
	_, s := env.submitted(t)

	_, err := env.Engine.RejectSubmission(env.Ctx, other, engine.RejectSubmissionRequest{SubmissionID: s.ID, Reason: "  "})
	require.ErrorIs(t, err, domain.ErrValidation)
	var fe *engine.FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "rejection_reason", fe.Field)

	_, err = env.Engine.ResolveDispute(env.Ctx, other, engine.ResolveDisputeRequest{DisputeID: "d", Resolution: "split"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.SubmitWork(env.Ctx, other, engine.SubmitWorkRequest{BountyID: "b", PRURL: "not a url"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.Apply(env.Ctx, other, engine.ApplyRequest{BountyID: "b", Pitch: "hi", EstimatedHours: 1})
	require.ErrorIs(t, err, domain.ErrValidation, "pitch below minimum length")
}

func TestMissingEntitiesAreNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.ResolveDispute(env.Ctx, creator, engine.ResolveDisputeRequest{DisputeID: "missing", Resolution: domain.ResolvedCreator})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: "missing", Pitch: "long enough", EstimatedHours: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptApplicationOncePerBounty(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t)
	first, err := env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: b.ID, Pitch: "pick me", EstimatedHours: 1})
	require.NoError(t, err)
	second, err := env.Engine.Apply(env.Ctx, other, engine.ApplyRequest{BountyID: b.ID, Pitch: "no, me", EstimatedHours: 1})
	require.NoError(t, err)

	_, err = env.Engine.AcceptApplication(env.Ctx, creator, engine.AcceptApplicationRequest{ApplicationID: first.ID})
	require.NoError(t, err)
	_, err = env.Engine.AcceptApplication(env.Ctx, creator, engine.AcceptApplicationRequest{ApplicationID: second.ID})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	rejected, err := env.Engine.RejectApplication(env.Ctx, creator, engine.RejectApplicationRequest{ApplicationID: second.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ApplicationRejected, rejected.Status)
	_, err = env.Engine.RejectApplication(env.Ctx, creator, engine.RejectApplicationRequest{ApplicationID: second.ID})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	got := env.bounty(t, b.ID)
	require.Equal(t, "D1", *got.AssigneeID)
}

func TestAssignDirectAndCancel(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t)

	_, err := env.Engine.AssignDirect(env.Ctx, creator, engine.AssignRequest{BountyID: b.ID, AssigneeID: "C1"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.AssignDirect(env.Ctx, other, engine.AssignRequest{BountyID: b.ID, AssigneeID: "D2"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	assigned, err := env.Engine.AssignDirect(env.Ctx, creator, engine.AssignRequest{BountyID: b.ID, AssigneeID: "D2"})
	require.NoError(t, err)
	require.Equal(t, domain.BountyAssigned, assigned.Status)
	requireAssigneeInvariant(t, assigned)

	_, err = env.Engine.CancelBounty(env.Ctx, creator, engine.CancelBountyRequest{BountyID: b.ID})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	fresh := env.createBounty(t)
	cancelled, err := env.Engine.CancelBounty(env.Ctx, creator, engine.CancelBountyRequest{BountyID: fresh.ID})
	require.NoError(t, err)
	require.Equal(t, domain.BountyCancelled, cancelled.Status)
	_, err = env.Engine.Apply(env.Ctx, developer, engine.ApplyRequest{BountyID: fresh.ID, Pitch: "too late", EstimatedHours: 1})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExtensionRequests(t *testing.T) {
	env := newTestEnv(t)
	b := env.assignedBounty(t)
	later := fixedNow.Add(14 * 24 * time.Hour)

	_, err := env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: fixedNow.Add(24 * time.Hour)})
	require.ErrorIs(t, err, domain.ErrValidation, "not after current deadline")
	_, err = env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: fixedNow.Add(90 * 24 * time.Hour)})
	require.ErrorIs(t, err, domain.ErrValidation, "beyond the extension window")
	_, err = env.Engine.RequestExtension(env.Ctx, other, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: later})
	require.ErrorIs(t, err, domain.ErrForbidden)

	x, err := env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: later, Reason: "scope grew"})
	require.NoError(t, err)
	require.Equal(t, domain.ExtensionPending, x.Status)
	_, err = env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: later.Add(time.Hour)})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = env.Engine.DecideExtension(env.Ctx, developer, engine.DecideExtensionRequest{ExtensionID: x.ID, Approve: true})
	require.ErrorIs(t, err, domain.ErrForbidden)
	x, err = env.Engine.DecideExtension(env.Ctx, creator, engine.DecideExtensionRequest{ExtensionID: x.ID, Approve: true})
	require.NoError(t, err)
	require.Equal(t, domain.ExtensionApproved, x.Status)
	require.Equal(t, "C1", *x.DecidedBy)
	require.Equal(t, "2024-01-15T00:00:00Z", env.bounty(t, b.ID).Deadline)

	_, err = env.Engine.DecideExtension(env.Ctx, creator, engine.DecideExtensionRequest{ExtensionID: x.ID})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	next, err := env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: later.Add(24 * time.Hour)})
	require.NoError(t, err)
	next, err = env.Engine.DecideExtension(env.Ctx, creator, engine.DecideExtensionRequest{ExtensionID: next.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ExtensionRejected, next.Status)
	require.Equal(t, "2024-01-15T00:00:00Z", env.bounty(t, b.ID).Deadline)
}

func TestPayoutFailureIsRecordedNotReturned(t *testing.T) {
	env := newTestEnv(t)
	env.Payout.err = errors.New("payment service unavailable")
	b, s := env.submitted(t)

	_, err := env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	require.NoError(t, err)
	require.Equal(t, domain.BountyCompleted, env.bounty(t, b.ID).Status)

	failures, err := env.Store.ListOpenPayoutFailures(env.Ctx, env.Store.DB, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, b.ID, failures[0].BountyID)
	require.Equal(t, "D1", failures[0].PayeeID)
	require.Equal(t, int64(500), failures[0].Amount)
	require.Equal(t, "payment service unavailable", failures[0].Error)

	history, err := env.Engine.History(env.Ctx, creator, b.ID)
	require.NoError(t, err)
	require.Equal(t, "payout.failed", history[len(history)-1].Type)
}

func TestExecuteDispatchesRequests(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.Execute(env.Ctx, creator, engine.CreateBountyRequest{Title: "t", Amount: 10, Deadline: fixedNow.Add(time.Hour)})
	require.NoError(t, err)
	b, ok := out.(domain.Bounty)
	require.True(t, ok)

	out, err = env.Engine.Execute(env.Ctx, developer, engine.ApplyRequest{BountyID: b.ID, Pitch: "me please", EstimatedHours: 3})
	require.NoError(t, err)
	app := out.(domain.Application)
	require.Equal(t, engine.OpApply, engine.ApplyRequest{}.Operation())

	out, err = env.Engine.Execute(env.Ctx, creator, engine.AcceptApplicationRequest{ApplicationID: app.ID})
	require.NoError(t, err)
	require.Equal(t, domain.BountyAssigned, out.(domain.Bounty).Status)

	_, err = env.Engine.Execute(env.Ctx, creator, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestExecuteAcceptsRequestPointers(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t)

	out, err := env.Engine.Execute(env.Ctx, developer, &engine.ApplyRequest{BountyID: b.ID, Pitch: "me please", EstimatedHours: 3})
	require.NoError(t, err)
	require.Equal(t, domain.ApplicationPending, out.(domain.Application).Status)

	_, err = env.Engine.Execute(env.Ctx, developer, &engine.ApplyRequest{BountyID: b.ID, Pitch: "me again", EstimatedHours: 3})
	require.ErrorIs(t, err, domain.ErrConflict)

	var missing *engine.CancelBountyRequest
	_, err = env.Engine.Execute(env.Ctx, creator, missing)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestOpenDisputeOnSupersededSubmissionIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		b, first := env.submitted(t)
		_, err := env.Engine.RejectSubmission(env.Ctx, creator, engine.RejectSubmissionRequest{SubmissionID: first.ID, Reason: "needs tests"})
		require.NoError(t, err)
		second, err := env.Engine.SubmitWork(env.Ctx, developer, engine.SubmitWorkRequest{BountyID: b.ID, PRURL: "https://x/pr/2"})
		require.NoError(t, err)
		require.Equal(t, 1, first.Seq)
		require.Equal(t, 2, second.Seq)
		_, err = env.Engine.RejectSubmission(env.Ctx, creator, engine.RejectSubmissionRequest{SubmissionID: second.ID, Reason: "still no tests"})
		require.NoError(t, err)

		_, err = env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: first.ID, Reason: "first one was fine"})
		require.ErrorIs(t, err, domain.ErrInvalidState)
		var se *engine.StateError
		require.ErrorAs(t, err, &se)
		require.Equal(t, "superseded", se.Status)

		d, err := env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: second.ID, Reason: "tests exist"})
		require.NoError(t, err)
		require.Equal(t, second.ID, d.SubmissionID)
	}
}

func TestDisputeAfterDismissalIsConflict(t *testing.T) {
	env := newTestEnv(t)
	b, s, d := env.disputed(t)
	_, err := env.Engine.ResolveDispute(env.Ctx, creator, engine.ResolveDisputeRequest{DisputeID: d.ID, Resolution: domain.ResolvedCreator})
	require.NoError(t, err)

	_, err = env.Engine.OpenDispute(env.Ctx, developer, engine.OpenDisputeRequest{SubmissionID: s.ID, Reason: "try again"})
	require.ErrorIs(t, err, domain.ErrConflict)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.BountyOpen, env.bounty(t, b.ID).Status)
}

func TestExtensionDeadlineUsesStoredPrecision(t *testing.T) {
	env := newTestEnv(t)
	b := env.assignedBounty(t)
	current, err := time.Parse(time.RFC3339, b.Deadline)
	require.NoError(t, err)

	_, err = env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: current.Add(500 * time.Millisecond)})
	require.ErrorIs(t, err, domain.ErrValidation)
	var fe *engine.FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "new_deadline", fe.Field)

	x, err := env.Engine.RequestExtension(env.Ctx, developer, engine.RequestExtensionRequest{BountyID: b.ID, NewDeadline: current.Add(1500 * time.Millisecond)})
	require.NoError(t, err)
	require.Equal(t, "2024-01-08T00:00:01Z", x.RequestedDeadline)
	_, err = env.Engine.DecideExtension(env.Ctx, creator, engine.DecideExtensionRequest{ExtensionID: x.ID, Approve: true})
	require.NoError(t, err)
	require.Equal(t, "2024-01-08T00:00:01Z", env.bounty(t, b.ID).Deadline)
}

func TestSlowPayoutIsBoundedAndRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.PayoutTimeout = 50 * time.Millisecond
	env.Engine.Payout = payout.Func(func(ctx context.Context, _, _ string, _ int64) error {
		<-ctx.Done()
		return ctx.Err()
	})
	b, s := env.submitted(t)

	started := time.Now()
	_, err := env.Engine.ApproveSubmission(env.Ctx, creator, engine.ApproveSubmissionRequest{SubmissionID: s.ID})
	require.NoError(t, err)
	require.Less(t, time.Since(started), 5*time.Second)
	require.Equal(t, domain.BountyCompleted, env.bounty(t, b.ID).Status)

	failures, err := env.Store.ListOpenPayoutFailures(env.Ctx, env.Store.DB, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, context.DeadlineExceeded.Error(), failures[0].Error)
}
