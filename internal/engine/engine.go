// Package engine is the bounty lifecycle transition engine. Every operation
// validates its request, loads the entities it touches, runs the
// authorization guards, and then applies the transition inside one store
// transaction that re-reads and compare-and-sets the current statuses.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/payout"
	"bountyline/internal/store"
)

// Engine holds no entity state; it is safe for concurrent use once built.
type Engine struct {
	Store   *store.Store
	Events  events.Writer
	Payout  payout.Trigger
	Rules   config.Lifecycle
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// PayoutTimeout bounds the post-commit payout call. Zero means
	// defaultPayoutTimeout.
	PayoutTimeout time.Duration
}

const defaultPayoutTimeout = 10 * time.Second

func New(st *store.Store, trigger payout.Trigger, rules config.Lifecycle, log logrus.FieldLogger, m *metrics.Metrics) Engine {
	if log == nil {
		log = logging.Discard()
	}
	return Engine{
		Store:   st,
		Payout:  trigger,
		Rules:   rules,
		Log:     log,
		Metrics: m,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// storedTime truncates t to the whole-second precision timestamps are
// persisted with. Comparisons against stored values run on the truncated time.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (e Engine) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logging.Discard()
	}
	return e.Log
}

// StateError reports an entity whose current status does not permit the
// requested transition.
type StateError struct {
	Entity string
	ID     string
	Status string
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: %s %s is %s", e.Action, e.Entity, e.ID, e.Status)
}

func (e *StateError) Unwrap() error { return domain.ErrInvalidState }

func stateErr(entity, id string, status any, action string) error {
	return &StateError{Entity: entity, ID: id, Status: fmt.Sprint(status), Action: action}
}

// FieldError reports a malformed or missing request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return domain.ErrValidation }

func fieldErr(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

func ensureBountyTransition(b domain.Bounty, to domain.BountyStatus, action string) error {
	switch b.Status {
	case domain.BountyOpen:
		if to == domain.BountyAssigned || to == domain.BountyCancelled {
			return nil
		}
	case domain.BountyAssigned:
		if to == domain.BountyInReview {
			return nil
		}
	case domain.BountyInReview:
		if to == domain.BountyCompleted || to == domain.BountyAssigned || to == domain.BountyOpen {
			return nil
		}
	}
	return stateErr("bounty", b.ID, b.Status, action)
}

func ensureSubmissionTransition(s domain.Submission, to domain.SubmissionStatus, action string) error {
	switch s.Status {
	case domain.SubmissionPending:
		if to == domain.SubmissionApproved || to == domain.SubmissionRejected {
			return nil
		}
	case domain.SubmissionRejected:
		// Only reachable through a dispute resolved for the developer.
		if to == domain.SubmissionApproved {
			return nil
		}
	}
	return stateErr("submission", s.ID, s.Status, action)
}

func ensureDisputeOpen(d domain.Dispute, action string) error {
	if d.Status != domain.DisputeOpen {
		return stateErr("dispute", d.ID, d.Status, action)
	}
	return nil
}

// moveBounty compare-and-sets a bounty's status and assignee. When the row
// changed underneath, the current status is reloaded for the error.
func (e Engine) moveBounty(ctx context.Context, tx *sqlx.Tx, b domain.Bounty, to domain.BountyStatus, assignee *string, action string) (domain.Bounty, error) {
	if err := ensureBountyTransition(b, to, action); err != nil {
		return b, err
	}
	now := e.timestamp()
	ok, err := e.Store.TransitionBounty(ctx, tx, b.ID, b.Status, to, assignee, now)
	if err != nil {
		return b, err
	}
	if !ok {
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return b, err
		}
		return b, stateErr("bounty", b.ID, cur.Status, action)
	}
	b.Status = to
	b.AssigneeID = assignee
	b.UpdatedAt = now
	return b, nil
}

func (e Engine) moveSubmission(ctx context.Context, tx *sqlx.Tx, s domain.Submission, to domain.SubmissionStatus, reason *string, action string) (domain.Submission, error) {
	if err := ensureSubmissionTransition(s, to, action); err != nil {
		return s, err
	}
	now := e.timestamp()
	ok, err := e.Store.TransitionSubmission(ctx, tx, s.ID, s.Status, to, reason, now)
	if err != nil {
		return s, err
	}
	if !ok {
		cur, err := e.Store.GetSubmission(ctx, tx, s.ID)
		if err != nil {
			return s, err
		}
		return s, stateErr("submission", s.ID, cur.Status, action)
	}
	s.Status = to
	if reason != nil {
		s.RejectionReason = reason
	}
	s.UpdatedAt = now
	return s, nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sqlx.Tx, entry events.Entry) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("append %s event: %w", entry.Type, err)
	}
	return nil
}

// observe records the outcome of one operation. It is deferred with a pointer
// to the operation's named error result.
func (e Engine) observe(op Operation, started time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = string(domain.KindOf(err))
		fields := logrus.Fields{"operation": op, "kind": outcome}
		if domain.KindOf(err) == domain.KindStorage {
			e.logger().WithFields(fields).WithError(err).Error("lifecycle operation failed")
		} else {
			e.logger().WithFields(fields).WithError(err).Debug("lifecycle operation refused")
		}
	}
	e.Metrics.ObserveTransition(string(op), outcome, time.Since(started))
}

// firePayout runs after the completing transaction has committed. A failing
// trigger is logged and recorded for reconciliation; it never surfaces to the
// caller.
func (e Engine) firePayout(ctx context.Context, b domain.Bounty) {
	if e.Payout == nil || b.AssigneeID == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	payee := *b.AssigneeID
	log := e.logger().WithFields(logrus.Fields{"bounty_id": b.ID, "payee_id": payee, "amount": b.Amount})
	timeout := e.PayoutTimeout
	if timeout <= 0 {
		timeout = defaultPayoutTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	err := e.Payout.OnBountyCompleted(tctx, b.ID, payee, b.Amount)
	cancel()
	if err == nil {
		e.Metrics.ObservePayout("ok")
		return
	}
	e.Metrics.ObservePayout("failed")
	log.WithError(err).Error("payout trigger failed; left for reconciliation")
	recErr := e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Store.RecordPayoutFailure(ctx, tx, b.ID, payee, b.Amount, err.Error(), e.timestamp()); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.PayoutFailed, EntityKind: "bounty", EntityID: b.ID, BountyID: b.ID, ActorID: "system",
			Payload: events.Payload{"payee_id": payee, "amount": b.Amount, "error": err.Error()},
		})
	})
	if recErr != nil {
		log.WithError(recErr).Error("record payout failure")
	}
}
