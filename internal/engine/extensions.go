package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/events"
)

// RequestExtension asks the creator to push back the deadline of a bounty the
// principal is assigned to. Only one request per (bounty, developer) may be
// pending at a time.
func (e Engine) RequestExtension(ctx context.Context, p auth.Principal, req RequestExtensionRequest) (x domain.ExtensionRequest, err error) {
	defer e.observe(OpRequestExtension, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return x, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, req.BountyID)
	if err != nil {
		return x, err
	}
	if err := auth.RequireAssignee(p, b, "request extension"); err != nil {
		return x, err
	}
	deadline := storedTime(req.NewDeadline)
	if err := e.checkNewDeadline(b, deadline); err != nil {
		return x, err
	}
	now := e.timestamp()
	x = domain.ExtensionRequest{
		ID:                uuid.NewString(),
		BountyID:          b.ID,
		DeveloperID:       p.ID,
		RequestedDeadline: deadline.Format(time.RFC3339),
		Reason:            req.Reason,
		Status:            domain.ExtensionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BountyAssigned && cur.Status != domain.BountyInReview {
			return stateErr("bounty", cur.ID, cur.Status, "request extension")
		}
		if !auth.IsAssignee(p, cur) {
			return auth.ForbiddenError{Action: "request extension", Relation: "bounty assignee"}
		}
		if err := e.Store.InsertExtensionRequest(ctx, tx, x); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.ExtensionRequested, EntityKind: "extension_request", EntityID: x.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"requested_deadline": x.RequestedDeadline},
		})
	})
	if err != nil {
		return domain.ExtensionRequest{}, err
	}
	return x, nil
}

// DecideExtension approves or rejects a pending extension request. Approval
// moves the bounty deadline in the same transaction.
func (e Engine) DecideExtension(ctx context.Context, p auth.Principal, req DecideExtensionRequest) (x domain.ExtensionRequest, err error) {
	defer e.observe(OpDecideExtension, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return x, err
	}
	x, err = e.Store.GetExtensionRequest(ctx, e.Store.DB, req.ExtensionID)
	if err != nil {
		return domain.ExtensionRequest{}, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, x.BountyID)
	if err != nil {
		return domain.ExtensionRequest{}, err
	}
	if err := auth.RequireCreator(p, b, "decide extension"); err != nil {
		return domain.ExtensionRequest{}, err
	}
	to, evt := domain.ExtensionRejected, events.ExtensionRejected
	if req.Approve {
		to, evt = domain.ExtensionApproved, events.ExtensionApproved
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetExtensionRequest(ctx, tx, x.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.ExtensionPending {
			return stateErr("extension request", cur.ID, cur.Status, "decide extension")
		}
		now := e.timestamp()
		if req.Approve {
			bounty, err := e.Store.GetBounty(ctx, tx, cur.BountyID)
			if err != nil {
				return err
			}
			if !laterThan(cur.RequestedDeadline, bounty.Deadline) {
				return stateErr("extension request", cur.ID, "outdated", "decide extension")
			}
			ok, err := e.Store.ExtendDeadline(ctx, tx, bounty.ID, cur.RequestedDeadline, now, domain.BountyAssigned, domain.BountyInReview)
			if err != nil {
				return err
			}
			if !ok {
				return stateErr("bounty", bounty.ID, bounty.Status, "extend deadline")
			}
		}
		ok, err := e.Store.DecideExtensionRequest(ctx, tx, cur.ID, to, p.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return stateErr("extension request", cur.ID, "decided", "decide extension")
		}
		decidedBy := p.ID
		x = cur
		x.Status = to
		x.DecidedBy = &decidedBy
		x.UpdatedAt = now
		return e.appendEvent(ctx, tx, events.Entry{
			Type: evt, EntityKind: "extension_request", EntityID: x.ID, BountyID: x.BountyID, ActorID: p.ID,
			Payload: events.Payload{"requested_deadline": x.RequestedDeadline},
		})
	})
	if err != nil {
		return domain.ExtensionRequest{}, err
	}
	return x, nil
}

// checkNewDeadline requires a deadline strictly after both now and the
// current deadline, and within the configured extension window.
func (e Engine) checkNewDeadline(b domain.Bounty, newDeadline time.Time) error {
	if !newDeadline.After(e.now()) {
		return fieldErr("new_deadline", "must be in the future")
	}
	current, err := time.Parse(time.RFC3339, b.Deadline)
	if err != nil {
		return fmt.Errorf("%w: bounty %s has unparseable deadline %q", domain.ErrStorage, b.ID, b.Deadline)
	}
	if !newDeadline.After(current) {
		return fieldErr("new_deadline", "must be after the current deadline")
	}
	if days := e.Rules.MaxExtensionDays; days > 0 && newDeadline.Sub(current) > time.Duration(days)*24*time.Hour {
		return fieldErr("new_deadline", fmt.Sprintf("must be within %d days of the current deadline", days))
	}
	return nil
}

func laterThan(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	return errA == nil && errB == nil && ta.After(tb)
}
