package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/events"
)

// OpenDispute appeals a rejected submission. The submission must be the
// latest one of a bounty still assigned to its developer; the bounty moves
// back to in_review until the creator resolves the dispute.
func (e Engine) OpenDispute(ctx context.Context, p auth.Principal, req OpenDisputeRequest) (d domain.Dispute, err error) {
	defer e.observe(OpOpenDispute, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return d, err
	}
	s, err := e.Store.GetSubmission(ctx, e.Store.DB, req.SubmissionID)
	if err != nil {
		return d, err
	}
	if err := auth.RequireSubmissionOwner(p, s, "open dispute"); err != nil {
		return d, err
	}
	now := e.timestamp()
	d = domain.Dispute{
		ID:           uuid.NewString(),
		SubmissionID: s.ID,
		BountyID:     s.BountyID,
		RaisedBy:     p.ID,
		Reason:       req.Reason,
		Evidence:     domain.StringList(req.Evidence),
		Status:       domain.DisputeOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetSubmission(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.SubmissionRejected {
			return stateErr("submission", cur.ID, cur.Status, "open dispute")
		}
		// A submission is disputed at most once. A retry after the first
		// dispute closed is a conflict, so the insert runs before the bounty
		// checks below.
		if err := e.Store.InsertDispute(ctx, tx, d); err != nil {
			return err
		}
		b, err := e.Store.GetBounty(ctx, tx, cur.BountyID)
		if err != nil {
			return err
		}
		if b.Status != domain.BountyAssigned || !auth.IsAssignee(p, b) {
			return stateErr("bounty", b.ID, b.Status, "open dispute")
		}
		last, err := e.Store.LatestSubmission(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if last.ID != cur.ID {
			return stateErr("submission", cur.ID, "superseded", "open dispute")
		}
		if _, err := e.moveBounty(ctx, tx, b, domain.BountyInReview, b.AssigneeID, "open dispute"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.DisputeOpened, EntityKind: "dispute", EntityID: d.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"submission_id": cur.ID, "reason": d.Reason},
		})
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	return d, nil
}

// ResolveDispute closes an open dispute with a binding resolution.
// resolved_developer approves the submission and completes the bounty, then
// fires the payout. resolved_creator dismisses the dispute, leaves the
// submission rejected, and reopens the bounty without an assignee.
func (e Engine) ResolveDispute(ctx context.Context, p auth.Principal, req ResolveDisputeRequest) (d domain.Dispute, err error) {
	defer e.observe(OpResolveDispute, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return d, err
	}
	d, err = e.Store.GetDispute(ctx, e.Store.DB, req.DisputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, d.BountyID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := auth.RequireCreator(p, b, "resolve dispute"); err != nil {
		return domain.Dispute{}, err
	}
	to := domain.DisputeDismissed
	if req.Resolution == domain.ResolvedDeveloper {
		to = domain.DisputeResolved
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetDispute(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if err := ensureDisputeOpen(cur, "resolve dispute"); err != nil {
			return err
		}
		sub, err := e.Store.GetSubmission(ctx, tx, cur.SubmissionID)
		if err != nil {
			return err
		}
		if sub.Status != domain.SubmissionRejected {
			return stateErr("submission", sub.ID, sub.Status, "resolve dispute")
		}
		bounty, err := e.Store.GetBounty(ctx, tx, cur.BountyID)
		if err != nil {
			return err
		}
		if bounty.Status != domain.BountyInReview {
			return stateErr("bounty", bounty.ID, bounty.Status, "resolve dispute")
		}
		now := e.timestamp()
		ok, err := e.Store.CloseDispute(ctx, tx, cur.ID, to, req.Resolution, p.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return stateErr("dispute", cur.ID, "closed", "resolve dispute")
		}
		evt := events.DisputeDismissed
		if req.Resolution == domain.ResolvedDeveloper {
			evt = events.DisputeResolved
			if _, err := e.moveSubmission(ctx, tx, sub, domain.SubmissionApproved, nil, "resolve dispute"); err != nil {
				return err
			}
			if b, err = e.moveBounty(ctx, tx, bounty, domain.BountyCompleted, bounty.AssigneeID, "resolve dispute"); err != nil {
				return err
			}
		} else {
			if b, err = e.moveBounty(ctx, tx, bounty, domain.BountyOpen, nil, "resolve dispute"); err != nil {
				return err
			}
		}
		resolution := req.Resolution
		resolvedBy := p.ID
		d = cur
		d.Status = to
		d.Resolution = &resolution
		d.ResolvedBy = &resolvedBy
		d.ResolvedAt = &now
		d.UpdatedAt = now
		return e.appendEvent(ctx, tx, events.Entry{
			Type: evt, EntityKind: "dispute", EntityID: d.ID, BountyID: d.BountyID, ActorID: p.ID,
			Payload: events.Payload{"resolution": resolution, "submission_id": sub.ID, "bounty_status": b.Status},
		})
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	if req.Resolution == domain.ResolvedDeveloper {
		e.firePayout(ctx, b)
	}
	return d, nil
}

// GetDispute is readable by the developer who raised it and by the bounty
// creator.
func (e Engine) GetDispute(ctx context.Context, p auth.Principal, id string) (domain.Dispute, error) {
	if err := requireID("dispute_id", id); err != nil {
		return domain.Dispute{}, err
	}
	d, err := e.Store.GetDispute(ctx, e.Store.DB, id)
	if err != nil {
		return domain.Dispute{}, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, d.BountyID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if p.ID != d.RaisedBy && !auth.IsCreator(p, b) {
		return domain.Dispute{}, auth.ForbiddenError{Action: "view dispute", Relation: "dispute raiser or bounty creator"}
	}
	return d, nil
}
