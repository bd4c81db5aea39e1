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

// SubmitWork creates a pending submission and moves the bounty from assigned
// to in_review in the same transaction. The bounty status is checked before
// the assignee guard, so submitting to a bounty that is not assigned is
// always an invalid state.
func (e Engine) SubmitWork(ctx context.Context, p auth.Principal, req SubmitWorkRequest) (s domain.Submission, err error) {
	defer e.observe(OpSubmitWork, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return s, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, req.BountyID)
	if err != nil {
		return s, err
	}
	if b.Status != domain.BountyAssigned {
		return s, stateErr("bounty", b.ID, b.Status, "submit work")
	}
	if err := auth.RequireAssignee(p, b, "submit work"); err != nil {
		return s, err
	}
	now := e.timestamp()
	s = domain.Submission{
		ID:          uuid.NewString(),
		BountyID:    b.ID,
		DeveloperID: p.ID,
		PRURL:       req.PRURL,
		Links:       domain.StringList(req.Links),
		Notes:       req.Notes,
		Status:      domain.SubmissionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BountyAssigned {
			return stateErr("bounty", cur.ID, cur.Status, "submit work")
		}
		if !auth.IsAssignee(p, cur) {
			return auth.ForbiddenError{Action: "submit work", Relation: "bounty assignee"}
		}
		if s.Seq, err = e.Store.NextSubmissionSeq(ctx, tx, cur.ID); err != nil {
			return err
		}
		if err := e.Store.InsertSubmission(ctx, tx, s); err != nil {
			return err
		}
		if _, err := e.moveBounty(ctx, tx, cur, domain.BountyInReview, cur.AssigneeID, "submit work"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.SubmissionCreated, EntityKind: "submission", EntityID: s.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"pr_url": s.PRURL},
		})
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// ApproveSubmission approves a pending submission and completes its bounty.
// The payout trigger fires only after the transaction commits.
func (e Engine) ApproveSubmission(ctx context.Context, p auth.Principal, req ApproveSubmissionRequest) (s domain.Submission, err error) {
	defer e.observe(OpApproveSubmission, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return s, err
	}
	s, b, err := e.loadSubmission(ctx, req.SubmissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := auth.RequireCreator(p, b, "approve submission"); err != nil {
		return domain.Submission{}, err
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetSubmission(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.SubmissionPending {
			return stateErr("submission", cur.ID, cur.Status, "approve submission")
		}
		bounty, err := e.Store.GetBounty(ctx, tx, cur.BountyID)
		if err != nil {
			return err
		}
		if s, err = e.moveSubmission(ctx, tx, cur, domain.SubmissionApproved, nil, "approve submission"); err != nil {
			return err
		}
		if b, err = e.moveBounty(ctx, tx, bounty, domain.BountyCompleted, bounty.AssigneeID, "approve submission"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.SubmissionApproved, EntityKind: "submission", EntityID: s.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"bounty_status": b.Status},
		})
	})
	if err != nil {
		return domain.Submission{}, err
	}
	e.firePayout(ctx, b)
	return s, nil
}

// RejectSubmission rejects a pending submission with a reason and hands the
// bounty back to its assignee.
func (e Engine) RejectSubmission(ctx context.Context, p auth.Principal, req RejectSubmissionRequest) (s domain.Submission, err error) {
	defer e.observe(OpRejectSubmission, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return s, err
	}
	s, b, err := e.loadSubmission(ctx, req.SubmissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := auth.RequireCreator(p, b, "reject submission"); err != nil {
		return domain.Submission{}, err
	}
	reason := req.Reason
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetSubmission(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.SubmissionPending {
			return stateErr("submission", cur.ID, cur.Status, "reject submission")
		}
		bounty, err := e.Store.GetBounty(ctx, tx, cur.BountyID)
		if err != nil {
			return err
		}
		if s, err = e.moveSubmission(ctx, tx, cur, domain.SubmissionRejected, &reason, "reject submission"); err != nil {
			return err
		}
		if _, err := e.moveBounty(ctx, tx, bounty, domain.BountyAssigned, bounty.AssigneeID, "reject submission"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.SubmissionRejected, EntityKind: "submission", EntityID: s.ID, BountyID: s.BountyID, ActorID: p.ID,
			Payload: events.Payload{"rejection_reason": reason},
		})
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// GetSubmission is readable by its developer and by the bounty creator.
func (e Engine) GetSubmission(ctx context.Context, p auth.Principal, id string) (domain.Submission, error) {
	if err := requireID("submission_id", id); err != nil {
		return domain.Submission{}, err
	}
	s, b, err := e.loadSubmission(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := auth.RequireViewSubmission(p, s, b); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

func (e Engine) loadSubmission(ctx context.Context, id string) (domain.Submission, domain.Bounty, error) {
	s, err := e.Store.GetSubmission(ctx, e.Store.DB, id)
	if err != nil {
		return s, domain.Bounty{}, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, s.BountyID)
	return s, b, err
}
