package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/events"
)

// Apply records an application to an open bounty. Duplicate applications by
// the same principal are rejected by the store's uniqueness constraint, which
// also settles concurrent duplicates.
func (e Engine) Apply(ctx context.Context, p auth.Principal, req ApplyRequest) (a domain.Application, err error) {
	defer e.observe(OpApply, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return a, err
	}
	if n := e.Rules.MinPitchLength; n > 0 && len([]rune(strings.TrimSpace(req.Pitch))) < n {
		return a, fieldErr("pitch", "is too short")
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, req.BountyID)
	if err != nil {
		return a, err
	}
	if err := auth.RequireNotCreator(p, b, "apply"); err != nil {
		return a, err
	}
	now := e.timestamp()
	a = domain.Application{
		ID:             uuid.NewString(),
		BountyID:       b.ID,
		ApplicantID:    p.ID,
		Pitch:          req.Pitch,
		EstimatedHours: req.EstimatedHours,
		Status:         domain.ApplicationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BountyOpen {
			return stateErr("bounty", cur.ID, cur.Status, "apply")
		}
		if err := e.Store.InsertApplication(ctx, tx, a); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.ApplicationCreated, EntityKind: "application", EntityID: a.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"estimated_hours": a.EstimatedHours},
		})
	})
	if err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// AcceptApplication is the canonical assignment path: the application moves
// to accepted and its bounty to assigned in one transaction. Sibling pending
// applications stay pending and become moot.
func (e Engine) AcceptApplication(ctx context.Context, p auth.Principal, req AcceptApplicationRequest) (b domain.Bounty, err error) {
	defer e.observe(OpAcceptApplication, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return b, err
	}
	a, err := e.Store.GetApplication(ctx, e.Store.DB, req.ApplicationID)
	if err != nil {
		return b, err
	}
	b, err = e.Store.GetBounty(ctx, e.Store.DB, a.BountyID)
	if err != nil {
		return b, err
	}
	if err := auth.RequireCreator(p, b, "accept application"); err != nil {
		return b, err
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		curApp, err := e.Store.GetApplication(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if curApp.Status != domain.ApplicationPending {
			return stateErr("application", curApp.ID, curApp.Status, "accept application")
		}
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BountyOpen {
			return stateErr("bounty", cur.ID, cur.Status, "accept application")
		}
		if err := e.moveApplication(ctx, tx, curApp, domain.ApplicationAccepted, "accept application"); err != nil {
			return err
		}
		assignee := curApp.ApplicantID
		if b, err = e.moveBounty(ctx, tx, cur, domain.BountyAssigned, &assignee, "accept application"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.BountyAssigned, EntityKind: "application", EntityID: curApp.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"assignee_id": assignee},
		})
	})
	return b, err
}

func (e Engine) RejectApplication(ctx context.Context, p auth.Principal, req RejectApplicationRequest) (a domain.Application, err error) {
	defer e.observe(OpRejectApplication, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return a, err
	}
	a, err = e.Store.GetApplication(ctx, e.Store.DB, req.ApplicationID)
	if err != nil {
		return a, err
	}
	b, err := e.Store.GetBounty(ctx, e.Store.DB, a.BountyID)
	if err != nil {
		return a, err
	}
	if err := auth.RequireCreator(p, b, "reject application"); err != nil {
		return a, err
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetApplication(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.ApplicationPending {
			return stateErr("application", cur.ID, cur.Status, "reject application")
		}
		if err := e.moveApplication(ctx, tx, cur, domain.ApplicationRejected, "reject application"); err != nil {
			return err
		}
		a = cur
		a.Status = domain.ApplicationRejected
		a.UpdatedAt = e.timestamp()
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.ApplicationRejected, EntityKind: "application", EntityID: a.ID, BountyID: a.BountyID, ActorID: p.ID,
		})
	})
	return a, err
}

// ListApplications returns the applications of a bounty to its creator.
func (e Engine) ListApplications(ctx context.Context, p auth.Principal, bountyID string) ([]domain.Application, error) {
	b, err := e.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireCreator(p, b, "list applications"); err != nil {
		return nil, err
	}
	return e.Store.ListApplications(ctx, e.Store.DB, b.ID)
}

func (e Engine) moveApplication(ctx context.Context, tx *sqlx.Tx, a domain.Application, to domain.ApplicationStatus, action string) error {
	ok, err := e.Store.TransitionApplication(ctx, tx, a.ID, domain.ApplicationPending, to, e.timestamp())
	if err != nil {
		return err
	}
	if !ok {
		cur, err := e.Store.GetApplication(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		return stateErr("application", a.ID, cur.Status, action)
	}
	return nil
}
