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
	"bountyline/internal/store"
)

const defaultCurrency = "USDC"

func (e Engine) CreateBounty(ctx context.Context, p auth.Principal, req CreateBountyRequest) (b domain.Bounty, err error) {
	defer e.observe(OpCreateBounty, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return b, err
	}
	if p.ID == "" {
		return b, auth.ForbiddenError{Action: "create bounty", Relation: "an authenticated principal"}
	}
	deadline := storedTime(req.Deadline)
	if !deadline.After(e.now()) {
		return b, fieldErr("deadline", "must be in the future")
	}
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	now := e.timestamp()
	b = domain.Bounty{
		ID:          uuid.NewString(),
		CreatorID:   p.ID,
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    currency,
		Status:      domain.BountyOpen,
		Deadline:    deadline.Format(time.RFC3339),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Store.InsertBounty(ctx, tx, b); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.BountyCreated, EntityKind: "bounty", EntityID: b.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"amount": b.Amount, "currency": b.Currency, "deadline": b.Deadline},
		})
	})
	if err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// CancelBounty withdraws an open bounty. Pending applications are left as
// they are; they can no longer be accepted.
func (e Engine) CancelBounty(ctx context.Context, p auth.Principal, req CancelBountyRequest) (b domain.Bounty, err error) {
	defer e.observe(OpCancelBounty, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return b, err
	}
	b, err = e.Store.GetBounty(ctx, e.Store.DB, req.BountyID)
	if err != nil {
		return b, err
	}
	if err := auth.RequireCreator(p, b, "cancel bounty"); err != nil {
		return b, err
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BountyOpen {
			return stateErr("bounty", cur.ID, cur.Status, "cancel bounty")
		}
		if b, err = e.moveBounty(ctx, tx, cur, domain.BountyCancelled, nil, "cancel bounty"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.BountyCancelled, EntityKind: "bounty", EntityID: b.ID, BountyID: b.ID, ActorID: p.ID,
		})
	})
	return b, err
}

// AssignDirect is the privileged shortcut that assigns an open bounty to a
// principal without an application. The canonical path is
// AcceptApplication.
func (e Engine) AssignDirect(ctx context.Context, p auth.Principal, req AssignRequest) (b domain.Bounty, err error) {
	defer e.observe(OpAssignDirect, time.Now(), &err)
	if err := req.Validate(); err != nil {
		return b, err
	}
	b, err = e.Store.GetBounty(ctx, e.Store.DB, req.BountyID)
	if err != nil {
		return b, err
	}
	if err := auth.RequireCreator(p, b, "assign bounty"); err != nil {
		return b, err
	}
	if req.AssigneeID == b.CreatorID {
		return b, fieldErr("assignee_id", "must not be the bounty creator")
	}
	err = e.Store.RunInTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := e.Store.GetBounty(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BountyOpen {
			return stateErr("bounty", cur.ID, cur.Status, "assign bounty")
		}
		assignee := req.AssigneeID
		if b, err = e.moveBounty(ctx, tx, cur, domain.BountyAssigned, &assignee, "assign bounty"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Entry{
			Type: events.BountyAssignedDirect, EntityKind: "bounty", EntityID: b.ID, BountyID: b.ID, ActorID: p.ID,
			Payload: events.Payload{"assignee_id": assignee},
		})
	})
	return b, err
}

func (e Engine) GetBounty(ctx context.Context, id string) (domain.Bounty, error) {
	if err := requireID("bounty_id", id); err != nil {
		return domain.Bounty{}, err
	}
	return e.Store.GetBounty(ctx, e.Store.DB, id)
}

func (e Engine) ListBounties(ctx context.Context, f store.BountyFilters) ([]domain.Bounty, error) {
	return e.Store.ListBounties(ctx, e.Store.DB, f)
}

// History returns the event log of a bounty. Only the creator and the current
// assignee may read it.
func (e Engine) History(ctx context.Context, p auth.Principal, bountyID string) ([]domain.Event, error) {
	b, err := e.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if !auth.IsCreator(p, b) && !auth.IsAssignee(p, b) {
		return nil, auth.ForbiddenError{Action: "read bounty history", Relation: "bounty creator or assignee"}
	}
	res, err := events.List(ctx, e.Store.DB, bountyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return res, nil
}
