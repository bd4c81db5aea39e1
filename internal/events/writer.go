// Package events appends lifecycle audit rows. Events are written inside the
// transaction of the transition they describe, so they commit or roll back
// with it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"bountyline/internal/domain"
)

// Event types.
const (
	BountyCreated        = "bounty.created"
	BountyCancelled      = "bounty.cancelled"
	BountyAssigned       = "bounty.assigned"
	BountyAssignedDirect = "bounty.assigned_direct"
	ApplicationCreated   = "application.created"
	ApplicationRejected  = "application.rejected"
	SubmissionCreated    = "submission.created"
	SubmissionApproved   = "submission.approved"
	SubmissionRejected   = "submission.rejected"
	DisputeOpened        = "dispute.opened"
	DisputeResolved      = "dispute.resolved"
	DisputeDismissed     = "dispute.dismissed"
	ExtensionRequested   = "extension.requested"
	ExtensionApproved    = "extension.approved"
	ExtensionRejected    = "extension.rejected"
	PayoutFailed         = "payout.failed"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry describes one event row.
type Entry struct {
	Type       string
	EntityKind string
	EntityID   string
	BountyID   string
	ActorID    string
	Payload    Payload
}

func (w Writer) Append(ctx context.Context, q sqlx.ExtContext, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, q.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,bounty_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, e.Type, e.EntityKind, e.EntityID, e.BountyID, e.ActorID, string(data))
	return err
}

// List returns the events of one bounty in append order.
func List(ctx context.Context, q sqlx.ExtContext, bountyID string) ([]domain.Event, error) {
	res := []domain.Event{}
	err := sqlx.SelectContext(ctx, q, &res, q.Rebind(`SELECT id,ts,type,entity_kind,entity_id,bounty_id,actor_id,payload_json FROM events WHERE bounty_id=? ORDER BY id ASC`), bountyID)
	return res, err
}
