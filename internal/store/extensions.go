package store

import (
	"context"

	"bountyline/internal/domain"
)

const extensionColumns = `id,bounty_id,developer_id,requested_deadline,reason,status,decided_by,created_at,updated_at`

// InsertExtensionRequest relies on the partial unique index over pending
// requests per (bounty, developer).
func (s *Store) InsertExtensionRequest(ctx context.Context, q Querier, x domain.ExtensionRequest) error {
	_, err := exec(ctx, q, "pending extension request", `INSERT INTO extension_requests(`+extensionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		x.ID, x.BountyID, x.DeveloperID, x.RequestedDeadline, x.Reason, string(x.Status), nullablePtr(x.DecidedBy), x.CreatedAt, x.UpdatedAt)
	return err
}

func (s *Store) GetExtensionRequest(ctx context.Context, q Querier, id string) (domain.ExtensionRequest, error) {
	var x domain.ExtensionRequest
	err := get(ctx, q, &x, "extension request", id, `SELECT `+extensionColumns+` FROM extension_requests WHERE id=?`, id)
	return x, err
}

func (s *Store) DecideExtensionRequest(ctx context.Context, q Querier, id string, to domain.ExtensionStatus, decidedBy, now string) (bool, error) {
	n, err := exec(ctx, q, "extension request", `UPDATE extension_requests SET status=?, decided_by=?, updated_at=? WHERE id=? AND status=?`,
		string(to), decidedBy, now, id, string(domain.ExtensionPending))
	return n == 1, err
}

func (s *Store) ListExtensionRequests(ctx context.Context, q Querier, bountyID string) ([]domain.ExtensionRequest, error) {
	res := []domain.ExtensionRequest{}
	err := selectAll(ctx, q, &res, `SELECT `+extensionColumns+` FROM extension_requests WHERE bounty_id=? ORDER BY created_at ASC, id ASC`, bountyID)
	return res, err
}
