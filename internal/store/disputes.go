package store

import (
	"context"

	"bountyline/internal/domain"
)

const disputeColumns = `id,submission_id,bounty_id,raised_by,reason,evidence_json,status,resolution,resolved_by,resolved_at,created_at,updated_at`

func (s *Store) InsertDispute(ctx context.Context, q Querier, d domain.Dispute) error {
	_, err := exec(ctx, q, "dispute", `INSERT INTO disputes(`+disputeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.SubmissionID, d.BountyID, d.RaisedBy, d.Reason, d.Evidence, string(d.Status), nullableResolution(d.Resolution), nullablePtr(d.ResolvedBy), nullablePtr(d.ResolvedAt), d.CreatedAt, d.UpdatedAt)
	return err
}

func (s *Store) GetDispute(ctx context.Context, q Querier, id string) (domain.Dispute, error) {
	var d domain.Dispute
	err := get(ctx, q, &d, "dispute", id, `SELECT `+disputeColumns+` FROM disputes WHERE id=?`, id)
	return d, err
}

// CloseDispute moves an open dispute to a terminal status and records who
// resolved it and how.
func (s *Store) CloseDispute(ctx context.Context, q Querier, id string, to domain.DisputeStatus, resolution domain.Resolution, resolvedBy, now string) (bool, error) {
	n, err := exec(ctx, q, "dispute", `UPDATE disputes SET status=?, resolution=?, resolved_by=?, resolved_at=?, updated_at=? WHERE id=? AND status=?`,
		string(to), string(resolution), resolvedBy, now, now, id, string(domain.DisputeOpen))
	return n == 1, err
}

func (s *Store) ListDisputes(ctx context.Context, q Querier, bountyID string) ([]domain.Dispute, error) {
	res := []domain.Dispute{}
	err := selectAll(ctx, q, &res, `SELECT `+disputeColumns+` FROM disputes WHERE bounty_id=? ORDER BY created_at ASC, id ASC`, bountyID)
	return res, err
}
