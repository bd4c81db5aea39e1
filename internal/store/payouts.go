package store

import (
	"context"

	"bountyline/internal/domain"
)

const payoutFailureColumns = `id,bounty_id,payee_id,amount,error,attempts,created_at,resolved_at`

// RecordPayoutFailure stores a failed payout hook invocation for later
// reconciliation.
func (s *Store) RecordPayoutFailure(ctx context.Context, q Querier, bountyID, payeeID string, amount int64, cause, now string) error {
	_, err := exec(ctx, q, "payout failure", `INSERT INTO payout_failures(bounty_id,payee_id,amount,error,attempts,created_at) VALUES (?,?,?,?,1,?)`,
		bountyID, payeeID, amount, cause, now)
	return err
}

// ListOpenPayoutFailures returns unresolved failures with the fewest
// attempts first, so failures that keep failing do not starve newer ones.
func (s *Store) ListOpenPayoutFailures(ctx context.Context, q Querier, limit int) ([]domain.PayoutFailure, error) {
	query := `SELECT ` + payoutFailureColumns + ` FROM payout_failures WHERE resolved_at IS NULL ORDER BY attempts ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	res := []domain.PayoutFailure{}
	err := selectAll(ctx, q, &res, query, args...)
	return res, err
}

func (s *Store) ResolvePayoutFailure(ctx context.Context, q Querier, id int64, now string) (bool, error) {
	n, err := exec(ctx, q, "payout failure", `UPDATE payout_failures SET resolved_at=? WHERE id=? AND resolved_at IS NULL`, now, id)
	return n == 1, err
}

// BumpPayoutAttempt records another failed retry and its cause.
func (s *Store) BumpPayoutAttempt(ctx context.Context, q Querier, id int64, cause string) error {
	_, err := exec(ctx, q, "payout failure", `UPDATE payout_failures SET attempts=attempts+1, error=? WHERE id=? AND resolved_at IS NULL`, cause, id)
	return err
}
