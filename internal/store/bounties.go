package store

import (
	"context"
	"strings"

	"bountyline/internal/domain"
)

const bountyColumns = `id,creator_id,assignee_id,title,description,amount,currency,status,deadline,created_at,updated_at`

func (s *Store) InsertBounty(ctx context.Context, q Querier, b domain.Bounty) error {
	_, err := exec(ctx, q, "bounty", `INSERT INTO bounties(`+bountyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.CreatorID, nullablePtr(b.AssigneeID), b.Title, b.Description, b.Amount, b.Currency, string(b.Status), b.Deadline, b.CreatedAt, b.UpdatedAt)
	return err
}

func (s *Store) GetBounty(ctx context.Context, q Querier, id string) (domain.Bounty, error) {
	var b domain.Bounty
	err := get(ctx, q, &b, "bounty", id, `SELECT `+bountyColumns+` FROM bounties WHERE id=?`, id)
	return b, err
}

// TransitionBounty moves a bounty from one status to another and sets the
// assignee in the same statement. It reports false, without error, when the
// stored status is no longer from.
func (s *Store) TransitionBounty(ctx context.Context, q Querier, id string, from, to domain.BountyStatus, assigneeID *string, now string) (bool, error) {
	n, err := exec(ctx, q, "bounty", `UPDATE bounties SET status=?, assignee_id=?, updated_at=? WHERE id=? AND status=?`,
		string(to), nullablePtr(assigneeID), now, id, string(from))
	return n == 1, err
}

// ExtendDeadline moves the deadline of a bounty that is still in one of the
// given statuses.
func (s *Store) ExtendDeadline(ctx context.Context, q Querier, id, deadline, now string, statuses ...domain.BountyStatus) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{deadline, now, id}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	n, err := exec(ctx, q, "bounty", `UPDATE bounties SET deadline=?, updated_at=? WHERE id=? AND status IN (`+placeholders+`)`, args...)
	return n == 1, err
}

type BountyFilters struct {
	Status     string
	CreatorID  string
	AssigneeID string
	Limit      int
}

func (s *Store) ListBounties(ctx context.Context, q Querier, f BountyFilters) ([]domain.Bounty, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + bountyColumns + ` FROM bounties` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	res := []domain.Bounty{}
	err := selectAll(ctx, q, &res, query, args...)
	return res, err
}
