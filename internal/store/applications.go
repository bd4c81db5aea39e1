package store

import (
	"context"

	"bountyline/internal/domain"
)

const applicationColumns = `id,bounty_id,applicant_id,pitch,estimated_hours,status,created_at,updated_at`

// InsertApplication relies on UNIQUE(bounty_id, applicant_id): a second
// application from the same principal fails with a ConflictError even when
// both requests passed every earlier check concurrently.
func (s *Store) InsertApplication(ctx context.Context, q Querier, a domain.Application) error {
	_, err := exec(ctx, q, "application", `INSERT INTO applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.BountyID, a.ApplicantID, a.Pitch, a.EstimatedHours, string(a.Status), a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *Store) GetApplication(ctx context.Context, q Querier, id string) (domain.Application, error) {
	var a domain.Application
	err := get(ctx, q, &a, "application", id, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	return a, err
}

func (s *Store) TransitionApplication(ctx context.Context, q Querier, id string, from, to domain.ApplicationStatus, now string) (bool, error) {
	n, err := exec(ctx, q, "application", `UPDATE applications SET status=?, updated_at=? WHERE id=? AND status=?`, string(to), now, id, string(from))
	return n == 1, err
}

func (s *Store) ListApplications(ctx context.Context, q Querier, bountyID string) ([]domain.Application, error) {
	res := []domain.Application{}
	err := selectAll(ctx, q, &res, `SELECT `+applicationColumns+` FROM applications WHERE bounty_id=? ORDER BY created_at ASC, id ASC`, bountyID)
	return res, err
}
