package store

import (
	"context"

	"bountyline/internal/domain"
)

const submissionColumns = `id,bounty_id,seq,developer_id,pr_url,links_json,notes,status,rejection_reason,created_at,updated_at`

func (s *Store) InsertSubmission(ctx context.Context, q Querier, sub domain.Submission) error {
	_, err := exec(ctx, q, "submission", `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sub.ID, sub.BountyID, sub.Seq, sub.DeveloperID, sub.PRURL, sub.Links, sub.Notes, string(sub.Status), nullablePtr(sub.RejectionReason), sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (s *Store) GetSubmission(ctx context.Context, q Querier, id string) (domain.Submission, error) {
	var sub domain.Submission
	err := get(ctx, q, &sub, "submission", id, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id)
	return sub, err
}

// NextSubmissionSeq returns the sequence number the next submission of the
// bounty takes.
func (s *Store) NextSubmissionSeq(ctx context.Context, q Querier, bountyID string) (int, error) {
	var seq int
	if err := getValue(ctx, q, &seq, `SELECT COALESCE(MAX(seq), 0) + 1 FROM submissions WHERE bounty_id=?`, bountyID); err != nil {
		return 0, err
	}
	return seq, nil
}

// LatestSubmission returns the submission of the bounty with the highest
// sequence number.
func (s *Store) LatestSubmission(ctx context.Context, q Querier, bountyID string) (domain.Submission, error) {
	var sub domain.Submission
	err := get(ctx, q, &sub, "submission for bounty", bountyID,
		`SELECT `+submissionColumns+` FROM submissions WHERE bounty_id=? ORDER BY seq DESC LIMIT 1`, bountyID)
	return sub, err
}

// TransitionSubmission is a compare-and-set on status. A nil reason leaves the
// stored rejection reason untouched.
func (s *Store) TransitionSubmission(ctx context.Context, q Querier, id string, from, to domain.SubmissionStatus, reason *string, now string) (bool, error) {
	n, err := exec(ctx, q, "submission", `UPDATE submissions SET status=?, rejection_reason=COALESCE(?, rejection_reason), updated_at=? WHERE id=? AND status=?`,
		string(to), nullablePtr(reason), now, id, string(from))
	return n == 1, err
}

func (s *Store) ListSubmissions(ctx context.Context, q Querier, bountyID string) ([]domain.Submission, error) {
	res := []domain.Submission{}
	err := selectAll(ctx, q, &res, `SELECT `+submissionColumns+` FROM submissions WHERE bounty_id=? ORDER BY seq ASC`, bountyID)
	return res, err
}
