package repo

import (
	"context"
	"database/sql"

	"bountyline/internal/domain"
)

const releaseColumns = `bounty_id,application_id,milestone_id,amount,recipient,reservation_id,status,COALESCE(receipt,''),attempts,COALESCE(last_error,''),created_at,updated_at`

func scanRelease(row rowScanner) (domain.Release, error) {
	var rel domain.Release
	err := row.Scan(&rel.BountyID, &rel.ApplicationID, &rel.MilestoneID, &rel.Amount, &rel.Recipient, &rel.ReservationID,
		&rel.Status, &rel.Receipt, &rel.Attempts, &rel.LastError, &rel.CreatedAt, &rel.UpdatedAt)
	return rel, err
}

// InsertRelease enqueues a pending release. The (application, milestone)
// primary key rejects a second release for the same milestone.
func (r Repo) InsertRelease(ctx context.Context, tx *sql.Tx, rel domain.Release) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO releases(bounty_id,application_id,milestone_id,amount,recipient,reservation_id,status,attempts,created_at,updated_at) VALUES (?,?,?,?,?,?,?,0,?,?)`,
		rel.BountyID, rel.ApplicationID, rel.MilestoneID, rel.Amount, rel.Recipient, rel.ReservationID, string(domain.ReleasePending), rel.CreatedAt, rel.UpdatedAt)
	return err
}

func (r Repo) GetRelease(ctx context.Context, app domain.ApplicationID, ms domain.MilestoneID) (domain.Release, error) {
	return getRelease(ctx, r.DB, app, ms)
}

func (r Repo) GetReleaseTx(ctx context.Context, tx *sql.Tx, app domain.ApplicationID, ms domain.MilestoneID) (domain.Release, error) {
	return getRelease(ctx, tx, app, ms)
}

func getRelease(ctx context.Context, q queryer, app domain.ApplicationID, ms domain.MilestoneID) (domain.Release, error) {
	rel, err := scanRelease(q.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE application_id=? AND milestone_id=?`, app, ms))
	if err == sql.ErrNoRows {
		return rel, notFound("release", app, ms)
	}
	return rel, err
}

// MarkReleased completes a pending release. It affects no row when the
// release was already completed.
func (r Repo) MarkReleased(ctx context.Context, tx *sql.Tx, app domain.ApplicationID, ms domain.MilestoneID, receipt, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE releases SET status=?, receipt=?, attempts=attempts+1, last_error=NULL, updated_at=? WHERE application_id=? AND milestone_id=? AND status=?`,
		string(domain.ReleaseReleased), receipt, now, app, ms, string(domain.ReleasePending))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) RecordReleaseFailure(ctx context.Context, app domain.ApplicationID, ms domain.MilestoneID, msg, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE releases SET attempts=attempts+1, last_error=?, updated_at=? WHERE application_id=? AND milestone_id=? AND status=?`,
		msg, now, app, ms, string(domain.ReleasePending))
	return err
}

// PendingReleaseTotal sums the releases of bounty still waiting on the
// treasury.
func (r Repo) PendingReleaseTotal(ctx context.Context, tx *sql.Tx, bounty domain.BountyID) (domain.Amount, error) {
	var total domain.Amount
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM releases WHERE bounty_id=? AND status=?`,
		bounty, string(domain.ReleasePending)).Scan(&total)
	return total, err
}

// ListReleases returns releases with the given status (all when empty),
// oldest first.
func (r Repo) ListReleases(ctx context.Context, status domain.ReleaseStatus, bounty domain.BountyID) ([]domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	if bounty != 0 {
		query += ` AND bounty_id=?`
		args = append(args, bounty)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at, application_id, milestone_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}
