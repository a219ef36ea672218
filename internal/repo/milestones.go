package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bountyline/internal/domain"
)

const milestoneColumns = `application_id,milestone_id,bounty_id,submission,amount,status_json,supersedes,superseded,created_at,updated_at`

func scanMilestone(row rowScanner) (domain.MilestoneSubmission, error) {
	var (
		m          domain.MilestoneSubmission
		status     string
		supersedes sql.NullInt64
	)
	if err := row.Scan(&m.ApplicationID, &m.ID, &m.BountyID, &m.Submission, &m.Amount, &status, &supersedes, &m.Superseded, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, err
	}
	var rec domain.StatusRecord
	if err := json.Unmarshal([]byte(status), &rec); err != nil {
		return m, fmt.Errorf("milestone %d/%d status: %w", m.ApplicationID, m.ID, err)
	}
	st, err := rec.Status()
	if err != nil {
		return m, fmt.Errorf("milestone %d/%d status: %w", m.ApplicationID, m.ID, err)
	}
	m.Review = st
	if supersedes.Valid {
		prev := domain.MilestoneID(supersedes.Int64)
		m.Supersedes = &prev
	}
	return m, nil
}

func statusColumns(m domain.MilestoneSubmission) (phase, status string, vote any, err error) {
	rec := domain.StatusRecordOf(m.Review)
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", "", nil, err
	}
	if v, ok := m.ReviewVote(); ok {
		vote = v.String()
	}
	return string(rec.Phase), string(raw), vote, nil
}

// NextMilestoneID allocates the next per-application sequence number.
func (r Repo) NextMilestoneID(ctx context.Context, tx *sql.Tx, app domain.ApplicationID) (domain.MilestoneID, error) {
	var max int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(milestone_id),0) FROM milestones WHERE application_id=?`, app).Scan(&max); err != nil {
		return 0, err
	}
	return domain.MilestoneID(max + 1), nil
}

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.MilestoneSubmission) error {
	phase, status, vote, err := statusColumns(m)
	if err != nil {
		return err
	}
	var supersedes any
	if m.Supersedes != nil {
		supersedes = int64(*m.Supersedes)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO milestones(application_id,milestone_id,bounty_id,submission,amount,phase,status_json,vote,supersedes,superseded,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ApplicationID, m.ID, m.BountyID, m.Submission, m.Amount, phase, status, vote, supersedes, m.Superseded, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMilestone(ctx context.Context, app domain.ApplicationID, id domain.MilestoneID) (domain.MilestoneSubmission, error) {
	return getMilestone(ctx, r.DB, app, id)
}

func (r Repo) GetMilestoneTx(ctx context.Context, tx *sql.Tx, app domain.ApplicationID, id domain.MilestoneID) (domain.MilestoneSubmission, error) {
	return getMilestone(ctx, tx, app, id)
}

func getMilestone(ctx context.Context, q queryer, app domain.ApplicationID, id domain.MilestoneID) (domain.MilestoneSubmission, error) {
	m, err := scanMilestone(q.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE application_id=? AND milestone_id=?`, app, id))
	if err == sql.ErrNoRows {
		return m, notFound("milestone", app, id)
	}
	return m, err
}

// UpdateMilestone persists review status and the superseded flag.
func (r Repo) UpdateMilestone(ctx context.Context, tx *sql.Tx, m domain.MilestoneSubmission) error {
	phase, status, vote, err := statusColumns(m)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE milestones SET phase=?, status_json=?, vote=?, superseded=?, updated_at=? WHERE application_id=? AND milestone_id=?`,
		phase, status, vote, m.Superseded, m.UpdatedAt, m.ApplicationID, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("milestone", m.ApplicationID, m.ID)
	}
	return nil
}

type MilestoneFilters struct {
	Application   domain.ApplicationID
	Phases        []domain.MilestonePhase
	UpdatedBefore string
	// IncludeSuperseded keeps replaced records in the result.
	IncludeSuperseded bool
}

// ListMilestones scans milestones by application (or all when Application is
// zero) in sequence order.
func (r Repo) ListMilestones(ctx context.Context, f MilestoneFilters) ([]domain.MilestoneSubmission, error) {
	return listMilestones(ctx, r.DB, f)
}

func (r Repo) ListMilestonesTx(ctx context.Context, tx *sql.Tx, f MilestoneFilters) ([]domain.MilestoneSubmission, error) {
	return listMilestones(ctx, tx, f)
}

func listMilestones(ctx context.Context, q queryer, f MilestoneFilters) ([]domain.MilestoneSubmission, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Application != 0 {
		clauses = append(clauses, "application_id=?")
		args = append(args, f.Application)
	}
	if len(f.Phases) > 0 {
		marks := make([]string, len(f.Phases))
		for i, p := range f.Phases {
			marks[i] = "?"
			args = append(args, string(p))
		}
		clauses = append(clauses, "phase IN ("+strings.Join(marks, ",")+")")
	}
	if f.UpdatedBefore != "" {
		clauses = append(clauses, "updated_at<?")
		args = append(args, f.UpdatedBefore)
	}
	if !f.IncludeSuperseded {
		clauses = append(clauses, "superseded=0")
	}
	rows, err := q.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE `+strings.Join(clauses, " AND ")+` ORDER BY application_id, milestone_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MilestoneSubmission
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ReleasedTotal sums milestone amounts already approved for transfer on an
// application.
func (r Repo) ReleasedTotal(ctx context.Context, tx *sql.Tx, app domain.ApplicationID) (domain.Amount, error) {
	var total domain.Amount
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM milestones WHERE application_id=? AND phase=?`,
		app, string(domain.PhaseTransferEnabled)).Scan(&total)
	return total, err
}
