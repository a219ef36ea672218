package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bountyline/internal/domain"
)

const applicationColumns = `id,bounty_id,submitter,description,total_amount,terms_json,state_json,created_at,updated_at`

func scanApplication(row rowScanner) (domain.GrantApplication, error) {
	var (
		a     domain.GrantApplication
		terms string
		state string
	)
	if err := row.Scan(&a.ID, &a.BountyID, &a.Submitter, &a.Description, &a.TotalAmount, &terms, &state, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(terms), &a.Terms); err != nil {
		return a, fmt.Errorf("application %d terms: %w", a.ID, err)
	}
	var rec domain.StateRecord
	if err := json.Unmarshal([]byte(state), &rec); err != nil {
		return a, fmt.Errorf("application %d state: %w", a.ID, err)
	}
	st, err := rec.State()
	if err != nil {
		return a, fmt.Errorf("application %d state: %w", a.ID, err)
	}
	a.State = st
	return a, nil
}

func stateColumns(a domain.GrantApplication) (phase, state string, vote any, err error) {
	rec := domain.RecordOf(a.State)
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", "", nil, err
	}
	if v, ok := a.PendingVote(); ok {
		vote = v.String()
	}
	return string(rec.Phase), string(raw), vote, nil
}

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.GrantApplication) (domain.ApplicationID, error) {
	terms, err := json.Marshal(a.Terms)
	if err != nil {
		return 0, err
	}
	phase, state, vote, err := stateColumns(a)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO applications(bounty_id,submitter,description,total_amount,terms_json,phase,state_json,vote,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.BountyID, a.Submitter, a.Description, a.TotalAmount, string(terms), phase, state, vote, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return domain.ApplicationID(id), err
}

func (r Repo) GetApplication(ctx context.Context, bounty domain.BountyID, id domain.ApplicationID) (domain.GrantApplication, error) {
	return getApplication(ctx, r.DB, bounty, id)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, bounty domain.BountyID, id domain.ApplicationID) (domain.GrantApplication, error) {
	return getApplication(ctx, tx, bounty, id)
}

func getApplication(ctx context.Context, q queryer, bounty domain.BountyID, id domain.ApplicationID) (domain.GrantApplication, error) {
	a, err := scanApplication(q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE bounty_id=? AND id=?`, bounty, id))
	if err == sql.ErrNoRows {
		return a, notFound("application", bounty, id)
	}
	return a, err
}

// UpdateApplicationState persists a transition. Only state columns change.
func (r Repo) UpdateApplicationState(ctx context.Context, tx *sql.Tx, a domain.GrantApplication) error {
	phase, state, vote, err := stateColumns(a)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE applications SET phase=?, state_json=?, vote=?, updated_at=? WHERE bounty_id=? AND id=?`,
		phase, state, vote, a.UpdatedAt, a.BountyID, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("application", a.BountyID, a.ID)
	}
	return nil
}

type ApplicationFilters struct {
	Bounty        domain.BountyID
	Phases        []domain.ApplicationPhase
	UpdatedBefore string
	Limit         int
}

// ListApplications scans applications by bounty (or all bounties when
// Bounty is zero), oldest first.
func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.GrantApplication, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Bounty != 0 {
		clauses = append(clauses, "bounty_id=?")
		args = append(args, f.Bounty)
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
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY bounty_id, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GrantApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CommittedAmount sums the totals of applications approved by the foundation
// (awaiting team consent or live) on a bounty.
func (r Repo) CommittedAmount(ctx context.Context, tx *sql.Tx, bounty domain.BountyID) (domain.Amount, error) {
	var total domain.Amount
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_amount),0) FROM applications WHERE bounty_id=? AND phase IN (?,?)`,
		bounty, string(domain.PhaseAwaitingTeamConsent), string(domain.PhaseLive)).Scan(&total)
	return total, err
}

// DeleteApplication removes an application and, by cascade, its milestones.
func (r Repo) DeleteApplication(ctx context.Context, tx *sql.Tx, bounty domain.BountyID, id domain.ApplicationID) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE bounty_id=? AND id=?`, bounty, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("application", bounty, id)
	}
	return nil
}

// InsertTeam registers the team of a live application. The primary key on
// application_id makes a second registration fail.
func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, bounty domain.BountyID, app domain.ApplicationID, team domain.TeamID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(application_id,bounty_id,org,sudo,flat_share_id,weighted_share_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		app, bounty, team.Org, nullable(string(team.Sudo)), team.FlatShareID, team.WeightedShareID, now)
	return err
}

func (r Repo) GetTeam(ctx context.Context, app domain.ApplicationID) (domain.TeamID, error) {
	var t domain.TeamID
	err := r.DB.QueryRowContext(ctx, `SELECT org,COALESCE(sudo,''),flat_share_id,weighted_share_id FROM teams WHERE application_id=?`, app).
		Scan(&t.Org, &t.Sudo, &t.FlatShareID, &t.WeightedShareID)
	if err == sql.ErrNoRows {
		return t, notFound("team", app)
	}
	return t, err
}
