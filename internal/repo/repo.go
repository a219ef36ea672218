package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(what string, key ...any) error {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = fmt.Sprint(k)
	}
	return fmt.Errorf("%s %s: %w", what, strings.Join(parts, "/"), ErrNotFound)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const bountyColumns = `id,description,foundation_id,treasury_account,reservation_id,funding_reserved,claimed_funding,acceptance_json,COALESCE(supervision_json,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBounty(row rowScanner) (domain.BountyInformation, error) {
	var (
		b           domain.BountyInformation
		acceptance  string
		supervision string
	)
	if err := row.Scan(&b.ID, &b.Description, &b.FoundationID, &b.TreasuryAccount, &b.ReservationID,
		&b.FundingReserved, &b.ClaimedFunding, &acceptance, &supervision); err != nil {
		return b, err
	}
	var spec domain.BoardSpec
	if err := json.Unmarshal([]byte(acceptance), &spec); err != nil {
		return b, fmt.Errorf("bounty %d acceptance committee: %w", b.ID, err)
	}
	board, err := spec.Board()
	if err != nil {
		return b, fmt.Errorf("bounty %d acceptance committee: %w", b.ID, err)
	}
	b.Acceptance = board
	if supervision != "" {
		var sup domain.BoardSpec
		if err := json.Unmarshal([]byte(supervision), &sup); err != nil {
			return b, fmt.Errorf("bounty %d supervision committee: %w", b.ID, err)
		}
		if b.Supervision, err = sup.Board(); err != nil {
			return b, fmt.Errorf("bounty %d supervision committee: %w", b.ID, err)
		}
	}
	return b, nil
}

// InsertBounty stores a posted bounty with an empty payment tracker and
// returns its assigned id.
func (r Repo) InsertBounty(ctx context.Context, tx *sql.Tx, b domain.BountyInformation, poster domain.AccountID, now string) (domain.BountyID, error) {
	acceptance, err := json.Marshal(domain.SpecOf(b.Acceptance))
	if err != nil {
		return 0, err
	}
	var supervision any
	if b.Supervision != nil {
		raw, err := json.Marshal(domain.SpecOf(b.Supervision))
		if err != nil {
			return 0, err
		}
		supervision = string(raw)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO bounties(description,foundation_id,treasury_account,reservation_id,funding_reserved,claimed_funding,acceptance_json,supervision_json,poster_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		b.Description, b.FoundationID, b.TreasuryAccount, b.ReservationID, b.FundingReserved, b.ClaimedFunding, string(acceptance), supervision, poster, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO payment_trackers(bounty_id,received,due) VALUES (?,0,0)`, id); err != nil {
		return 0, err
	}
	return domain.BountyID(id), nil
}

func (r Repo) GetBounty(ctx context.Context, id domain.BountyID) (domain.BountyInformation, error) {
	return getBounty(ctx, r.DB, id)
}

func (r Repo) GetBountyTx(ctx context.Context, tx *sql.Tx, id domain.BountyID) (domain.BountyInformation, error) {
	return getBounty(ctx, tx, id)
}

func getBounty(ctx context.Context, q queryer, id domain.BountyID) (domain.BountyInformation, error) {
	b, err := scanBounty(q.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return b, notFound("bounty", id)
	}
	return b, err
}

func (r Repo) ListBounties(ctx context.Context, foundation domain.OrgID) ([]domain.BountyInformation, error) {
	query := `SELECT ` + bountyColumns + ` FROM bounties`
	var args []any
	if foundation != 0 {
		query += ` WHERE foundation_id=?`
		args = append(args, foundation)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BountyInformation
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// UpdateBountyFunds persists the two funds fields, the only mutable part of a bounty.
func (r Repo) UpdateBountyFunds(ctx context.Context, tx *sql.Tx, b domain.BountyInformation, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bounties SET funding_reserved=?, claimed_funding=?, updated_at=? WHERE id=?`,
		b.FundingReserved, b.ClaimedFunding, now, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("bounty", b.ID)
	}
	return nil
}

func (r Repo) GetPaymentTracker(ctx context.Context, bounty domain.BountyID) (domain.BountyPaymentTracker, error) {
	return getPaymentTracker(ctx, r.DB, bounty)
}

func (r Repo) GetPaymentTrackerTx(ctx context.Context, tx *sql.Tx, bounty domain.BountyID) (domain.BountyPaymentTracker, error) {
	return getPaymentTracker(ctx, tx, bounty)
}

func getPaymentTracker(ctx context.Context, q queryer, bounty domain.BountyID) (domain.BountyPaymentTracker, error) {
	t := domain.BountyPaymentTracker{BountyID: bounty}
	err := q.QueryRowContext(ctx, `SELECT received,due FROM payment_trackers WHERE bounty_id=?`, bounty).Scan(&t.Received, &t.Due)
	if err == sql.ErrNoRows {
		return t, notFound("payment tracker", bounty)
	}
	return t, err
}

func (r Repo) UpdatePaymentTracker(ctx context.Context, tx *sql.Tx, t domain.BountyPaymentTracker) error {
	_, err := tx.ExecContext(ctx, `UPDATE payment_trackers SET received=?, due=? WHERE bounty_id=?`, t.Received, t.Due, t.BountyID)
	return err
}

type EventFilters struct {
	Type        string
	Bounty      domain.BountyID
	Application domain.ApplicationID
	Milestone   domain.MilestoneID
	Cursor      int64
	Limit       int
}

// LatestEvents returns events newest first. Cursor, when set, is an exclusive
// upper bound on the event id.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	return latestEvents(ctx, r.DB, f)
}

func (r Repo) LatestEventsTx(ctx context.Context, tx *sql.Tx, f EventFilters) ([]domain.Event, error) {
	return latestEvents(ctx, tx, f)
}

func latestEvents(ctx context.Context, q queryer, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Bounty != 0 {
		clauses = append(clauses, "bounty_id=?")
		args = append(args, f.Bounty)
	}
	if f.Application != 0 {
		clauses = append(clauses, "application_id=?")
		args = append(args, f.Application)
	}
	if f.Milestone != 0 {
		clauses = append(clauses, "milestone_id=?")
		args = append(args, f.Milestone)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(bounty_id,0),COALESCE(application_id,0),COALESCE(milestone_id,0),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC`,
		strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.BountyID, &e.ApplicationID, &e.MilestoneID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
