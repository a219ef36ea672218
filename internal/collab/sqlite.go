package collab

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bountyline/internal/domain"
)

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// SQLTreasury keeps account balances and reservations in the workspace
// database. Reserving moves funds out of the account into the reservation.
type SQLTreasury struct {
	DB *sql.DB
}

// Deposit credits an account, creating it on first use.
func (t SQLTreasury) Deposit(ctx context.Context, account domain.AccountID, amount domain.Amount) error {
	if account == "" || amount == 0 {
		return errors.New("deposit requires an account and a positive amount")
	}
	_, err := t.DB.ExecContext(ctx, `INSERT INTO treasury_accounts(account,balance) VALUES (?,?)
ON CONFLICT(account) DO UPDATE SET balance=balance+excluded.balance`, account, amount)
	return err
}

func (t SQLTreasury) AccountBalance(ctx context.Context, account domain.AccountID) (domain.Amount, error) {
	var bal domain.Amount
	err := t.DB.QueryRowContext(ctx, `SELECT balance FROM treasury_accounts WHERE account=?`, account).Scan(&bal)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("treasury account %s: %w", account, domain.ErrNotFound)
	}
	return bal, err
}

func (t SQLTreasury) Reserve(ctx context.Context, account domain.AccountID, amount domain.Amount) (domain.ReservationID, error) {
	if amount == 0 {
		return "", errors.New("reservation amount must be positive")
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	var bal domain.Amount
	err = tx.QueryRowContext(ctx, `SELECT balance FROM treasury_accounts WHERE account=?`, account).Scan(&bal)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("treasury account %s: %w", account, domain.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if bal < amount {
		return "", fmt.Errorf("treasury account %s holds %d, cannot reserve %d", account, bal, amount)
	}
	id := domain.ReservationID(uuid.NewString())
	if _, err := tx.ExecContext(ctx, `UPDATE treasury_accounts SET balance=balance-? WHERE account=?`, amount, account); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO treasury_reservations(id,account,remaining,created_at) VALUES (?,?,?,?)`, id, account, amount, now()); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func (t SQLTreasury) Release(ctx context.Context, reservation domain.ReservationID, amount domain.Amount, recipient domain.AccountID) (ReleaseReceipt, error) {
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReleaseReceipt{}, err
	}
	defer tx.Rollback()
	var remaining domain.Amount
	err = tx.QueryRowContext(ctx, `SELECT remaining FROM treasury_reservations WHERE id=?`, reservation).Scan(&remaining)
	if err == sql.ErrNoRows {
		return ReleaseReceipt{}, fmt.Errorf("reservation %s: %w", reservation, domain.ErrNotFound)
	}
	if err != nil {
		return ReleaseReceipt{}, err
	}
	if remaining < amount {
		return ReleaseReceipt{}, fmt.Errorf("reservation %s holds %d, cannot release %d", reservation, remaining, amount)
	}
	receipt := ReleaseReceipt{ID: uuid.NewString(), Recipient: recipient, Amount: amount}
	if _, err := tx.ExecContext(ctx, `UPDATE treasury_reservations SET remaining=remaining-? WHERE id=?`, amount, reservation); err != nil {
		return ReleaseReceipt{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO treasury_accounts(account,balance) VALUES (?,?)
ON CONFLICT(account) DO UPDATE SET balance=balance+excluded.balance`, recipient, amount); err != nil {
		return ReleaseReceipt{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO treasury_transfers(id,reservation_id,recipient,amount,created_at) VALUES (?,?,?,?,?)`,
		receipt.ID, reservation, recipient, amount, now()); err != nil {
		return ReleaseReceipt{}, err
	}
	return receipt, tx.Commit()
}

func (t SQLTreasury) Balance(ctx context.Context, reservation domain.ReservationID) (domain.Amount, error) {
	var remaining domain.Amount
	err := t.DB.QueryRowContext(ctx, `SELECT remaining FROM treasury_reservations WHERE id=?`, reservation).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("reservation %s: %w", reservation, domain.ErrNotFound)
	}
	return remaining, err
}

// SQLVoting records opened votes. Outcomes are set by Resolve, standing in
// for the external tally.
type SQLVoting struct {
	DB *sql.DB
}

// VoteRecord is a stored vote with its parameters and outcome.
type VoteRecord struct {
	ID         domain.VoteID     `json:"id"`
	Params     domain.VoteParams `json:"params"`
	Outcome    Outcome           `json:"outcome"`
	CreatedAt  string            `json:"created_at"`
	ResolvedAt string            `json:"resolved_at,omitempty"`
}

func (v SQLVoting) OpenVote(ctx context.Context, params domain.VoteParams) (domain.VoteID, error) {
	switch params.Kind {
	case domain.VoteKindPetition, domain.VoteKindThreshold:
	default:
		return domain.VoteID{}, fmt.Errorf("invalid vote kind %q", params.Kind)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.VoteID{}, err
	}
	res, err := v.DB.ExecContext(ctx, `INSERT INTO votes(kind,org,share_group,topic,params_json,outcome,created_at) VALUES (?,?,?,?,?,?,?)`,
		string(params.Kind), params.Org, params.Group, string(params.Topic), string(raw), string(OutcomePending), now())
	if err != nil {
		return domain.VoteID{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.VoteID{}, err
	}
	return domain.VoteID{Kind: params.Kind, ID: uint32(id)}, nil
}

func (v SQLVoting) Outcome(ctx context.Context, vote domain.VoteID) (Outcome, error) {
	rec, err := v.Get(ctx, vote)
	if err != nil {
		return "", err
	}
	return rec.Outcome, nil
}

func (v SQLVoting) Get(ctx context.Context, vote domain.VoteID) (VoteRecord, error) {
	var (
		rec      VoteRecord
		params   string
		resolved sql.NullString
	)
	err := v.DB.QueryRowContext(ctx, `SELECT params_json,outcome,created_at,resolved_at FROM votes WHERE id=? AND kind=?`, vote.ID, string(vote.Kind)).
		Scan(&params, &rec.Outcome, &rec.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return rec, fmt.Errorf("vote %s: %w", vote, domain.ErrNotFound)
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return rec, err
	}
	rec.ID = vote
	rec.ResolvedAt = resolved.String
	return rec, nil
}

// Resolve concludes a pending vote. A concluded vote cannot be changed.
func (v SQLVoting) Resolve(ctx context.Context, vote domain.VoteID, outcome Outcome) error {
	if !outcome.Terminal() {
		return fmt.Errorf("resolve requires approved or rejected, got %q", outcome)
	}
	res, err := v.DB.ExecContext(ctx, `UPDATE votes SET outcome=?, resolved_at=? WHERE id=? AND kind=? AND outcome=?`,
		string(outcome), now(), vote.ID, string(vote.Kind), string(OutcomePending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	current, err := v.Outcome(ctx, vote)
	if err != nil {
		return err
	}
	if current == outcome {
		return nil
	}
	return fmt.Errorf("vote %s already %s", vote, current)
}

// SQLOrganization stores share-group membership.
type SQLOrganization struct {
	DB *sql.DB
}

func (o SQLOrganization) AddMember(ctx context.Context, org domain.OrgID, share domain.ShareID, m Member) error {
	if m.Account == "" || m.Weight == 0 {
		return errors.New("member requires an account and a positive weight")
	}
	_, err := o.DB.ExecContext(ctx, `INSERT INTO org_members(org,share_id,account,weight) VALUES (?,?,?,?)
ON CONFLICT(org,share_id,account) DO UPDATE SET weight=excluded.weight`, org, share, m.Account, m.Weight)
	return err
}

func (o SQLOrganization) Members(ctx context.Context, org domain.OrgID, share domain.ShareID) ([]Member, error) {
	rows, err := o.DB.QueryContext(ctx, `SELECT account,weight FROM org_members WHERE org=? AND share_id=? ORDER BY account`, org, share)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Account, &m.Weight); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
