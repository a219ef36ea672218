package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bountyline/internal/collab"
	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/events"
	"bountyline/internal/keylock"
	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/repo"
)

// SystemActor is recorded on transitions driven by vote sync and expiry.
const SystemActor domain.AccountID = "system"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Locks    *keylock.Locker
	Treasury collab.Treasury
	Voting   collab.Voting
	Org      collab.Organization
	Auth     auth.Service
}

// New wires an engine against the workspace database, using the local
// SQL-backed collaborators.
func New(db *sql.DB, cfg *config.Config) Engine {
	voting := collab.SQLVoting{DB: db}
	org := collab.SQLOrganization{DB: db}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Log:      logging.Discard(),
		Locks:    keylock.New(),
		Treasury: collab.SQLTreasury{DB: db},
		Voting:   voting,
		Org:      org,
		Auth:     auth.Service{Org: org, Voting: voting},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Discard()
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// reject records a refused transition and passes err through.
func (e Engine) reject(entity, operation string, err error) error {
	var (
		it domain.InvalidTransitionError
		ce domain.ConsistencyError
		ue domain.UnauthorizedError
		ic domain.InsufficientCollateralizationError
	)
	if errors.As(err, &it) || errors.As(err, &ce) || errors.As(err, &ue) || errors.As(err, &ic) {
		e.Metrics.Rejected(entity, operation)
		e.log().Debug("transition rejected", "entity", entity, "operation", operation, "error", err)
	}
	return err
}

// PostBountyOptions are parameters for posting a bounty.
type PostBountyOptions struct {
	Actor                   domain.AccountID
	Description             domain.Hash
	FoundationID            domain.OrgID
	TreasuryAccount         domain.AccountID
	Reserve                 domain.Amount
	ClaimedFundingAvailable domain.Amount
	Acceptance              domain.ReviewBoard
	Supervision             domain.ReviewBoard
}

// PostBounty checks the collateral gate, reserves funds with the treasury
// and stores the bounty. The poster must hold the treasury account or be the
// acceptance committee's sudo.
func (e Engine) PostBounty(ctx context.Context, opts PostBountyOptions) (domain.BountyInformation, error) {
	if e.Config == nil {
		return domain.BountyInformation{}, errors.New("config not loaded")
	}
	if opts.Description == "" {
		return domain.BountyInformation{}, errors.New("description is required")
	}
	if opts.TreasuryAccount == "" {
		opts.TreasuryAccount = opts.Actor
	}
	params := domain.BountyParams{
		Description:             opts.Description,
		FoundationID:            opts.FoundationID,
		TreasuryAccount:         opts.TreasuryAccount,
		FundingReserved:         opts.Reserve,
		ClaimedFundingAvailable: opts.ClaimedFundingAvailable,
		AcceptanceCommittee:     opts.Acceptance,
		SupervisionCommittee:    opts.Supervision,
	}
	b, err := domain.NewBounty(params, e.Config.LowerBound())
	if err != nil {
		return domain.BountyInformation{}, e.reject("bounty", "post", err)
	}
	if opts.Actor == "" || (opts.Actor != opts.TreasuryAccount && !b.Acceptance.IsSudo(opts.Actor)) {
		return domain.BountyInformation{}, e.reject("bounty", "post", domain.UnauthorizedError{Account: opts.Actor, Action: "post a bounty funded by " + string(opts.TreasuryAccount)})
	}
	reservation, err := e.Treasury.Reserve(ctx, opts.TreasuryAccount, opts.Reserve)
	if err != nil {
		return domain.BountyInformation{}, fmt.Errorf("reserve funds: %w", err)
	}
	if reservation == "" {
		return domain.BountyInformation{}, domain.EventNotFoundError{Event: "treasury reservation"}
	}
	b.ReservationID = reservation
	now := e.stamp()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertBounty(ctx, tx, b, opts.Actor, now)
		if err != nil {
			return fmt.Errorf("insert bounty: %w", err)
		}
		b.ID = id
		return e.Events.Append(ctx, tx, "bounty.posted", events.Ref{Bounty: id}, opts.Actor, events.EventPayload{
			"foundation_id":             b.FoundationID,
			"reservation_id":            b.ReservationID,
			"funding_reserved":          b.FundingReserved,
			"claimed_funding_available": b.ClaimedFunding,
		})
	})
	if err != nil {
		return domain.BountyInformation{}, err
	}
	e.Metrics.Transition("bounty", "posted")
	e.log().Info("bounty posted", "bounty_id", b.ID, "foundation_id", b.FoundationID, "reserved", b.FundingReserved)
	return b, nil
}

// SyncBountyFunds replaces a bounty's reserved amount with the treasury's
// current balance of its reservation.
func (e Engine) SyncBountyFunds(ctx context.Context, actor domain.AccountID, id domain.BountyID) (domain.BountyInformation, error) {
	unlock := e.Locks.Lock(keylock.BountyKey(uint64(id)))
	defer unlock()

	b, err := e.Repo.GetBounty(ctx, id)
	if err != nil {
		return b, err
	}
	balance, err := e.Treasury.Balance(ctx, b.ReservationID)
	if err != nil {
		return b, fmt.Errorf("reservation balance: %w", err)
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetBountyTx(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := cur.FundingReserved
		// Approved milestones leave the reserve at approval time but the
		// treasury only when their release completes.
		pending, err := e.Repo.PendingReleaseTotal(ctx, tx, id)
		if err != nil {
			return err
		}
		available := balance - pending
		if pending > balance {
			e.log().Warn("reservation below pending releases", "bounty_id", id, "balance", balance, "pending", pending)
			available = 0
		}
		b = cur.RefreshReserve(available)
		if err := e.Repo.UpdateBountyFunds(ctx, tx, b, e.stamp()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "bounty.funds_refreshed", events.Ref{Bounty: id}, actor, events.EventPayload{
			"previous": prev, "funding_reserved": b.FundingReserved, "pending_releases": pending,
		})
	})
	if err != nil {
		return b, err
	}
	if e.Config != nil && b.ClaimedFunding > 0 && b.Ratio().LessThan(e.Config.LowerBound()) {
		e.log().Warn("bounty under-collateralized after refresh", "bounty_id", id,
			"ratio", b.Ratio().StringFixed(4), "bound", e.Config.LowerBound().String())
	}
	return b, nil
}

func (e Engine) GetBounty(ctx context.Context, id domain.BountyID) (domain.BountyInformation, error) {
	return e.Repo.GetBounty(ctx, id)
}

func (e Engine) ListBounties(ctx context.Context, foundation domain.OrgID) ([]domain.BountyInformation, error) {
	return e.Repo.ListBounties(ctx, foundation)
}

func (e Engine) PaymentTracker(ctx context.Context, id domain.BountyID) (domain.BountyPaymentTracker, error) {
	return e.Repo.GetPaymentTracker(ctx, id)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return e.Repo.LatestEvents(ctx, f)
}
