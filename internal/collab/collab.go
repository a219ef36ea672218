// Package collab defines the external systems the governance engine relies
// on (treasury, voting, organization membership) and local implementations
// backed by the workspace database.
package collab

import (
	"context"

	"bountyline/internal/domain"
)

// ReleaseReceipt confirms a completed fund movement.
type ReleaseReceipt struct {
	ID        string           `json:"id"`
	Recipient domain.AccountID `json:"recipient"`
	Amount    domain.Amount    `json:"amount"`
}

type Treasury interface {
	Reserve(ctx context.Context, account domain.AccountID, amount domain.Amount) (domain.ReservationID, error)
	Release(ctx context.Context, reservation domain.ReservationID, amount domain.Amount, recipient domain.AccountID) (ReleaseReceipt, error)
	Balance(ctx context.Context, reservation domain.ReservationID) (domain.Amount, error)
}

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

func (o Outcome) Terminal() bool { return o == OutcomeApproved || o == OutcomeRejected }

type Voting interface {
	OpenVote(ctx context.Context, params domain.VoteParams) (domain.VoteID, error)
	Outcome(ctx context.Context, vote domain.VoteID) (Outcome, error)
}

type Member struct {
	Account domain.AccountID `json:"account"`
	Weight  uint64           `json:"weight"`
}

type Organization interface {
	Members(ctx context.Context, org domain.OrgID, share domain.ShareID) ([]Member, error)
}

// IsMember reports whether account belongs to the share group.
func IsMember(ctx context.Context, o Organization, org domain.OrgID, share domain.ShareID, account domain.AccountID) (bool, error) {
	if account == "" {
		return false, nil
	}
	members, err := o.Members(ctx, org, share)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Account == account {
			return true, nil
		}
	}
	return false, nil
}
