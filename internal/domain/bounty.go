package domain

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// BountyParams are the sponsor-supplied inputs of NewBounty.
type BountyParams struct {
	Description             Hash
	FoundationID            OrgID
	TreasuryAccount         AccountID
	ReservationID           ReservationID
	FundingReserved         Amount
	ClaimedFundingAvailable Amount
	AcceptanceCommittee     ReviewBoard
	// SupervisionCommittee reviews milestones; nil means the acceptance committee.
	SupervisionCommittee ReviewBoard
}

// BountyInformation is a posted bounty. Funds fields change only through
// Spend and RefreshReserve.
type BountyInformation struct {
	ID              BountyID
	Description     Hash
	FoundationID    OrgID
	TreasuryAccount AccountID
	ReservationID   ReservationID
	FundingReserved Amount
	ClaimedFunding  Amount
	Acceptance      ReviewBoard
	Supervision     ReviewBoard
}

// CollateralRatio returns reserved/claimed. A zero claim has no meaningful
// ratio and is rejected by CheckCollateralization.
func CollateralRatio(reserved, claimed Amount) decimal.Decimal {
	if claimed == 0 {
		return decimal.Zero
	}
	return amountDecimal(reserved).Div(amountDecimal(claimed))
}

// CheckCollateralization enforces reserved/claimed >= bound.
func CheckCollateralization(reserved, claimed Amount, bound decimal.Decimal) error {
	if claimed == 0 {
		return errors.New("claimed funding available must be positive")
	}
	ratio := CollateralRatio(reserved, claimed)
	if ratio.LessThan(bound) {
		return InsufficientCollateralizationError{Reserved: reserved, Claimed: claimed, Ratio: ratio, Bound: bound}
	}
	return nil
}

// NewBounty validates the board policies and the collateralization gate.
func NewBounty(p BountyParams, lowerBound decimal.Decimal) (BountyInformation, error) {
	if p.AcceptanceCommittee == nil {
		return BountyInformation{}, errors.New("acceptance committee is required")
	}
	if err := p.AcceptanceCommittee.Validate(); err != nil {
		return BountyInformation{}, err
	}
	if p.SupervisionCommittee != nil {
		if err := p.SupervisionCommittee.Validate(); err != nil {
			return BountyInformation{}, err
		}
	}
	if err := CheckCollateralization(p.FundingReserved, p.ClaimedFundingAvailable, lowerBound); err != nil {
		return BountyInformation{}, err
	}
	return BountyInformation{
		Description:     p.Description,
		FoundationID:    p.FoundationID,
		TreasuryAccount: p.TreasuryAccount,
		ReservationID:   p.ReservationID,
		FundingReserved: p.FundingReserved,
		ClaimedFunding:  p.ClaimedFundingAvailable,
		Acceptance:      p.AcceptanceCommittee,
		Supervision:     p.SupervisionCommittee,
	}, nil
}

// Foundation is the sponsoring org; every team formed against the bounty must belong to it.
func (b BountyInformation) Foundation() OrgID { return b.FoundationID }

func (b BountyInformation) ClaimedFundingAvailable() Amount { return b.ClaimedFunding }

func (b BountyInformation) AcceptanceCommittee() ReviewBoard { return b.Acceptance }

// SupervisionCommittee falls back to the acceptance committee.
func (b BountyInformation) SupervisionCommittee() ReviewBoard {
	if b.Supervision != nil {
		return b.Supervision
	}
	return b.Acceptance
}

// Ratio is the current collateralization ratio.
func (b BountyInformation) Ratio() decimal.Decimal {
	return CollateralRatio(b.FundingReserved, b.ClaimedFunding)
}

// Spend records a committed milestone release against both funds fields.
func (b BountyInformation) Spend(amount Amount) (BountyInformation, error) {
	if amount > b.FundingReserved {
		return b, consistencyf("release of %d exceeds reserved funds %d on bounty %d", amount, b.FundingReserved, b.ID)
	}
	if amount > b.ClaimedFunding {
		return b, consistencyf("release of %d exceeds claimed funding %d on bounty %d", amount, b.ClaimedFunding, b.ID)
	}
	b.FundingReserved -= amount
	b.ClaimedFunding -= amount
	return b, nil
}

// RefreshReserve replaces the reserved amount with balance, what the
// reservation still holds net of releases not yet paid out. It does not re-run
// the collateral gate; callers decide what an under-collateralized live bounty
// means.
func (b BountyInformation) RefreshReserve(balance Amount) BountyInformation {
	b.FundingReserved = balance
	return b
}

type bountyJSON struct {
	ID                      BountyID        `json:"id"`
	Description             Hash            `json:"description"`
	FoundationID            OrgID           `json:"foundation_id"`
	TreasuryAccount         AccountID       `json:"treasury_account"`
	ReservationID           ReservationID   `json:"reservation_id"`
	FundingReserved         Amount          `json:"funding_reserved"`
	ClaimedFundingAvailable Amount          `json:"claimed_funding_available"`
	Acceptance              json.RawMessage `json:"acceptance_committee"`
	Supervision             json.RawMessage `json:"supervision_committee,omitempty"`
}

func (b BountyInformation) MarshalJSON() ([]byte, error) {
	acc, err := marshalBoard(b.Acceptance)
	if err != nil {
		return nil, err
	}
	sup, err := marshalBoard(b.Supervision)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bountyJSON{
		ID:                      b.ID,
		Description:             b.Description,
		FoundationID:            b.FoundationID,
		TreasuryAccount:         b.TreasuryAccount,
		ReservationID:           b.ReservationID,
		FundingReserved:         b.FundingReserved,
		ClaimedFundingAvailable: b.ClaimedFunding,
		Acceptance:              acc,
		Supervision:             sup,
	})
}

func (b *BountyInformation) UnmarshalJSON(data []byte) error {
	var raw bountyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	acc, err := unmarshalBoard(raw.Acceptance)
	if err != nil {
		return err
	}
	sup, err := unmarshalBoard(raw.Supervision)
	if err != nil {
		return err
	}
	*b = BountyInformation{
		ID:              raw.ID,
		Description:     raw.Description,
		FoundationID:    raw.FoundationID,
		TreasuryAccount: raw.TreasuryAccount,
		ReservationID:   raw.ReservationID,
		FundingReserved: raw.FundingReserved,
		ClaimedFunding:  raw.ClaimedFundingAvailable,
		Acceptance:      acc,
		Supervision:     sup,
	}
	return nil
}

func amountDecimal(a Amount) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), 0)
}
