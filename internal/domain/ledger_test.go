package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/domain"
)

func TestCollateralizationGate(t *testing.T) {
	bound := decimal.RequireFromString("0.2")
	board := domain.FlatPetitionBoard{OrgID: 3, FlatShareID: 1, ApprovalThreshold: 1}

	_, err := domain.NewBounty(domain.BountyParams{
		FoundationID: 3, FundingReserved: 100, ClaimedFundingAvailable: 1000, AcceptanceCommittee: board,
	}, bound)
	var ic domain.InsufficientCollateralizationError
	require.ErrorAs(t, err, &ic)
	assert.True(t, ic.Ratio.Equal(decimal.RequireFromString("0.1")))

	b, err := domain.NewBounty(domain.BountyParams{
		FoundationID: 3, FundingReserved: 500, ClaimedFundingAvailable: 1000, AcceptanceCommittee: board,
	}, bound)
	require.NoError(t, err)
	assert.True(t, b.Ratio().GreaterThanOrEqual(bound))

	_, err = domain.NewBounty(domain.BountyParams{
		FoundationID: 3, FundingReserved: 200, ClaimedFundingAvailable: 1000, AcceptanceCommittee: board,
	}, bound)
	require.NoError(t, err, "a ratio equal to the bound passes")

	_, err = domain.NewBounty(domain.BountyParams{
		FoundationID: 3, FundingReserved: 200, ClaimedFundingAvailable: 0, AcceptanceCommittee: board,
	}, bound)
	require.Error(t, err)
}

func TestBountySupervisionFallback(t *testing.T) {
	b := testBounty(t, 3)
	assert.Equal(t, b.AcceptanceCommittee(), b.SupervisionCommittee())

	sup := domain.WeightedThresholdBoard{
		OrgID: 3, WeightedShareID: 2, VoteType: domain.VoteShareWeighted,
		Threshold: domain.Threshold{Kind: domain.ThresholdPercentage, Approval: decimal.RequireFromString("0.5")},
	}
	b.Supervision = sup
	assert.Equal(t, domain.ReviewBoard(sup), b.SupervisionCommittee())
}

func TestBountySpend(t *testing.T) {
	b := testBounty(t, 3)
	b, err := b.Spend(300)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(200), b.FundingReserved)
	assert.Equal(t, domain.Amount(700), b.ClaimedFundingAvailable())

	_, err = b.Spend(201)
	var ce domain.ConsistencyError
	require.ErrorAs(t, err, &ce)
}

func TestBountyJSONRoundTrip(t *testing.T) {
	b := testBounty(t, 3)
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"claimed_funding_available":1000`)

	var got domain.BountyInformation
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, b, got)
}

func TestPaymentTracker(t *testing.T) {
	tr := domain.BountyPaymentTracker{BountyID: 1}
	tr, err := tr.AddDue(500)
	require.NoError(t, err)
	tr, err = tr.Update(300)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(200), tr.Outstanding())

	got, err := tr.Update(201)
	var ce domain.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, domain.Amount(300), got.Received)

	tr, err = tr.Update(200)
	require.NoError(t, err)
	assert.Equal(t, tr.Due, tr.Received)
}

func TestBoardSudo(t *testing.T) {
	flat := domain.FlatPetitionBoard{Sudo: "root", OrgID: 1, FlatShareID: 1, ApprovalThreshold: 1}
	assert.True(t, flat.IsSudo("root"))
	assert.False(t, flat.IsSudo("alice"))
	assert.False(t, domain.FlatPetitionBoard{OrgID: 1}.IsSudo(""))
}

func TestBoardSpecValidation(t *testing.T) {
	_, err := domain.BoardSpec{Kind: domain.BoardFlatPetition, Flat: &domain.FlatPetitionBoard{OrgID: 1}}.Board()
	require.Error(t, err)

	reject := decimal.RequireFromString("1.5")
	_, err = domain.BoardSpec{Kind: domain.BoardWeightedThreshold, Weighted: &domain.WeightedThresholdBoard{
		OrgID: 1, WeightedShareID: 2, VoteType: domain.VoteOneAccountOneVote,
		Threshold: domain.Threshold{Kind: domain.ThresholdPercentage, Approval: decimal.RequireFromString("0.6"), Reject: &reject},
	}}.Board()
	require.Error(t, err)

	board, err := domain.BoardSpec{Kind: domain.BoardFlatPetition, Flat: &domain.FlatPetitionBoard{OrgID: 1, FlatShareID: 4, ApprovalThreshold: 3}}.Board()
	require.NoError(t, err)
	params := board.VoteParams("topic")
	assert.Equal(t, domain.VoteKindPetition, params.Kind)
	assert.Equal(t, uint32(3), params.ApprovalSignatures)
	assert.Equal(t, domain.ShareID(4), params.Group)
}

func TestParseVoteID(t *testing.T) {
	v, err := domain.ParseVoteID("threshold:2")
	require.NoError(t, err)
	assert.Equal(t, domain.ThresholdVote(2), v)
	assert.Equal(t, "threshold:2", v.String())

	for _, bad := range []string{"", "petition", "ballot:1", "petition:x"} {
		_, err := domain.ParseVoteID(bad)
		assert.Error(t, err, bad)
	}
}
