package domain_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/domain"
)

func testBounty(t *testing.T, foundation domain.OrgID) domain.BountyInformation {
	t.Helper()
	b, err := domain.NewBounty(domain.BountyParams{
		Description:             "bafy-bounty",
		FoundationID:            foundation,
		TreasuryAccount:         "treasury",
		ReservationID:           "res-1",
		FundingReserved:         500,
		ClaimedFundingAvailable: 1000,
		AcceptanceCommittee:     domain.FlatPetitionBoard{OrgID: foundation, FlatShareID: 1, ApprovalThreshold: 2},
	}, decimal.RequireFromString("0.2"))
	require.NoError(t, err)
	b.ID = 1
	return b
}

func testTerms() domain.TermsOfAgreement {
	return domain.TermsOfAgreement{
		Supervisor: "alice",
		Shares:     []domain.ShareAllocation{{Account: "alice", Shares: 10}, {Account: "bob", Shares: 5}},
	}
}

func submitted(t *testing.T) domain.GrantApplication {
	t.Helper()
	app, err := domain.NewGrantApplication(1, "alice", "bafy-app", 400, testTerms())
	require.NoError(t, err)
	app.ID = 11
	return app
}

func TestApplicationReviewScenario(t *testing.T) {
	app := submitted(t)
	assert.Equal(t, domain.ApplicationSubmitted{}, app.State)

	reviewed, err := app.StartReview(domain.Petition(1))
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationUnderReview{Vote: domain.Petition(1)}, reviewed.State)
	assert.Equal(t, domain.ApplicationSubmitted{}, app.State, "receiver must be untouched")

	_, err = reviewed.StartReview(domain.Petition(1))
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(domain.PhaseUnderReview), invalid.From)
	assert.Equal(t, []string{string(domain.PhaseSubmitted)}, invalid.Allowed)
}

func TestApproveGrantRejectsMismatchedOrg(t *testing.T) {
	bounty := testBounty(t, 3)
	app := submitted(t)
	app, err := app.StartReview(domain.Petition(1))
	require.NoError(t, err)
	app, err = app.ApproveTeamConsent(7, domain.ThresholdVote(2))
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationAwaitingTeamConsent{Share: 7, Vote: domain.ThresholdVote(2)}, app.State)

	before := app
	got, err := app.ApproveGrant(bounty, domain.TeamID{Org: 9, FlatShareID: 7, WeightedShareID: 8})
	var ce domain.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, before.State, got.State)

	team := domain.TeamID{Org: 3, FlatShareID: 7, WeightedShareID: 8}
	live, err := app.ApproveGrant(bounty, team)
	require.NoError(t, err)
	assert.True(t, live.MatchesRegisteredTeam(team))
	assert.False(t, live.MatchesRegisteredTeam(domain.TeamID{Org: 3, FlatShareID: 7, WeightedShareID: 9}))
}

func TestApproveGrantRequiresMatchingBounty(t *testing.T) {
	bounty := testBounty(t, 3)
	bounty.ID = 2
	app := submitted(t)
	app, _ = app.StartReview(domain.Petition(1))
	app, _ = app.ApproveTeamConsent(7, domain.ThresholdVote(2))
	_, err := app.ApproveGrant(bounty, domain.TeamID{Org: 3})
	var ce domain.ConsistencyError
	require.ErrorAs(t, err, &ce)
}

func TestCloseIsIdempotent(t *testing.T) {
	app := submitted(t)
	closed, err := app.Close()
	require.NoError(t, err)
	again, err := closed.Close()
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationClosed{}, closed.State)
	assert.Equal(t, closed.State, again.State)
}

func TestCloseRejectsLiveApplication(t *testing.T) {
	bounty := testBounty(t, 3)
	app := submitted(t)
	app, _ = app.StartReview(domain.Petition(1))
	app, _ = app.ApproveTeamConsent(7, domain.ThresholdVote(2))
	app, err := app.ApproveGrant(bounty, domain.TeamID{Org: 3})
	require.NoError(t, err)
	_, err = app.Close()
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestLiveExhaustive(t *testing.T) {
	cases := []struct {
		state domain.ApplicationState
		live  bool
	}{
		{domain.ApplicationSubmitted{}, true},
		{domain.ApplicationUnderReview{Vote: domain.Petition(1)}, true},
		{domain.ApplicationAwaitingTeamConsent{Share: 1, Vote: domain.Petition(2)}, false},
		{domain.ApplicationLive{Team: domain.TeamID{Org: 1}}, false},
		{domain.ApplicationClosed{}, false},
	}
	for _, tc := range cases {
		app := domain.GrantApplication{State: tc.state}
		assert.Equal(t, tc.live, app.Live(), tc.state.Phase())
	}
}

// Every operation applied from every state either moves forward, closes, or
// fails without changing the state.
func TestApplicationForwardOrClosed(t *testing.T) {
	bounty := testBounty(t, 3)
	team := domain.TeamID{Org: 3, FlatShareID: 1, WeightedShareID: 2}
	states := []domain.ApplicationState{
		domain.ApplicationSubmitted{},
		domain.ApplicationUnderReview{Vote: domain.Petition(1)},
		domain.ApplicationAwaitingTeamConsent{Share: 1, Vote: domain.Petition(2)},
		domain.ApplicationLive{Team: team},
		domain.ApplicationClosed{},
	}
	ops := map[string]func(domain.GrantApplication) (domain.GrantApplication, error){
		"start_review":  func(a domain.GrantApplication) (domain.GrantApplication, error) { return a.StartReview(domain.Petition(5)) },
		"team_consent":  func(a domain.GrantApplication) (domain.GrantApplication, error) { return a.ApproveTeamConsent(1, domain.ThresholdVote(6)) },
		"approve_grant": func(a domain.GrantApplication) (domain.GrantApplication, error) { return a.ApproveGrant(bounty, team) },
		"close":         func(a domain.GrantApplication) (domain.GrantApplication, error) { return a.Close() },
	}
	for _, st := range states {
		for name, op := range ops {
			app := domain.GrantApplication{ID: 1, BountyID: bounty.ID, State: st}
			next, err := op(app)
			if err != nil {
				assert.Equal(t, st, next.State, "%s from %s changed state on error", name, st.Phase())
				continue
			}
			from, to := st.Phase().Rank(), next.State.Phase().Rank()
			if st.Phase() == domain.PhaseClosed {
				assert.Equal(t, domain.PhaseClosed, next.State.Phase())
				continue
			}
			assert.Greater(t, to, from, "%s from %s went to %s", name, st.Phase(), next.State.Phase())
		}
	}
}

func TestStateRecordRoundTrip(t *testing.T) {
	states := []domain.ApplicationState{
		domain.ApplicationSubmitted{},
		domain.ApplicationUnderReview{Vote: domain.Petition(1)},
		domain.ApplicationAwaitingTeamConsent{Share: 7, Vote: domain.ThresholdVote(2)},
		domain.ApplicationLive{Team: domain.TeamID{Org: 3, Sudo: "alice", FlatShareID: 7, WeightedShareID: 8}},
		domain.ApplicationClosed{},
	}
	for _, st := range states {
		got, err := domain.RecordOf(st).State()
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := domain.StateRecord{Phase: domain.PhaseLive}.State()
	require.Error(t, err)
}

func TestNewGrantApplicationValidates(t *testing.T) {
	_, err := domain.NewGrantApplication(1, "alice", "x", 0, testTerms())
	require.Error(t, err)
	_, err = domain.NewGrantApplication(1, "alice", "x", 10, domain.TermsOfAgreement{})
	require.Error(t, err)
	dup := domain.TermsOfAgreement{Shares: []domain.ShareAllocation{{Account: "a", Shares: 1}, {Account: "a", Shares: 2}}}
	_, err = domain.NewGrantApplication(1, "alice", "x", 10, dup)
	require.Error(t, err)
	require.False(t, errors.Is(err, domain.ErrNotFound))
}
