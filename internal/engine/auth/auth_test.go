package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/collab"
	"bountyline/internal/domain"
)

type staticOrg map[domain.ShareID][]domain.AccountID

func (o staticOrg) Members(_ context.Context, _ domain.OrgID, share domain.ShareID) ([]collab.Member, error) {
	var res []collab.Member
	for _, acc := range o[share] {
		res = append(res, collab.Member{Account: acc, Weight: 1})
	}
	return res, nil
}

type staticVotes map[domain.VoteID]collab.Outcome

func (v staticVotes) OpenVote(context.Context, domain.VoteParams) (domain.VoteID, error) {
	return domain.VoteID{}, nil
}

func (v staticVotes) Outcome(_ context.Context, id domain.VoteID) (collab.Outcome, error) {
	o, ok := v[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return o, nil
}

func TestBoardMember(t *testing.T) {
	ctx := context.Background()
	s := Service{Org: staticOrg{1: {"carol"}}}
	board := domain.FlatPetitionBoard{Sudo: "root", OrgID: 3, FlatShareID: 1, ApprovalThreshold: 1}

	require.NoError(t, s.BoardMember(ctx, board, "root", "review"))
	require.NoError(t, s.BoardMember(ctx, board, "carol", "review"))

	err := s.BoardMember(ctx, board, "mallory", "review")
	var ue domain.UnauthorizedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.AccountID("mallory"), ue.Account)
	require.Error(t, s.BoardMember(ctx, board, "", "review"))
}

func TestDecision(t *testing.T) {
	ctx := context.Background()
	votes := staticVotes{domain.Petition(1): collab.OutcomeApproved, domain.Petition(2): collab.OutcomePending}
	s := Service{Voting: votes}
	board := domain.FlatPetitionBoard{Sudo: "root", OrgID: 3, FlatShareID: 1, ApprovalThreshold: 1}

	require.NoError(t, s.Decision(ctx, board, domain.Petition(1), collab.OutcomeApproved, "anyone", "approve"))
	require.NoError(t, s.Decision(ctx, board, domain.Petition(2), collab.OutcomeApproved, "root", "approve"))

	var ue domain.UnauthorizedError
	require.ErrorAs(t, s.Decision(ctx, board, domain.Petition(2), collab.OutcomeApproved, "anyone", "approve"), &ue)
	require.ErrorAs(t, s.Decision(ctx, board, domain.Petition(1), collab.OutcomeRejected, "anyone", "close"), &ue)
}

func TestTeamMember(t *testing.T) {
	ctx := context.Background()
	s := Service{Org: staticOrg{7: {"alice"}, 8: {"bob"}}}
	team := domain.TeamID{Org: 3, FlatShareID: 7, WeightedShareID: 8}
	require.NoError(t, s.TeamMember(ctx, team, "alice", "submit"))
	require.NoError(t, s.TeamMember(ctx, team, "bob", "submit"))
	require.Error(t, s.TeamMember(ctx, team, "carol", "submit"))

	team.Sudo = "carol"
	require.NoError(t, s.TeamMember(ctx, team, "carol", "submit"))
}
