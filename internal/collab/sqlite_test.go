package collab_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/collab"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/migrate"
)

func openDB(t *testing.T) collab.SQLTreasury {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return collab.SQLTreasury{DB: conn}
}

func TestTreasuryReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	tr := openDB(t)
	require.NoError(t, tr.Deposit(ctx, "fund", 1000))

	_, err := tr.Reserve(ctx, "fund", 2000)
	require.Error(t, err)
	_, err = tr.Reserve(ctx, "nobody", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := tr.Reserve(ctx, "fund", 600)
	require.NoError(t, err)
	bal, err := tr.AccountBalance(ctx, "fund")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(400), bal)

	receipt, err := tr.Release(ctx, res, 250, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, domain.Amount(250), receipt.Amount)

	left, err := tr.Balance(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(350), left)
	got, err := tr.AccountBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(250), got)

	_, err = tr.Release(ctx, res, 351, "alice")
	require.Error(t, err, "cannot release more than the reservation holds")
	_, err = tr.Balance(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVotingResolve(t *testing.T) {
	ctx := context.Background()
	v := collab.SQLVoting{DB: openDB(t).DB}

	_, err := v.OpenVote(ctx, domain.VoteParams{Kind: "ballot"})
	require.Error(t, err)

	id, err := v.OpenVote(ctx, domain.VoteParams{Kind: domain.VoteKindPetition, Org: 1, Group: 2, Topic: "bafy", ApprovalSignatures: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteKindPetition, id.Kind)

	out, err := v.Outcome(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, collab.OutcomePending, out)

	require.Error(t, v.Resolve(ctx, id, collab.OutcomePending))
	require.NoError(t, v.Resolve(ctx, id, collab.OutcomeApproved))
	require.NoError(t, v.Resolve(ctx, id, collab.OutcomeApproved), "same outcome is idempotent")
	require.Error(t, v.Resolve(ctx, id, collab.OutcomeRejected))

	rec, err := v.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.Params.ApprovalSignatures)
	assert.NotEmpty(t, rec.ResolvedAt)

	_, err = v.Outcome(ctx, domain.ThresholdVote(id.ID))
	require.ErrorIs(t, err, domain.ErrNotFound, "ids are scoped by kind")
}

func TestOrganizationMembers(t *testing.T) {
	ctx := context.Background()
	o := collab.SQLOrganization{DB: openDB(t).DB}
	require.NoError(t, o.AddMember(ctx, 1, 7, collab.Member{Account: "bob", Weight: 1}))
	require.NoError(t, o.AddMember(ctx, 1, 7, collab.Member{Account: "alice", Weight: 3}))
	require.NoError(t, o.AddMember(ctx, 1, 7, collab.Member{Account: "alice", Weight: 5}))
	require.Error(t, o.AddMember(ctx, 1, 7, collab.Member{Account: "zero"}))

	members, err := o.Members(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, []collab.Member{{Account: "alice", Weight: 5}, {Account: "bob", Weight: 1}}, members)

	ok, err := collab.IsMember(ctx, o, 1, 7, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = collab.IsMember(ctx, o, 1, 8, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}
