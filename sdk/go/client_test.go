package bountylinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/app"
	"bountyline/internal/server"
	bountylinesdk "bountyline/sdk/go"
)

func newServer(t *testing.T) string {
	t.Helper()
	ws, err := app.Open(app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	handler, err := server.New(server.Config{Engine: ws.Engine, Auth: server.AuthConfig{AllowActorHeader: true}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts.URL
}

func as(base, actor string) *bountylinesdk.Client {
	c := bountylinesdk.New(base)
	c.ActorID = actor
	return c
}

func TestClientApplicationFlow(t *testing.T) {
	ctx := context.Background()
	base := newServer(t)
	root := as(base, "root")

	bal, err := as(base, "treasury").Deposit(ctx, "treasury", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), bal)
	for _, acc := range []string{"carol", "dave"} {
		_, err := root.AddMember(ctx, 1, 1, bountylinesdk.Member{Account: acc, Weight: 1})
		require.NoError(t, err)
	}
	members, err := root.Members(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	bounty, err := as(base, "treasury").PostBounty(ctx, bountylinesdk.PostBounty{
		Description:             "bafy-bounty",
		FoundationID:            1,
		Reserve:                 400,
		ClaimedFundingAvailable: 800,
		AcceptancePreset:        "council",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.5000", bounty.CollateralRatio)
	reserved, err := root.ReservationBalance(ctx, bounty.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), reserved)

	alice := as(base, "alice")
	application, err := alice.SubmitApplication(ctx, bounty.ID, "bafy-app", 300, bountylinesdk.Terms{
		Shares: []bountylinesdk.ShareAllocation{{Account: "alice", Shares: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "submitted_awaiting_response", application.State.Phase)

	reviewed, err := as(base, "carol").StartReview(ctx, bounty.ID, application.ID)
	require.NoError(t, err)
	require.NotNil(t, reviewed.State.Vote)

	vote, err := root.ResolveVote(ctx, *reviewed.State.Vote, "approved")
	require.NoError(t, err)
	assert.Equal(t, "approved", vote.Outcome)

	listed, err := root.ListApplications(ctx, bounty.ID, "under_review_by_acceptance_committee")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, application.ID, listed[0].ID)

	page, err := root.EventsPage(ctx, bountylinesdk.EventQuery{Bounty: bounty.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "application.review_started", page.Items[0].Type)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	base := newServer(t)

	_, err := as(base, "root").GetBounty(ctx, 999)
	var apiErr *bountylinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = bountylinesdk.New(base).ListBounties(ctx, 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
