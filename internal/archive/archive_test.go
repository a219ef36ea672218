package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/domain"
)

func app(bounty domain.BountyID, id domain.ApplicationID) domain.GrantApplication {
	return domain.GrantApplication{
		ID:          id,
		BountyID:    bounty,
		Submitter:   "alice",
		Description: "bafy",
		TotalAmount: 10,
		Terms:       domain.TermsOfAgreement{Shares: []domain.ShareAllocation{{Account: "alice", Shares: 1}}},
		State:       domain.ApplicationClosed{},
	}
}

func TestPutGetAndPrefixScan(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer s.Close()

	for _, rec := range []Record{
		{Application: app(1, 2)},
		{Application: app(1, 10)},
		{Application: app(2, 3)},
		{Application: app(10, 4)},
	} {
		require.NoError(t, s.Put(ctx, rec))
	}

	got, err := s.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationClosed{}, got.Application.State)

	_, err = s.Get(ctx, 1, 3)
	require.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.ListApplications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ApplicationID(2), list[0].Application.ID)
	assert.Equal(t, domain.ApplicationID(10), list[1].Application.ID)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
