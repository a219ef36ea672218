package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/domain"
)

func filedMilestone(t *testing.T) domain.MilestoneSubmission {
	t.Helper()
	m, err := domain.NewMilestoneSubmission(1, 11, "bafy-ms", 100)
	require.NoError(t, err)
	m.ID = 1
	return m
}

func TestMilestoneHappyPath(t *testing.T) {
	m := filedMilestone(t)
	assert.Equal(t, domain.PhaseFiled, m.Phase())

	m, err := m.StartReview(domain.Petition(4))
	require.NoError(t, err)
	m, err = m.ApproveTransfer()
	require.NoError(t, err)
	assert.True(t, m.TransferEnabled())

	_, err = m.ApproveTransfer()
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid, "transfer must be enabled at most once")
}

func TestMilestoneApproveWithoutReview(t *testing.T) {
	m := filedMilestone(t)
	got, err := m.ApproveTransfer()
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Nil(t, got.Review)
}

func TestMilestoneChangesThenApprove(t *testing.T) {
	m := filedMilestone(t)
	m, err := m.StartReview(domain.Petition(4))
	require.NoError(t, err)
	m, err = m.RequestChanges(domain.Petition(5))
	require.NoError(t, err)
	vote, ok := m.ReviewVote()
	require.True(t, ok)
	assert.Equal(t, domain.Petition(5), vote)

	_, err = m.RequestChanges(domain.Petition(6))
	require.Error(t, err)

	approved, err := m.ApproveTransfer()
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseTransferEnabled, approved.Phase())
}

func TestMilestoneResubmit(t *testing.T) {
	m := filedMilestone(t)
	_, err := m.Resubmit("bafy-v2", 90)
	require.Error(t, err)

	m, _ = m.StartReview(domain.Petition(4))
	m, _ = m.RequestChanges(domain.Petition(5))
	next, err := m.Resubmit("bafy-v2", 90)
	require.NoError(t, err)
	require.NotNil(t, next.Supersedes)
	assert.Equal(t, m.ID, *next.Supersedes)
	assert.Equal(t, domain.PhaseAwaitingResponse, next.Phase())

	reviewed, err := next.StartReview(domain.ThresholdVote(1))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseReviewStarted, reviewed.Phase())
}

func TestMilestoneStatusNeverMovesBackward(t *testing.T) {
	statuses := []domain.MilestoneStatus{
		nil,
		domain.MilestoneAwaitingResponse{},
		domain.MilestoneReviewStarted{Vote: domain.Petition(1)},
		domain.MilestoneChangesRequested{Vote: domain.Petition(2)},
		domain.MilestoneTransferEnabled{},
	}
	ops := []func(domain.MilestoneSubmission) (domain.MilestoneSubmission, error){
		func(m domain.MilestoneSubmission) (domain.MilestoneSubmission, error) { return m.StartReview(domain.Petition(9)) },
		func(m domain.MilestoneSubmission) (domain.MilestoneSubmission, error) { return m.RequestChanges(domain.Petition(9)) },
		func(m domain.MilestoneSubmission) (domain.MilestoneSubmission, error) { return m.ApproveTransfer() },
	}
	for _, st := range statuses {
		for _, op := range ops {
			m := domain.MilestoneSubmission{ApplicationID: 1, ID: 1, Review: st}
			next, err := op(m)
			if err != nil {
				assert.Equal(t, st, next.Review)
				continue
			}
			assert.Greater(t, next.Phase().Rank(), m.Phase().Rank())
		}
	}
}

func TestStatusRecordRoundTrip(t *testing.T) {
	for _, st := range []domain.MilestoneStatus{
		nil,
		domain.MilestoneAwaitingResponse{},
		domain.MilestoneReviewStarted{Vote: domain.Petition(1)},
		domain.MilestoneChangesRequested{Vote: domain.ThresholdVote(2)},
		domain.MilestoneTransferEnabled{},
	} {
		got, err := domain.StatusRecordOf(st).Status()
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
}

func TestSupersededMilestoneCannotBeApproved(t *testing.T) {
	m := filedMilestone(t)
	m, _ = m.StartReview(domain.Petition(4))
	m, _ = m.RequestChanges(domain.Petition(5))
	_, err := m.Resubmit("bafy-v2", 90)
	require.NoError(t, err)

	m.Superseded = true
	_, err = m.ApproveTransfer()
	var ce domain.ConsistencyError
	require.ErrorAs(t, err, &ce)
	_, err = m.Resubmit("bafy-v3", 90)
	require.ErrorAs(t, err, &ce)
}
