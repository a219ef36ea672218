package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MilestonePhase names a MilestoneStatus variant; PhaseFiled stands for a
// record with no review status yet.
type MilestonePhase string

const (
	PhaseFiled            MilestonePhase = "filed"
	PhaseAwaitingResponse MilestonePhase = "submitted_awaiting_response"
	PhaseReviewStarted    MilestonePhase = "submitted_review_started"
	PhaseChangesRequested MilestonePhase = "changes_requested_awaiting_changes"
	PhaseTransferEnabled  MilestonePhase = "approved_and_transfer_enabled"
)

func (p MilestonePhase) Rank() int {
	switch p {
	case PhaseFiled, PhaseAwaitingResponse:
		return 0
	case PhaseReviewStarted:
		return 1
	case PhaseChangesRequested:
		return 2
	case PhaseTransferEnabled:
		return 3
	default:
		return -1
	}
}

type MilestoneStatus interface {
	Phase() MilestonePhase
	isMilestoneStatus()
}

type MilestoneAwaitingResponse struct{}

type MilestoneReviewStarted struct {
	Vote VoteID
}

type MilestoneChangesRequested struct {
	Vote VoteID
}

type MilestoneTransferEnabled struct{}

func (MilestoneAwaitingResponse) Phase() MilestonePhase { return PhaseAwaitingResponse }
func (MilestoneReviewStarted) Phase() MilestonePhase    { return PhaseReviewStarted }
func (MilestoneChangesRequested) Phase() MilestonePhase { return PhaseChangesRequested }
func (MilestoneTransferEnabled) Phase() MilestonePhase  { return PhaseTransferEnabled }

func (MilestoneAwaitingResponse) isMilestoneStatus() {}
func (MilestoneReviewStarted) isMilestoneStatus()    {}
func (MilestoneChangesRequested) isMilestoneStatus() {}
func (MilestoneTransferEnabled) isMilestoneStatus()  {}

// MilestoneSubmission is one unit of delivered work. Review is nil while the
// record is freshly filed. A resubmission after a change request is a new
// record pointing at the one it supersedes; the old record is marked
// Superseded and can no longer be approved.
type MilestoneSubmission struct {
	ApplicationID ApplicationID
	ID            MilestoneID
	BountyID      BountyID
	Submission    Hash
	Amount        Amount
	Review        MilestoneStatus
	Supersedes    *MilestoneID
	Superseded    bool
	CreatedAt     string
	UpdatedAt     string
}

func NewMilestoneSubmission(bounty BountyID, app ApplicationID, submission Hash, amount Amount) (MilestoneSubmission, error) {
	if amount == 0 {
		return MilestoneSubmission{}, errors.New("milestone amount must be positive")
	}
	if submission == "" {
		return MilestoneSubmission{}, errors.New("milestone submission hash is required")
	}
	return MilestoneSubmission{
		BountyID:      bounty,
		ApplicationID: app,
		Submission:    submission,
		Amount:        amount,
	}, nil
}

// Resubmit files the replacement for a record whose changes were requested.
func (m MilestoneSubmission) Resubmit(submission Hash, amount Amount) (MilestoneSubmission, error) {
	if _, ok := m.Review.(MilestoneChangesRequested); !ok {
		return MilestoneSubmission{}, m.invalid("resubmit", PhaseChangesRequested)
	}
	if m.Superseded {
		return MilestoneSubmission{}, m.superseded()
	}
	next, err := NewMilestoneSubmission(m.BountyID, m.ApplicationID, submission, amount)
	if err != nil {
		return MilestoneSubmission{}, err
	}
	prev := m.ID
	next.Supersedes = &prev
	next.Review = MilestoneAwaitingResponse{}
	return next, nil
}

func (m MilestoneSubmission) Phase() MilestonePhase {
	if m.Review == nil {
		return PhaseFiled
	}
	return m.Review.Phase()
}

func (m MilestoneSubmission) invalid(op string, allowed ...MilestonePhase) error {
	names := make([]string, len(allowed))
	for i, p := range allowed {
		names[i] = string(p)
	}
	return InvalidTransitionError{
		Entity:    fmt.Sprintf("milestone %d/%d", m.ApplicationID, m.ID),
		Operation: op,
		From:      string(m.Phase()),
		Allowed:   names,
	}
}

func (m MilestoneSubmission) superseded() error {
	return consistencyf("milestone %d/%d was superseded by a resubmission", m.ApplicationID, m.ID)
}

func (m MilestoneSubmission) StartReview(vote VoteID) (MilestoneSubmission, error) {
	if vote.IsZero() {
		return m, errors.New("milestone review requires a vote id")
	}
	switch m.Review.(type) {
	case nil, MilestoneAwaitingResponse:
	default:
		return m, m.invalid("start_milestone_review", PhaseFiled, PhaseAwaitingResponse)
	}
	m.Review = MilestoneReviewStarted{Vote: vote}
	return m, nil
}

func (m MilestoneSubmission) RequestChanges(vote VoteID) (MilestoneSubmission, error) {
	if vote.IsZero() {
		return m, errors.New("change request requires a vote id")
	}
	if _, ok := m.Review.(MilestoneReviewStarted); !ok {
		return m, m.invalid("request_changes", PhaseReviewStarted)
	}
	m.Review = MilestoneChangesRequested{Vote: vote}
	return m, nil
}

// ApproveTransfer is the single authorization point for releasing Amount.
// MilestoneTransferEnabled is terminal, so a record reaches it at most once.
func (m MilestoneSubmission) ApproveTransfer() (MilestoneSubmission, error) {
	switch m.Review.(type) {
	case MilestoneReviewStarted, MilestoneChangesRequested:
	default:
		return m, m.invalid("approve_transfer", PhaseReviewStarted, PhaseChangesRequested)
	}
	if m.Superseded {
		return m, m.superseded()
	}
	m.Review = MilestoneTransferEnabled{}
	return m, nil
}

func (m MilestoneSubmission) TransferEnabled() bool {
	_, ok := m.Review.(MilestoneTransferEnabled)
	return ok
}

// ReviewVote is the vote attached to the current status, if any.
func (m MilestoneSubmission) ReviewVote() (VoteID, bool) {
	switch s := m.Review.(type) {
	case MilestoneReviewStarted:
		return s.Vote, true
	case MilestoneChangesRequested:
		return s.Vote, true
	default:
		return VoteID{}, false
	}
}

// StatusRecord is the flat persisted form of a MilestoneStatus.
type StatusRecord struct {
	Phase MilestonePhase `json:"phase"`
	Vote  *VoteID        `json:"vote,omitempty"`
}

func StatusRecordOf(s MilestoneStatus) StatusRecord {
	switch v := s.(type) {
	case MilestoneAwaitingResponse:
		return StatusRecord{Phase: PhaseAwaitingResponse}
	case MilestoneReviewStarted:
		return StatusRecord{Phase: PhaseReviewStarted, Vote: &v.Vote}
	case MilestoneChangesRequested:
		return StatusRecord{Phase: PhaseChangesRequested, Vote: &v.Vote}
	case MilestoneTransferEnabled:
		return StatusRecord{Phase: PhaseTransferEnabled}
	default:
		return StatusRecord{Phase: PhaseFiled}
	}
}

func (r StatusRecord) Status() (MilestoneStatus, error) {
	switch r.Phase {
	case PhaseFiled, "":
		return nil, nil
	case PhaseAwaitingResponse:
		return MilestoneAwaitingResponse{}, nil
	case PhaseReviewStarted:
		if r.Vote == nil {
			return nil, errors.New("review started status missing vote")
		}
		return MilestoneReviewStarted{Vote: *r.Vote}, nil
	case PhaseChangesRequested:
		if r.Vote == nil {
			return nil, errors.New("changes requested status missing vote")
		}
		return MilestoneChangesRequested{Vote: *r.Vote}, nil
	case PhaseTransferEnabled:
		return MilestoneTransferEnabled{}, nil
	default:
		return nil, fmt.Errorf("unknown milestone phase %q", r.Phase)
	}
}

type milestoneJSON struct {
	ApplicationID ApplicationID `json:"application_id"`
	ID            MilestoneID   `json:"id"`
	BountyID      BountyID      `json:"bounty_id"`
	Submission    Hash          `json:"submission"`
	Amount        Amount        `json:"amount"`
	Review        StatusRecord  `json:"review"`
	Supersedes    *MilestoneID  `json:"supersedes,omitempty"`
	Superseded    bool          `json:"superseded,omitempty"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
}

func (m MilestoneSubmission) MarshalJSON() ([]byte, error) {
	return json.Marshal(milestoneJSON{
		ApplicationID: m.ApplicationID,
		ID:            m.ID,
		BountyID:      m.BountyID,
		Submission:    m.Submission,
		Amount:        m.Amount,
		Review:        StatusRecordOf(m.Review),
		Supersedes:    m.Supersedes,
		Superseded:    m.Superseded,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	})
}

func (m *MilestoneSubmission) UnmarshalJSON(data []byte) error {
	var raw milestoneJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := raw.Review.Status()
	if err != nil {
		return err
	}
	*m = MilestoneSubmission{
		ApplicationID: raw.ApplicationID,
		ID:            raw.ID,
		BountyID:      raw.BountyID,
		Submission:    raw.Submission,
		Amount:        raw.Amount,
		Review:        st,
		Supersedes:    raw.Supersedes,
		Superseded:    raw.Superseded,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
	}
	return nil
}
