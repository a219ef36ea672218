package server

import (
	"encoding/json"

	"bountyline/internal/collab"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
)

// Request payloads

type PostBountyRequest struct {
	Description             string `json:"description"`
	FoundationID            uint32 `json:"foundation_id"`
	TreasuryAccount         string `json:"treasury_account,omitempty"`
	Reserve                 uint64 `json:"reserve"`
	ClaimedFundingAvailable uint64 `json:"claimed_funding_available"`
	// Boards are given inline or by preset name from bountyline.yml.
	Acceptance        *domain.BoardSpec `json:"acceptance,omitempty"`
	AcceptancePreset  string            `json:"acceptance_preset,omitempty"`
	Supervision       *domain.BoardSpec `json:"supervision,omitempty"`
	SupervisionPreset string            `json:"supervision_preset,omitempty"`
}

type SubmitApplicationRequest struct {
	Description string                  `json:"description"`
	TotalAmount uint64                  `json:"total_amount"`
	Terms       domain.TermsOfAgreement `json:"terms"`
}

type ApproveApplicationRequest struct {
	Share uint32 `json:"share" minimum:"1"`
}

type ApproveGrantRequest struct {
	Team *domain.TeamID `json:"team,omitempty"`
}

type SubmitMilestoneRequest struct {
	Submission string         `json:"submission"`
	Amount     uint64         `json:"amount"`
	Team       *domain.TeamID `json:"team,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type BountyResponse struct {
	ID                      uint64            `json:"id"`
	Description             string            `json:"description"`
	FoundationID            uint32            `json:"foundation_id"`
	TreasuryAccount         string            `json:"treasury_account"`
	ReservationID           string            `json:"reservation_id"`
	FundingReserved         uint64            `json:"funding_reserved"`
	ClaimedFundingAvailable uint64            `json:"claimed_funding_available"`
	CollateralRatio         string            `json:"collateral_ratio"`
	Acceptance              domain.BoardSpec  `json:"acceptance"`
	Supervision             *domain.BoardSpec `json:"supervision,omitempty"`
}

type TrackerResponse struct {
	BountyID    uint64 `json:"bounty_id"`
	Received    uint64 `json:"received"`
	Due         uint64 `json:"due"`
	Outstanding uint64 `json:"outstanding"`
}

type ApplicationResponse struct {
	ID          uint64                  `json:"id"`
	BountyID    uint64                  `json:"bounty_id"`
	Submitter   string                  `json:"submitter"`
	Description string                  `json:"description"`
	TotalAmount uint64                  `json:"total_amount"`
	Terms       domain.TermsOfAgreement `json:"terms"`
	State       domain.StateRecord      `json:"state"`
	Team        *domain.TeamID          `json:"team,omitempty"`
	CreatedAt   string                  `json:"created_at"`
	UpdatedAt   string                  `json:"updated_at"`
}

type MilestoneResponse struct {
	ApplicationID uint64              `json:"application_id"`
	ID            uint64              `json:"id"`
	BountyID      uint64              `json:"bounty_id"`
	Submission    string              `json:"submission"`
	Amount        uint64              `json:"amount"`
	Review        domain.StatusRecord `json:"review"`
	Supersedes    *uint64             `json:"supersedes,omitempty"`
	Superseded    bool                `json:"superseded"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
}

type MilestoneApprovalResponse struct {
	Milestone MilestoneResponse `json:"milestone"`
	Release   domain.Release    `json:"release"`
}

type EventResponse struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts"`
	Type          string          `json:"type"`
	EntityKind    string          `json:"entity_kind" enum:"bounty,application,milestone"`
	BountyID      uint64          `json:"bounty_id,omitempty"`
	ApplicationID uint64          `json:"application_id,omitempty"`
	MilestoneID   uint64          `json:"milestone_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	Payload       json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type VoteResponse struct {
	ID         domain.VoteID     `json:"id"`
	Params     domain.VoteParams `json:"params"`
	Outcome    collab.Outcome    `json:"outcome" enum:"pending,approved,rejected"`
	CreatedAt  string            `json:"created_at"`
	ResolvedAt string            `json:"resolved_at,omitempty"`
}

type SweepResponse = engine.SweepResult

func bountyResponse(b domain.BountyInformation) BountyResponse {
	res := BountyResponse{
		ID:                      uint64(b.ID),
		Description:             string(b.Description),
		FoundationID:            uint32(b.FoundationID),
		TreasuryAccount:         string(b.TreasuryAccount),
		ReservationID:           string(b.ReservationID),
		FundingReserved:         uint64(b.FundingReserved),
		ClaimedFundingAvailable: uint64(b.ClaimedFunding),
		CollateralRatio:         b.Ratio().StringFixed(4),
		Acceptance:              domain.SpecOf(b.Acceptance),
	}
	if b.Supervision != nil {
		spec := domain.SpecOf(b.Supervision)
		res.Supervision = &spec
	}
	return res
}

func trackerResponse(t domain.BountyPaymentTracker) TrackerResponse {
	return TrackerResponse{
		BountyID:    uint64(t.BountyID),
		Received:    uint64(t.Received),
		Due:         uint64(t.Due),
		Outstanding: uint64(t.Outstanding()),
	}
}

func applicationResponse(a domain.GrantApplication) ApplicationResponse {
	res := ApplicationResponse{
		ID:          uint64(a.ID),
		BountyID:    uint64(a.BountyID),
		Submitter:   string(a.Submitter),
		Description: string(a.Description),
		TotalAmount: uint64(a.TotalAmount),
		Terms:       a.Terms,
		State:       domain.RecordOf(a.State),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if team, ok := a.Team(); ok {
		res.Team = &team
	}
	return res
}

func milestoneResponse(m domain.MilestoneSubmission) MilestoneResponse {
	res := MilestoneResponse{
		ApplicationID: uint64(m.ApplicationID),
		ID:            uint64(m.ID),
		BountyID:      uint64(m.BountyID),
		Submission:    string(m.Submission),
		Amount:        uint64(m.Amount),
		Review:        domain.StatusRecordOf(m.Review),
		Superseded:    m.Superseded,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.Supersedes != nil {
		prev := uint64(*m.Supersedes)
		res.Supersedes = &prev
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage(`{}`)
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		EntityKind:    e.EntityKind,
		BountyID:      uint64(e.BountyID),
		ApplicationID: uint64(e.ApplicationID),
		MilestoneID:   uint64(e.MilestoneID),
		ActorID:       string(e.ActorID),
		Payload:       payload,
	}
}

func mapApplications(items []domain.GrantApplication) []ApplicationResponse {
	res := make([]ApplicationResponse, 0, len(items))
	for _, a := range items {
		res = append(res, applicationResponse(a))
	}
	return res
}

func mapMilestones(items []domain.MilestoneSubmission) []MilestoneResponse {
	res := make([]MilestoneResponse, 0, len(items))
	for _, m := range items {
		res = append(res, milestoneResponse(m))
	}
	return res
}

func mapBounties(items []domain.BountyInformation) []BountyResponse {
	res := make([]BountyResponse, 0, len(items))
	for _, b := range items {
		res = append(res, bountyResponse(b))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
